// Package prefetch computes and caches the per-barangay dashboard summary
// warmed when a session becomes usable.
package prefetch

import "time"

// Metric names one dashboard counter.
type Metric string

const (
	MetricResidents       Metric = "residents"
	MetricHouseholds      Metric = "households"
	MetricPendingRequests Metric = "pending_requests"
	MetricOpenEmergencies Metric = "open_emergencies"
	MetricNewFeedback     Metric = "new_feedback"
	MetricUpcomingEvents  Metric = "upcoming_events"
)

// Metrics lists every counter in display order.
var Metrics = []Metric{
	MetricResidents,
	MetricHouseholds,
	MetricPendingRequests,
	MetricOpenEmergencies,
	MetricNewFeedback,
	MetricUpcomingEvents,
}

// Summary is the cached dashboard payload of one barangay.
type Summary struct {
	BarangayID  int64            `json:"barangay_id"`
	Counts      map[Metric]int64 `json:"counts"`
	GeneratedAt time.Time        `json:"generated_at"`
}
