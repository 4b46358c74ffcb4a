package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries presence writes that should not wait behind warmups.
	QueueCritical = "critical"

	// TaskPresenceOffline marks a profile offline after its tab unloaded.
	TaskPresenceOffline = "presence:offline"
	// TaskPrefetchWarmup rebuilds cached dashboard summaries.
	TaskPrefetchWarmup = "prefetch:warmup"
)

// PresenceOfflinePayload identifies the profile to mark offline.
type PresenceOfflinePayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// NewPresenceOfflineTask constructs an Asynq task for the offline beacon.
func NewPresenceOfflineTask(userID uuid.UUID) (*asynq.Task, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("jobs: presence offline requires a user id")
	}
	data, err := json.Marshal(PresenceOfflinePayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPresenceOffline, data, asynq.MaxRetry(3), asynq.Queue(QueueCritical)), nil
}

// PrefetchWarmupPayload restricts a warmup to the listed barangays. An empty
// list warms every approved barangay.
type PrefetchWarmupPayload struct {
	BarangayIDs []int64 `json:"barangay_ids,omitempty"`
}

// NewPrefetchWarmupTask constructs an Asynq task for the dashboard warmup.
func NewPrefetchWarmupTask(barangayIDs ...int64) (*asynq.Task, error) {
	data, err := json.Marshal(PrefetchWarmupPayload{BarangayIDs: barangayIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrefetchWarmup, data, asynq.MaxRetry(3), asynq.Queue(QueueDefault)), nil
}
