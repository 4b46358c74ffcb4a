// Package sessionapi exposes the per-tab session gate over HTTP.
package sessionapi

import (
	"sync"

	"github.com/barangay-portal/portal/internal/gate"
)

// maxPending bounds each outbox queue; the oldest entries are dropped first.
const maxPending = 32

// Outbox collects what the gate asked a tab to do until the tab polls for it.
type Outbox struct {
	mu          sync.Mutex
	navigations []string
	notices     []gate.Notice
}

// Navigate queues a navigation.
func (o *Outbox) Navigate(route string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.navigations = appendBounded(o.navigations, route)
}

// Notify queues a notice.
func (o *Outbox) Notify(n gate.Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = appendBounded(o.notices, n)
}

// Drain returns and clears everything queued so far.
func (o *Outbox) Drain() ([]string, []gate.Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	navigations, notices := o.navigations, o.notices
	o.navigations, o.notices = nil, nil
	if navigations == nil {
		navigations = []string{}
	}
	if notices == nil {
		notices = []gate.Notice{}
	}
	return navigations, notices
}

func appendBounded[T any](queue []T, item T) []T {
	queue = append(queue, item)
	if len(queue) > maxPending {
		queue = queue[len(queue)-maxPending:]
	}
	return queue
}
