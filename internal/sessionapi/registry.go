package sessionapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/barangay-portal/portal/internal/gate"
	"github.com/barangay-portal/portal/internal/rbac"
	"github.com/barangay-portal/portal/internal/shared"
)

// DefaultIdle is how long a tab may stay silent before Sweep reclaims its gate.
const DefaultIdle = 2 * time.Hour

// Factory builds the gate for a newly seen tab.
type Factory func(tabID string, outbox *Outbox) (*gate.Gate, error)

// NewFactory copies base for every tab, routing navigation and notices to the
// tab outbox and artifact purges to the tab session.
func NewFactory(base gate.Deps, sessions *shared.SessionManager) Factory {
	return func(tabID string, outbox *Outbox) (*gate.Gate, error) {
		deps := base
		deps.Navigator = outbox
		deps.Notifier = outbox
		if sessions != nil {
			deps.Artifacts = sessionPurger{sessions: sessions, id: tabID}
		}
		return gate.New(deps)
	}
}

type sessionPurger struct {
	sessions *shared.SessionManager
	id       string
}

func (p sessionPurger) ClearArtifacts(ctx context.Context) error {
	return p.sessions.Purge(ctx, p.id)
}

// Tab is one browser tab known to the registry.
type Tab struct {
	ID     string
	Gate   *gate.Gate
	Outbox *Outbox

	seen time.Time
}

// Registry owns one gate per tab session.
type Registry struct {
	factory Factory
	logger  *slog.Logger
	idle    time.Duration
	now     func() time.Time

	mu   sync.Mutex
	tabs map[string]*Tab
}

// NewRegistry constructs a Registry.
func NewRegistry(factory Factory, logger *slog.Logger, idle time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Registry{
		factory: factory,
		logger:  logger,
		idle:    idle,
		now:     time.Now,
		tabs:    make(map[string]*Tab),
	}
}

// Acquire returns the tab for id, creating its gate on first sight.
func (r *Registry) Acquire(id string) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tab, ok := r.tabs[id]; ok {
		tab.seen = r.now()
		return tab, nil
	}
	outbox := &Outbox{}
	g, err := r.factory(id, outbox)
	if err != nil {
		return nil, err
	}
	tab := &Tab{ID: id, Gate: g, Outbox: outbox, seen: r.now()}
	r.tabs[id] = tab
	return tab, nil
}

// Lookup returns an existing tab without creating one.
func (r *Registry) Lookup(id string) (*Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[id]
	if ok {
		tab.seen = r.now()
	}
	return tab, ok
}

// Release closes and forgets the tab.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	tab, ok := r.tabs[id]
	delete(r.tabs, id)
	r.mu.Unlock()
	if ok {
		tab.Gate.Close()
	}
}

// Sweep reclaims tabs idle for longer than the configured window. Signed-in
// tabs are marked offline as if they had been closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)
	var stale []*Tab
	r.mu.Lock()
	for id, tab := range r.tabs {
		if tab.seen.Before(cutoff) {
			stale = append(stale, tab)
			delete(r.tabs, id)
		}
	}
	r.mu.Unlock()

	for _, tab := range stale {
		tab.Gate.Unload()
		tab.Gate.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("session tabs swept", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Len reports the number of live tabs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// Close releases every tab.
func (r *Registry) Close() {
	r.mu.Lock()
	tabs := r.tabs
	r.tabs = make(map[string]*Tab)
	r.mu.Unlock()
	for _, tab := range tabs {
		tab.Gate.Close()
	}
}

// ViewerFor resolves the request's viewer from its tab gate. Only fully usable
// sessions yield a viewer.
func (r *Registry) ViewerFor(req *http.Request) (rbac.Viewer, bool) {
	id, ok := shared.TabIDFromContext(req.Context())
	if !ok {
		return rbac.Viewer{}, false
	}
	tab, ok := r.Lookup(id)
	if !ok {
		return rbac.Viewer{}, false
	}
	snap := tab.Gate.Snapshot()
	if !snap.Usable() {
		return rbac.Viewer{}, false
	}
	return rbac.Viewer{
		UserID:     snap.Profile.ID,
		Role:       snap.Profile.Role,
		BarangayID: snap.Profile.BarangayID,
	}, true
}

var _ rbac.ViewerSource = (*Registry)(nil)
