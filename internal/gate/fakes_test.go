package gate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/barangay-portal/portal/internal/gate"
	"github.com/barangay-portal/portal/internal/identity"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

var errStore = errors.New("store unavailable")

type fakeProfiles struct {
	mu          sync.Mutex
	profile     profiles.Profile
	profileErr  error
	role        profiles.Role
	roleErr     error
	statusErr   error
	approved    bool
	barangayErr error
	online      []bool
	lastLogins  int
	entered     chan struct{}
	release     chan struct{}
	panicking   bool
}

func newFakeProfiles(p profiles.Profile) *fakeProfiles {
	return &fakeProfiles{profile: p, role: p.Role, approved: true}
}

func (f *fakeProfiles) Profile(ctx context.Context, id uuid.UUID) (profiles.Profile, error) {
	f.mu.Lock()
	entered, release, panicking := f.entered, f.release, f.panicking
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if panicking {
		panic("profile decoder exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return profiles.Profile{}, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeProfiles) Status(ctx context.Context, id uuid.UUID) (profiles.StatusCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return profiles.StatusCheck{}, f.statusErr
	}
	return profiles.StatusCheck{Status: f.profile.Status, MustReset: f.profile.MustReset}, nil
}

func (f *fakeProfiles) Role(ctx context.Context, id uuid.UUID) (profiles.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return "", f.roleErr
	}
	return f.role, nil
}

func (f *fakeProfiles) BarangayApproved(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approved, f.barangayErr
}

func (f *fakeProfiles) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, online)
	return nil
}

func (f *fakeProfiles) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogins++
	return nil
}

func (f *fakeProfiles) setStatus(status profiles.Status, locked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile.Status = status
	f.profile.MustReset = locked
}

func (f *fakeProfiles) onlineWrites() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.online...)
}

type fakeSettings struct {
	values map[string]string
	err    error
	put    map[string]string
}

func (f *fakeSettings) Settings(ctx context.Context, id uuid.UUID) (map[string]string, error) {
	return f.values, f.err
}

func (f *fakeSettings) PutSettings(ctx context.Context, id uuid.UUID, values map[string]string) error {
	f.put = values
	return f.err
}

// tab records everything the gate asks the outside world to do.
type tab struct {
	mu          sync.Mutex
	navigations []string
	notices     []gate.Notice
	signOuts    int
	signOutErr  error
	cleared     int
	audits      []string
	decisions   []string
	warmed      chan int64
	offline     chan uuid.UUID
	beaconGate  chan struct{}
}

func newTab() *tab {
	return &tab{warmed: make(chan int64, 4), offline: make(chan uuid.UUID, 4)}
}

func (t *tab) Navigate(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.navigations = append(t.navigations, route)
}

func (t *tab) Notify(n gate.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notices = append(t.notices, n)
}

func (t *tab) SignOut(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signOuts++
	return t.signOutErr
}

func (t *tab) ClearArtifacts(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleared++
	return nil
}

func (t *tab) Record(ctx context.Context, log shared.AuditLog) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audits = append(t.audits, log.Action)
	return nil
}

func (t *tab) RecordGateDecision(event, outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decisions = append(t.decisions, event+":"+outcome)
}

func (t *tab) Warm(ctx context.Context, barangayID int64) error {
	t.warmed <- barangayID
	return nil
}

func (t *tab) EnqueueOffline(ctx context.Context, id uuid.UUID) error {
	if t.beaconGate != nil {
		<-t.beaconGate
	}
	t.offline <- id
	return nil
}

func (t *tab) routes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.navigations...)
}

func (t *tab) noticeList() []gate.Notice {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]gate.Notice(nil), t.notices...)
}

func (t *tab) counts() (signOuts, cleared int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signOuts, t.cleared
}

type fakeScheduler struct {
	mu      sync.Mutex
	next    cron.EntryID
	jobs    map[cron.EntryID]func()
	specs   []string
	removed []cron.EntryID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[cron.EntryID]func())}
}

func (s *fakeScheduler) AddFunc(spec string, cmd func()) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.jobs[s.next] = cmd
	s.specs = append(s.specs, spec)
	return s.next, nil
}

func (s *fakeScheduler) Remove(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	s.removed = append(s.removed, id)
}

// fire runs every registered job once, synchronously.
func (s *fakeScheduler) fire() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	jobs := make([]func(), 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, s.jobs[cron.EntryID(id)])
	}
	s.mu.Unlock()
	for _, job := range jobs {
		job()
	}
}

func (s *fakeScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type fixture struct {
	gate      *gate.Gate
	profiles  *fakeProfiles
	settings  *fakeSettings
	tab       *tab
	scheduler *fakeScheduler
	principal identity.Principal
}

func approvedProfile(role profiles.Role) profiles.Profile {
	barangay := int64(12)
	return profiles.Profile{
		ID:         uuid.New(),
		BarangayID: &barangay,
		FullName:   "Juan Dela Cruz",
		Role:       role,
		Status:     profiles.StatusApproved,
	}
}

func newFixture(p profiles.Profile) *fixture {
	store := newFakeProfiles(p)
	settings := &fakeSettings{values: map[string]string{}}
	t := newTab()
	sched := newFakeScheduler()
	g, err := gate.New(gate.Deps{
		Profiles:  store,
		Settings:  settings,
		Provider:  t,
		Artifacts: t,
		Navigator: t,
		Notifier:  t,
		Prefetch:  t,
		Beacon:    t,
		Audit:     t,
		Metrics:   t,
		Scheduler: sched,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		panic(err)
	}
	return &fixture{
		gate:      g,
		profiles:  store,
		settings:  settings,
		tab:       t,
		scheduler: sched,
		principal: identity.Principal{
			ID:        p.ID,
			Email:     "juan@brgy.local",
			Assurance: identity.Assurance{Current: identity.LevelAAL1, Next: identity.LevelAAL1},
		},
	}
}

func (f *fixture) signIn() gate.Decision {
	p := f.principal
	return f.gate.HandleEvent(context.Background(), gate.AuthEvent{
		Kind:      gate.EventSignedIn,
		Principal: &p,
		Route:     gate.RouteSignIn,
		Visible:   true,
	})
}
