package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barangay-portal/portal/internal/identity"
	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

// Gate owns the session state of one browser tab.
//
// State is guarded by mu; collaborator calls run without it. Every chain
// captures the epoch before its first suspension point and stops mutating
// state once the epoch moved or the gate was closed.
type Gate struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	bg     context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	phase          Phase
	principal      *identity.Principal
	profile        *profiles.Profile
	settings       profiles.Settings
	route          string
	reason         BlockReason
	restricted     bool
	initialHandled bool
	epoch          uint64
	closed         bool
	poll           *PollHandle
}

// New constructs a Gate in the unauthenticated phase.
func New(deps Deps) (*Gate, error) {
	if deps.Profiles == nil {
		return nil, errors.New("gate: profile store required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Gate{
		deps:     deps,
		logger:   deps.Logger,
		now:      now,
		bg:       bg,
		cancel:   cancel,
		phase:    PhaseUnauthenticated,
		settings: profiles.DefaultSettings(),
	}, nil
}

// HandleEvent applies one auth-provider event.
func (g *Gate) HandleEvent(ctx context.Context, ev AuthEvent) Decision {
	var d Decision
	switch ev.Kind {
	case EventSignedIn:
		d = g.signedIn(ctx, ev)
	case EventSignedOut:
		d = g.signedOut()
	case EventTokenRefreshed, EventInitialSession:
		d = g.refresh(ctx, ev)
	case EventPasswordRecovery:
		d = g.passwordRecovery(ctx, ev)
	default:
		g.logger.Warn("gate ignored unknown event", slog.String("event", string(ev.Kind)))
		d = Decision{Phase: g.Snapshot().Phase, Ignored: true}
	}
	d.Event = ev.Kind
	g.record(ev.Kind, d)
	return d
}

// SetRoute reports the route active in the tab.
func (g *Gate) SetRoute(route string) {
	g.mu.Lock()
	g.route = route
	g.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := Snapshot{
		Phase:      g.phase,
		Settings:   g.settings,
		Route:      g.route,
		Reason:     g.reason,
		Restricted: g.restricted,
		Polling:    g.poll != nil,
	}
	if g.principal != nil {
		p := *g.principal
		snap.Principal = &p
	}
	if g.profile != nil {
		p := *g.profile
		snap.Profile = &p
	}
	return snap
}

func (g *Gate) signedIn(ctx context.Context, ev AuthEvent) Decision {
	if ev.Principal == nil {
		g.logger.Warn("gate signed-in event without principal")
		return Decision{Phase: g.Snapshot().Phase, Ignored: true}
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Decision{Phase: PhaseSignedOut, Ignored: true}
	}
	if ev.Route != "" {
		g.route = ev.Route
	}
	if g.initialHandled || ev.Route != RouteSignIn || !ev.Visible {
		g.mu.Unlock()
		return g.refresh(ctx, ev)
	}
	g.initialHandled = true
	principal := *ev.Principal
	g.principal = &principal
	g.profile = nil
	g.reason = ReasonNone
	g.restricted = false
	g.phase = PhaseAuthenticating
	epoch := g.epoch
	g.mu.Unlock()

	return g.signInChain(ctx, epoch, principal)
}

func (g *Gate) signInChain(ctx context.Context, epoch uint64, principal identity.Principal) (d Decision) {
	defer g.recoverChain(epoch, &d)

	profile, reason := g.evaluate(ctx, principal.ID)
	route, ok := g.commit(epoch, profile, reason)
	if !ok {
		return g.stale()
	}
	if reason != ReasonNone && !exempt(reason, route) {
		return g.forceBlock(ctx, epoch, reason)
	}

	if !g.enterUsable(ctx, epoch, principal, profile, true) {
		return g.stale()
	}

	d = Decision{Phase: PhaseUsable}
	switch {
	case reason != ReasonNone:
		// lock waived on the reset route; stay put
		d.Reason = reason
	case principal.Assurance.ChallengePending():
		d.Challenge = true
		d.Navigate = RouteSignIn
	default:
		dest, err := Destination(profile.Role)
		if err != nil {
			return g.forceBlock(ctx, epoch, ReasonProfileUnavailable)
		}
		d.Navigate = dest
	}
	if d.Navigate != "" {
		g.navigate(d.Navigate)
	}
	return d
}

// refresh reloads the profile without side effects and never navigates.
func (g *Gate) refresh(ctx context.Context, ev AuthEvent) Decision {
	d, _ := g.reload(ctx, ev)
	return d
}

func (g *Gate) reload(ctx context.Context, ev AuthEvent) (Decision, uint64) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Decision{Phase: PhaseSignedOut, Ignored: true}, 0
	}
	if ev.Route != "" {
		g.route = ev.Route
	}
	if g.phase == PhaseAuthenticating {
		g.mu.Unlock()
		return Decision{Phase: PhaseAuthenticating, Ignored: true}, 0
	}
	principal := g.principal
	if ev.Principal != nil {
		p := *ev.Principal
		principal = &p
	}
	if principal == nil {
		phase := g.phase
		g.mu.Unlock()
		return Decision{Phase: phase, Ignored: true}, 0
	}
	g.principal = principal
	current := *principal
	previous := g.phase
	epoch := g.epoch
	g.mu.Unlock()

	profile, reason := g.evaluate(ctx, current.ID)
	route, ok := g.commit(epoch, profile, reason)
	if !ok {
		return g.stale(), epoch
	}
	d := Decision{Phase: PhaseUsable, Reason: reason}
	if reason != ReasonNone && !exempt(reason, route) {
		d.Phase = PhaseBlocked
		return d, epoch
	}
	if previous != PhaseUsable && !g.enterUsable(ctx, epoch, current, profile, false) {
		return g.stale(), epoch
	}
	return d, epoch
}

// enterUsable runs the side effects of a session becoming usable: mark online,
// record the sign-in when signIn is set, warm prefetch and load preferences.
// It reports false once the chain is no longer current.
func (g *Gate) enterUsable(ctx context.Context, epoch uint64, principal identity.Principal, profile profiles.Profile, signIn bool) bool {
	if err := g.deps.Profiles.SetOnline(ctx, principal.ID, true); err != nil {
		g.logger.Warn("gate mark online", slog.String("user_id", principal.ID.String()), slog.Any("error", err))
	}
	if !g.current(epoch) {
		return false
	}
	if signIn {
		g.recordSignIn(ctx, principal)
		if !g.current(epoch) {
			return false
		}
	}
	g.warm(profile)
	settings := g.loadSettings(ctx, principal.ID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || epoch != g.epoch {
		return false
	}
	g.settings = settings
	return true
}

// passwordRecovery moves the tab to the reset route, where a locked account
// stays usable until the lock is cleared. Any other block is enforced.
func (g *Gate) passwordRecovery(ctx context.Context, ev AuthEvent) Decision {
	ev.Route = RoutePasswordReset
	d, epoch := g.reload(ctx, ev)
	if d.Ignored {
		return d
	}
	if d.Phase == PhaseBlocked {
		return g.forceBlock(ctx, epoch, d.Reason)
	}
	d.Navigate = RoutePasswordReset
	g.navigate(RoutePasswordReset)
	return d
}

func (g *Gate) signedOut() Decision {
	g.mu.Lock()
	g.resetLocked(PhaseSignedOut)
	handle := g.poll
	g.poll = nil
	g.mu.Unlock()
	g.stopPoll(handle)
	return Decision{Phase: PhaseSignedOut}
}

// evaluate loads everything the usability invariant depends on. Failing to
// read the profile or barangay yields ReasonProfileUnavailable; a role-store
// failure falls back to the profile's own role column.
func (g *Gate) evaluate(ctx context.Context, id uuid.UUID) (profiles.Profile, BlockReason) {
	profile, err := g.deps.Profiles.Profile(ctx, id)
	if err != nil {
		g.logger.Warn("gate load profile", slog.String("user_id", id.String()), slog.Any("error", err))
		return profiles.Profile{}, ReasonProfileUnavailable
	}
	role, err := g.deps.Profiles.Role(ctx, id)
	switch {
	case err == nil:
		profile.Role = role
	case errors.Is(err, shared.ErrNotFound):
		g.logger.Debug("gate no role assignment, using profile role", slog.String("user_id", id.String()))
	default:
		g.logger.Warn("gate load role, using profile role", slog.String("user_id", id.String()), slog.Any("error", err))
	}
	if _, err := profiles.ParseRole(string(profile.Role)); err != nil {
		return profile, ReasonProfileUnavailable
	}

	if reason := statusReason(profile.Status); reason != ReasonNone {
		return profile, reason
	}
	if profile.HasBarangay() {
		approved, err := g.deps.Profiles.BarangayApproved(ctx, *profile.BarangayID)
		if err != nil {
			g.logger.Warn("gate load barangay", slog.Int64("barangay_id", *profile.BarangayID), slog.Any("error", err))
			return profile, ReasonProfileUnavailable
		}
		if !approved {
			return profile, ReasonBarangayPending
		}
	}
	if profile.MustReset {
		return profile, ReasonLocked
	}
	return profile, ReasonNone
}

// commit stores an evaluation if the chain is still current and returns the
// active route it was judged against.
func (g *Gate) commit(epoch uint64, profile profiles.Profile, reason BlockReason) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || epoch != g.epoch {
		return "", false
	}
	if profile.ID != uuid.Nil {
		p := profile
		g.profile = &p
	}
	g.reason = reason
	g.restricted = reason != ReasonNone && exempt(reason, g.route)
	if reason == ReasonNone || g.restricted {
		g.phase = PhaseUsable
	} else {
		g.phase = PhaseBlocked
	}
	return g.route, true
}

// forceBlock terminates the session for reason: notice, sign-out, and a
// return to the sign-in route.
func (g *Gate) forceBlock(ctx context.Context, epoch uint64, reason BlockReason) Decision {
	g.mu.Lock()
	if g.closed || epoch != g.epoch {
		g.mu.Unlock()
		return g.stale()
	}
	principal := g.principal
	g.resetLocked(PhaseBlocked)
	g.reason = reason
	handle := g.poll
	g.poll = nil
	g.mu.Unlock()

	notice := blockNotice(reason)
	g.logger.Info("gate blocked session", slog.String("reason", string(reason)))
	g.notify(notice)
	g.terminate(ctx, principal)
	g.navigate(RouteSignIn)
	g.stopPoll(handle)
	return Decision{Phase: PhaseBlocked, Navigate: RouteSignIn, Notice: &notice, Reason: reason}
}

// terminate runs the sign-out side effects. Only the provider error is
// returned; the other steps log and continue.
func (g *Gate) terminate(ctx context.Context, principal *identity.Principal) error {
	var providerErr error
	if principal != nil {
		if err := g.deps.Profiles.SetOnline(ctx, principal.ID, false); err != nil {
			g.logger.Warn("gate mark offline", slog.String("user_id", principal.ID.String()), slog.Any("error", err))
		}
		if g.deps.Provider != nil {
			if err := g.deps.Provider.SignOut(ctx, principal.ID); err != nil {
				g.logger.Error("gate provider sign out", slog.String("user_id", principal.ID.String()), slog.Any("error", err))
				providerErr = fmt.Errorf("gate: provider sign out: %w", err)
			}
		}
	}
	if g.deps.Artifacts != nil {
		if err := g.deps.Artifacts.ClearArtifacts(ctx); err != nil {
			g.logger.Warn("gate clear artifacts", slog.Any("error", err))
		}
	}
	return providerErr
}

// resetLocked clears the session and invalidates in-flight chains. Callers hold mu.
func (g *Gate) resetLocked(phase Phase) {
	g.epoch++
	g.phase = phase
	g.principal = nil
	g.profile = nil
	g.reason = ReasonNone
	g.restricted = false
	g.settings = profiles.DefaultSettings()
	g.initialHandled = false
}

func (g *Gate) recoverChain(epoch uint64, d *Decision) {
	r := recover()
	if r == nil {
		return
	}
	g.logger.Error("gate chain panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

	g.mu.Lock()
	if g.closed || epoch != g.epoch {
		g.mu.Unlock()
		*d = Decision{Phase: PhaseSignedOut, Ignored: true}
		return
	}
	g.resetLocked(PhaseSignedOut)
	handle := g.poll
	g.poll = nil
	g.mu.Unlock()
	g.stopPoll(handle)

	notice := blockNotice(ReasonUnexpected)
	g.notify(notice)
	*d = Decision{Phase: PhaseSignedOut, Notice: &notice, Reason: ReasonUnexpected}
}

func (g *Gate) current(epoch uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed && epoch == g.epoch
}

func (g *Gate) stale() Decision {
	g.mu.Lock()
	phase := g.phase
	if g.closed {
		phase = PhaseSignedOut
	}
	g.mu.Unlock()
	return Decision{Phase: phase, Ignored: true}
}

func (g *Gate) recordSignIn(ctx context.Context, principal identity.Principal) {
	at := g.now().UTC()
	if err := g.deps.Profiles.TouchLastLogin(ctx, principal.ID, at); err != nil {
		g.logger.Warn("gate touch last login", slog.String("user_id", principal.ID.String()), slog.Any("error", err))
	}
	if g.deps.Audit == nil {
		return
	}
	err := g.deps.Audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.ID,
		Action:   "auth.sign_in",
		Entity:   "profile",
		EntityID: principal.ID.String(),
		Meta:     map[string]any{"email": principal.Email, "aal": string(principal.Assurance.Current)},
		At:       at,
	})
	if err != nil {
		g.logger.Warn("gate audit sign in", slog.Any("error", err))
	}
}

func (g *Gate) warm(profile profiles.Profile) {
	if g.deps.Prefetch == nil || !profile.HasBarangay() {
		return
	}
	barangayID := *profile.BarangayID
	go func() {
		if err := g.deps.Prefetch.Warm(g.bg, barangayID); err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Warn("gate prefetch warm", slog.Int64("barangay_id", barangayID), slog.Any("error", err))
		}
	}()
}

func (g *Gate) navigate(route string) {
	if g.deps.Navigator != nil {
		g.deps.Navigator.Navigate(route)
	}
}

func (g *Gate) notify(n Notice) {
	if g.deps.Notifier != nil {
		g.deps.Notifier.Notify(n)
	}
}

func (g *Gate) record(kind EventKind, d Decision) {
	if g.deps.Metrics == nil {
		return
	}
	g.deps.Metrics.RecordGateDecision(string(kind), outcome(d))
}

func outcome(d Decision) string {
	switch {
	case d.Ignored:
		return "ignored"
	case d.Challenge:
		return "challenge"
	case d.Reason == ReasonUnexpected:
		return "error"
	default:
		return d.Phase.String()
	}
}
