package gate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

const pollEvent EventKind = "POLL"

// PollHandle is the cancellable status poll returned by Activate.
type PollHandle struct {
	scheduler Scheduler
	entry     cron.EntryID
	once      sync.Once
}

// Stop cancels the poll. It is safe to call more than once.
func (h *PollHandle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.scheduler.Remove(h.entry)
	})
}

// Activate starts the periodic status re-check and returns its handle. An
// already active poll is returned as is. Without a scheduler, or after Close,
// Activate returns nil.
func (g *Gate) Activate() *PollHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.deps.Scheduler == nil {
		return nil
	}
	if g.poll != nil {
		return g.poll
	}
	spec := fmt.Sprintf("@every %s", g.deps.PollInterval)
	entry, err := g.deps.Scheduler.AddFunc(spec, g.pollTick)
	if err != nil {
		g.logger.Error("gate schedule poll", slog.String("spec", spec), slog.Any("error", err))
		return nil
	}
	g.poll = &PollHandle{scheduler: g.deps.Scheduler, entry: entry}
	return g.poll
}

// Deactivate stops the poll started by Activate.
func (g *Gate) Deactivate(h *PollHandle) {
	if h == nil {
		return
	}
	g.mu.Lock()
	if g.poll == h {
		g.poll = nil
	}
	g.mu.Unlock()
	h.Stop()
}

func (g *Gate) stopPoll(h *PollHandle) {
	h.Stop()
}

// pollTick re-reads status and lock while the session is usable and the tab
// is off the sign-in route. A disallowed status forces the block at once. A
// failed read blocks the session as unavailable; the next tick reloads the
// profile and either restores it or enforces what it finds. Ticks without a
// change are no-ops.
func (g *Gate) pollTick() {
	g.mu.Lock()
	if g.closed || g.principal == nil || g.route == RouteSignIn ||
		(g.phase != PhaseUsable && g.phase != PhaseBlocked) {
		g.mu.Unlock()
		return
	}
	if g.phase == PhaseBlocked && g.reason == ReasonProfileUnavailable {
		g.mu.Unlock()
		d, epoch := g.reload(g.bg, AuthEvent{Kind: EventTokenRefreshed})
		if !d.Ignored && d.Phase == PhaseBlocked && d.Reason != ReasonProfileUnavailable {
			d = g.forceBlock(g.bg, epoch, d.Reason)
		}
		g.record(pollEvent, d)
		return
	}
	id := g.principal.ID
	epoch := g.epoch
	g.mu.Unlock()

	check, err := g.deps.Profiles.Status(g.bg, id)
	if err != nil {
		g.logger.Warn("gate poll status", slog.String("user_id", id.String()), slog.Any("error", err))
		g.mu.Lock()
		if g.closed || epoch != g.epoch {
			g.mu.Unlock()
			return
		}
		g.phase = PhaseBlocked
		g.reason = ReasonProfileUnavailable
		g.restricted = false
		g.mu.Unlock()
		g.record(pollEvent, Decision{Phase: PhaseBlocked, Reason: ReasonProfileUnavailable})
		return
	}

	reason := statusReason(check.Status)
	g.mu.Lock()
	if g.closed || epoch != g.epoch {
		g.mu.Unlock()
		return
	}
	if g.profile != nil {
		g.profile.Status = check.Status
		g.profile.MustReset = check.MustReset
	}
	if reason == ReasonNone && check.MustReset {
		reason = ReasonLocked
	}
	if reason == ReasonNone && g.phase == PhaseBlocked {
		// blocked for a reason the poll does not watch
		reason = g.reason
	}
	if reason == ReasonNone || exempt(reason, g.route) {
		g.restricted = reason != ReasonNone
		if g.reason == ReasonLocked || g.reason == ReasonNone {
			g.reason = reason
		}
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	d := g.forceBlock(g.bg, epoch, reason)
	g.record(pollEvent, d)
}
