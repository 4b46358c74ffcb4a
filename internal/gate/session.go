package gate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

// SignOut ends the session on explicit user request. State is cleared
// first so nothing in flight can revive it; the offline write, provider
// sign-out and artifact purge follow, then the tab returns to sign-in.
// Only a provider failure is returned, after every step has run.
func (g *Gate) SignOut(ctx context.Context) error {
	g.mu.Lock()
	principal := g.principal
	g.resetLocked(PhaseSignedOut)
	handle := g.poll
	g.poll = nil
	g.mu.Unlock()

	err := g.terminate(ctx, principal)
	if principal != nil && g.deps.Audit != nil {
		auditErr := g.deps.Audit.Record(ctx, shared.AuditLog{
			ActorID:  principal.ID,
			Action:   "auth.sign_out",
			Entity:   "profile",
			EntityID: principal.ID.String(),
			At:       g.now().UTC(),
		})
		if auditErr != nil {
			g.logger.Warn("gate audit sign out", slog.Any("error", auditErr))
		}
	}
	g.navigate(RouteSignIn)
	g.stopPoll(handle)
	g.record(EventSignedOut, Decision{Phase: PhaseSignedOut})
	return err
}

// Unload handles a tab close or refresh. The mark-offline write is handed
// to the beacon on a detached goroutine and Unload returns immediately.
func (g *Gate) Unload() {
	g.mu.Lock()
	principal := g.principal
	g.mu.Unlock()
	if principal == nil {
		return
	}
	id := principal.ID
	go g.markOffline(id)
}

func (g *Gate) markOffline(id uuid.UUID) {
	ctx := context.WithoutCancel(g.bg)
	var err error
	if g.deps.Beacon != nil {
		err = g.deps.Beacon.EnqueueOffline(ctx, id)
	} else {
		err = g.deps.Profiles.SetOnline(ctx, id, false)
	}
	if err != nil {
		g.logger.Warn("gate unload offline", slog.String("user_id", id.String()), slog.Any("error", err))
	}
}

// RefreshSettings reloads the user's preferences. A failed read yields the
// defaults and never an error.
func (g *Gate) RefreshSettings(ctx context.Context) profiles.Settings {
	g.mu.Lock()
	principal := g.principal
	epoch := g.epoch
	g.mu.Unlock()
	if principal == nil {
		return profiles.DefaultSettings()
	}
	settings := g.loadSettings(ctx, principal.ID)
	g.mu.Lock()
	if !g.closed && epoch == g.epoch {
		g.settings = settings
	}
	g.mu.Unlock()
	return settings
}

// UpdateSettings stores new preferences for the signed-in user.
func (g *Gate) UpdateSettings(ctx context.Context, settings profiles.Settings) error {
	g.mu.Lock()
	principal := g.principal
	epoch := g.epoch
	g.mu.Unlock()
	if principal == nil {
		return shared.ErrUnauthorized
	}
	if g.deps.Settings == nil {
		return shared.ErrNotFound
	}
	if err := g.deps.Settings.PutSettings(ctx, principal.ID, settings.Values()); err != nil {
		return err
	}
	g.mu.Lock()
	if !g.closed && epoch == g.epoch {
		g.settings = settings
	}
	g.mu.Unlock()
	return nil
}

func (g *Gate) loadSettings(ctx context.Context, id uuid.UUID) profiles.Settings {
	if g.deps.Settings == nil {
		return profiles.DefaultSettings()
	}
	values, err := g.deps.Settings.Settings(ctx, id)
	if err != nil {
		g.logger.Warn("gate load settings, using defaults", slog.String("user_id", id.String()), slog.Any("error", err))
		return profiles.DefaultSettings()
	}
	return profiles.SettingsFromValues(values)
}

// Close tears the gate down: the poll stops, background work is cancelled
// and in-flight chains stop mutating state at their next suspension point.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.epoch++
	handle := g.poll
	g.poll = nil
	g.mu.Unlock()
	g.stopPoll(handle)
	g.cancel()
}
