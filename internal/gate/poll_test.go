package gate_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barangay-portal/portal/internal/gate"
	"github.com/barangay-portal/portal/internal/profiles"
)

func usableOnDashboard(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(approvedProfile(profiles.RoleAdmin))
	d := f.signIn()
	require.Equal(t, gate.PhaseUsable, d.Phase)
	f.gate.SetRoute(gate.RouteDashboard)
	require.NotNil(t, f.gate.Activate())
	return f
}

func TestActivateIsIdempotent(t *testing.T) {
	f := usableOnDashboard(t)

	again := f.gate.Activate()

	require.NotNil(t, again)
	assert.Equal(t, []string{"@every 30s"}, f.scheduler.specs)
	assert.True(t, f.gate.Snapshot().Polling)

	f.gate.Deactivate(again)
	again.Stop()
	assert.Zero(t, f.scheduler.active())
	assert.Len(t, f.scheduler.removed, 1)
	assert.False(t, f.gate.Snapshot().Polling)
}

func TestActivateWithoutScheduler(t *testing.T) {
	g, err := gate.New(gate.Deps{
		Profiles: newFakeProfiles(approvedProfile(profiles.RoleUser)),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	assert.Nil(t, g.Activate())
}

func TestPollWithoutChangeIsNoop(t *testing.T) {
	f := usableOnDashboard(t)

	f.scheduler.fire()
	f.scheduler.fire()

	assert.Equal(t, []string{gate.RouteDashboard}, f.tab.routes())
	assert.Empty(t, f.tab.noticeList())
	assert.True(t, f.gate.Snapshot().Usable())
}

func TestPollForcesBlockOnStatusChange(t *testing.T) {
	f := usableOnDashboard(t)
	f.profiles.setStatus(profiles.StatusBanned, false)

	f.scheduler.fire()

	assert.Equal(t, []string{gate.RouteDashboard, gate.RouteSignIn}, f.tab.routes())
	notices := f.tab.noticeList()
	require.Len(t, notices, 1)
	assert.Equal(t, gate.ReasonBanned, notices[0].Reason)
	signOuts, cleared := f.tab.counts()
	assert.Equal(t, 1, signOuts)
	assert.Equal(t, 1, cleared)
	assert.Zero(t, f.scheduler.active())
	assert.Contains(t, f.tab.decisions, "POLL:blocked")

	snap := f.gate.Snapshot()
	assert.Equal(t, gate.PhaseBlocked, snap.Phase)
	assert.Equal(t, gate.ReasonBanned, snap.Reason)
	assert.False(t, snap.Polling)
}

func TestPollForcesBlockOnLockOutsideResetRoute(t *testing.T) {
	f := usableOnDashboard(t)
	f.profiles.setStatus(profiles.StatusApproved, true)

	f.scheduler.fire()

	assert.Equal(t, []string{gate.RouteDashboard, gate.RouteSignIn}, f.tab.routes())
	assert.Equal(t, gate.ReasonLocked, f.gate.Snapshot().Reason)
}

func TestPollToleratesLockOnResetRoute(t *testing.T) {
	f := usableOnDashboard(t)
	f.gate.SetRoute(gate.RoutePasswordReset)
	f.profiles.setStatus(profiles.StatusApproved, true)

	f.scheduler.fire()

	snap := f.gate.Snapshot()
	assert.Equal(t, gate.PhaseUsable, snap.Phase)
	assert.True(t, snap.Restricted)
	assert.Equal(t, gate.ReasonLocked, snap.Reason)
	assert.False(t, snap.Usable())
	assert.Equal(t, []string{gate.RouteDashboard}, f.tab.routes())

	f.profiles.setStatus(profiles.StatusApproved, false)
	f.scheduler.fire()

	snap = f.gate.Snapshot()
	assert.False(t, snap.Restricted)
	assert.Equal(t, gate.ReasonNone, snap.Reason)
	assert.True(t, snap.Usable())
}

func TestPollSkipsOnSignInRoute(t *testing.T) {
	f := usableOnDashboard(t)
	f.gate.SetRoute(gate.RouteSignIn)
	f.profiles.setStatus(profiles.StatusBanned, false)

	f.scheduler.fire()

	assert.Equal(t, []string{gate.RouteDashboard}, f.tab.routes())
	assert.Equal(t, gate.PhaseUsable, f.gate.Snapshot().Phase)
}

func TestPollReadErrorBlocksUntilReload(t *testing.T) {
	f := usableOnDashboard(t)
	f.profiles.mu.Lock()
	f.profiles.statusErr = errStore
	f.profiles.mu.Unlock()

	f.scheduler.fire()

	snap := f.gate.Snapshot()
	assert.Equal(t, gate.PhaseBlocked, snap.Phase)
	assert.Equal(t, gate.ReasonProfileUnavailable, snap.Reason)
	assert.False(t, snap.Usable())
	assert.Equal(t, []string{gate.RouteDashboard}, f.tab.routes())
	assert.Equal(t, 1, f.scheduler.active())
	assert.Contains(t, f.tab.decisions, "POLL:blocked")

	f.profiles.mu.Lock()
	f.profiles.statusErr = nil
	f.profiles.mu.Unlock()
	f.scheduler.fire()

	snap = f.gate.Snapshot()
	assert.Equal(t, gate.PhaseUsable, snap.Phase)
	assert.True(t, snap.Usable())
	assert.Equal(t, []string{gate.RouteDashboard}, f.tab.routes())
}

func TestPollReadErrorThenBannedForcesSignOut(t *testing.T) {
	f := usableOnDashboard(t)
	f.profiles.mu.Lock()
	f.profiles.statusErr = errStore
	f.profiles.profile.Status = profiles.StatusBanned
	f.profiles.mu.Unlock()

	f.scheduler.fire()
	require.False(t, f.gate.Snapshot().Usable())

	f.profiles.mu.Lock()
	f.profiles.statusErr = nil
	f.profiles.mu.Unlock()
	f.scheduler.fire()

	snap := f.gate.Snapshot()
	assert.Equal(t, gate.PhaseBlocked, snap.Phase)
	assert.Equal(t, gate.ReasonBanned, snap.Reason)
	assert.Equal(t, []string{gate.RouteDashboard, gate.RouteSignIn}, f.tab.routes())
	signOuts, _ := f.tab.counts()
	assert.Equal(t, 1, signOuts)
	assert.Zero(t, f.scheduler.active())
}

func TestPollEnforcesBlockFoundByRefresh(t *testing.T) {
	f := usableOnDashboard(t)
	f.profiles.setStatus(profiles.StatusRejected, false)
	d := f.gate.HandleEvent(context.Background(), gate.AuthEvent{Kind: gate.EventTokenRefreshed})
	require.Equal(t, gate.PhaseBlocked, d.Phase)
	require.Equal(t, []string{gate.RouteDashboard}, f.tab.routes())

	f.scheduler.fire()

	assert.Equal(t, []string{gate.RouteDashboard, gate.RouteSignIn}, f.tab.routes())
	assert.Equal(t, gate.ReasonRejected, f.gate.Snapshot().Reason)
}

func TestPollRecoversFromUnavailableProfile(t *testing.T) {
	f := usableOnDashboard(t)
	f.profiles.mu.Lock()
	f.profiles.profileErr = errStore
	f.profiles.mu.Unlock()
	d := f.gate.HandleEvent(context.Background(), gate.AuthEvent{Kind: gate.EventTokenRefreshed})
	require.Equal(t, gate.ReasonProfileUnavailable, d.Reason)

	f.profiles.mu.Lock()
	f.profiles.profileErr = nil
	f.profiles.mu.Unlock()
	f.scheduler.fire()

	snap := f.gate.Snapshot()
	assert.Equal(t, gate.PhaseUsable, snap.Phase)
	assert.True(t, snap.Usable())
	assert.Equal(t, []string{gate.RouteDashboard}, f.tab.routes())
}

func TestPollStopsAfterClose(t *testing.T) {
	f := usableOnDashboard(t)

	f.gate.Close()
	f.gate.Close()

	assert.Zero(t, f.scheduler.active())
	assert.False(t, f.gate.Snapshot().Polling)
}
