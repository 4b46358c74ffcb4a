package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/barangay-portal/portal/internal/profiles"
	"github.com/barangay-portal/portal/internal/shared"
)

// DefaultPollInterval is how often a usable session re-checks its status.
const DefaultPollInterval = 30 * time.Second

// ProfileStore reads and writes the profile rows the gate depends on.
type ProfileStore interface {
	Profile(ctx context.Context, id uuid.UUID) (profiles.Profile, error)
	Status(ctx context.Context, id uuid.UUID) (profiles.StatusCheck, error)
	Role(ctx context.Context, id uuid.UUID) (profiles.Role, error)
	BarangayApproved(ctx context.Context, id int64) (bool, error)
	SetOnline(ctx context.Context, id uuid.UUID, online bool) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SettingsStore is the per-user key/value preference store.
type SettingsStore interface {
	Settings(ctx context.Context, id uuid.UUID) (map[string]string, error)
	PutSettings(ctx context.Context, id uuid.UUID, values map[string]string) error
}

// Provider is the auth provider's server-side sign-out.
type Provider interface {
	SignOut(ctx context.Context, id uuid.UUID) error
}

// ArtifactClearer drops the auth artifacts persisted for the tab.
type ArtifactClearer interface {
	ClearArtifacts(ctx context.Context) error
}

// Navigator receives navigation decisions for the tab.
type Navigator interface {
	Navigate(route string)
}

// Notifier receives user-facing notices for the tab.
type Notifier interface {
	Notify(n Notice)
}

// Prefetcher warms cached dashboard data for a barangay.
type Prefetcher interface {
	Warm(ctx context.Context, barangayID int64) error
}

// OfflineBeacon queues a mark-offline write that must outlive the request.
type OfflineBeacon interface {
	EnqueueOffline(ctx context.Context, id uuid.UUID) error
}

// Auditor records security-relevant events.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder counts gate decisions.
type Recorder interface {
	RecordGateDecision(event, outcome string)
}

// Scheduler runs the status poll. *cron.Cron satisfies it.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
}

// Deps are the collaborators of a Gate. Profiles is required; the rest are
// optional and skipped when nil.
type Deps struct {
	Profiles     ProfileStore
	Settings     SettingsStore
	Provider     Provider
	Artifacts    ArtifactClearer
	Navigator    Navigator
	Notifier     Notifier
	Prefetch     Prefetcher
	Beacon       OfflineBeacon
	Audit        Auditor
	Metrics      Recorder
	Scheduler    Scheduler
	Logger       *slog.Logger
	PollInterval time.Duration
	Now          func() time.Time
}
