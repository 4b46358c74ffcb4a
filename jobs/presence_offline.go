package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/barangay-portal/portal/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PresenceStore persists the online flag of a profile.
type PresenceStore interface {
	SetOnline(ctx context.Context, id uuid.UUID, online bool) error
}

// PresenceOfflineJob clears the online flag queued by an unloading tab.
type PresenceOfflineJob struct {
	Store   PresenceStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPresenceOfflineJob wires dependencies for the offline handler.
func NewPresenceOfflineJob(store PresenceStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *PresenceOfflineJob {
	return &PresenceOfflineJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes presence offline tasks.
func (j *PresenceOfflineJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("presence offline: handler not configured")
	}
	var payload PresenceOfflinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID == uuid.Nil {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskPresenceOffline)
	defer func() {
		err = tracker.End(err)
	}()

	if err = j.Store.SetOnline(ctx, payload.UserID, false); err != nil {
		j.logger().Warn("mark offline", slog.String("user_id", payload.UserID.String()), slog.Any("error", err))
		return err
	}
	metrics.AddItems(TaskPresenceOffline, 1)
	return nil
}

func (j *PresenceOfflineJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPresenceOffline))
	}
	return slog.Default().With(slog.String("job", TaskPresenceOffline))
}
