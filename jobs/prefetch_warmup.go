package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/barangay-portal/portal/internal/jobs"
)

// Warmer rebuilds cached dashboard summaries. A nil id list means every
// approved barangay.
type Warmer interface {
	WarmAll(ctx context.Context, barangayIDs []int64) (int, error)
}

// PrefetchWarmupJob pre-populates dashboard caches ahead of office hours.
type PrefetchWarmupJob struct {
	Warmer  Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
	clock   func() time.Time
}

// NewPrefetchWarmupJob wires dependencies for the warmup handler.
func NewPrefetchWarmupJob(warmer Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *PrefetchWarmupJob {
	return &PrefetchWarmupJob{
		Warmer:  warmer,
		Logger:  logger,
		Metrics: metrics,
		Timeout: 2 * time.Minute,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes prefetch warmup tasks.
func (j *PrefetchWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Warmer == nil {
		return errors.New("prefetch warmup: handler not configured")
	}
	var payload PrefetchWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskPrefetchWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("requested", len(payload.BarangayIDs)))
	logger.Info("starting prefetch warmup")
	start := j.now()

	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	warmed, err := j.Warmer.WarmAll(runCtx, payload.BarangayIDs)
	j.metrics().AddItems(TaskPrefetchWarmup, warmed)
	if err != nil {
		resultErr = err
		logger.Error("prefetch warmup incomplete", slog.Int("barangays", warmed), slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed prefetch warmup", slog.Int("barangays", warmed), slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *PrefetchWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPrefetchWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPrefetchWarmup))
}

func (j *PrefetchWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PrefetchWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
