package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}

// NewScheduler returns the in-process cron that drives gate status polls and
// maintenance. Panicking jobs are logged and the schedule keeps running.
func NewScheduler(logger *slog.Logger) *cron.Cron {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
}

// Maintenance is a recurring in-process job.
type Maintenance struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// ScheduleMaintenance registers each job on c. Runs receive ctx, so
// cancelling it makes in-flight runs return early.
func ScheduleMaintenance(ctx context.Context, c *cron.Cron, logger *slog.Logger, jobs ...Maintenance) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, job := range jobs {
		if job.Spec == "" || job.Run == nil {
			continue
		}
		if _, err := c.AddFunc(job.Spec, func() {
			if err := job.Run(ctx); err != nil {
				logger.Warn("maintenance failed", slog.String("job", job.Name), slog.Any("error", err))
			}
		}); err != nil {
			return err
		}
	}
	return nil
}
