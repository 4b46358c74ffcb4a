package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/barangay-portal/portal/internal/app"
	"github.com/barangay-portal/portal/jobs"
)

// JobTrigger enqueues jobs by name.
type JobTrigger interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
}

// QueueInspector reads queue depth.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueStats summarises the state of one queue.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueues reports the critical and default queues.
func InspectQueues(inspector QueueInspector) ([]QueueStats, error) {
	if inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, queue := range []string{jobs.QueueCritical, jobs.QueueDefault} {
		info, err := inspector.GetQueueInfo(queue)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", queue, err)
		}
		stats := QueueStats{Queue: queue}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
		}
		out = append(out, stats)
	}
	return out, nil
}

// TriggerJob enqueues name and reports the task id on out.
func TriggerJob(ctx context.Context, trigger JobTrigger, name string, out io.Writer) error {
	info, err := trigger.Trigger(ctx, name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", name, info.ID, info.Queue)
	return err
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a job with its default payload",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskPrefetchWarmup},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			if err != nil {
				return err
			}
			defer client.Close()
			return TriggerJob(cmd.Context(), client, args[0], cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Show queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			defer inspector.Close()
			stats, err := InspectQueues(inspector)
			if err != nil {
				return err
			}
			for _, s := range stats {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s pending=%d active=%d scheduled=%d retry=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
			}
			return nil
		},
	})
	return cmd
}
