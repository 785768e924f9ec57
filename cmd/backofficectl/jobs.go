package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/backoffice/jobs"
)

// jobQueue is what the jobs subcommands need from Asynq.
type jobQueue interface {
	Trigger(ctx context.Context, taskType string, payload []byte) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI connects the helpers to redisAddr.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	return errors.Join(c.inspector.Close(), c.client.Close())
}

// Trigger enqueues a task built from a raw JSON payload.
func (c *JobsCLI) Trigger(ctx context.Context, taskType string, payload []byte) (*asynq.TaskInfo, error) {
	task, err := jobs.NewTask(taskType, payload)
	if err != nil {
		return nil, err
	}
	return c.client.Enqueue(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

func newJobsCmd(e *env) *cobra.Command {
	group := &cobra.Command{Use: "jobs", Short: "Background job queue"}

	var payload string
	trigger := &cobra.Command{
		Use:   "trigger <task-type>",
		Short: "Enqueue a task by type",
		Example: `  backofficectl jobs trigger documents:verify_totals
  backofficectl jobs trigger vault:process --payload '{"file_id":"...","scope_id":"..."}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := e.queue.Trigger(cmd.Context(), args[0], []byte(payload))
			if err != nil {
				return err
			}
			if info == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already queued\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().StringVar(&payload, "payload", "", "task payload as JSON")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.queue.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			return nil
		},
	}
	group.AddCommand(trigger, stats)
	return group
}
