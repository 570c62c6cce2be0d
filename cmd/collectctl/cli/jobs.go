package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/collect/jobs"
)

var errQueueNotConfigured = errors.New("collectctl: queue not configured")

func newQueuesCommand(env Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Show pending, active and failed tasks per queue",
		Example: `  collectctl queues
  collectctl queues --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.OpenQueue == nil {
				return errQueueNotConfigured
			}
			q, err := env.OpenQueue()
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()

			stats, err := jobs.Stats(q)
			if err != nil {
				return fmt.Errorf("inspect queues: %w", err)
			}
			if asJSON {
				return json.NewEncoder(env.Stdout).Encode(stats)
			}
			tw := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED\tPAUSED")
			for _, s := range stats {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%t\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived, s.Paused)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine readable output")
	return cmd
}

func newCleanupCommand(env Env) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Enqueue an idempotency key cleanup now",
		Long: `Enqueue an immediate run of the idempotency key cleanup that otherwise runs
daily. Without --retention the worker's IDEMPOTENCY_RETENTION applies.`,
		Example: `  collectctl cleanup
  collectctl cleanup --retention 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention < 0 {
				return fmt.Errorf("retention must not be negative")
			}
			if env.OpenQueue == nil {
				return errQueueNotConfigured
			}
			q, err := env.OpenQueue()
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()

			info, err := q.EnqueueCleanup(cmd.Context(), retention)
			if err != nil {
				return fmt.Errorf("enqueue cleanup: %w", err)
			}
			_, _ = fmt.Fprintf(env.Stdout, "enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "Delete keys older than this (default: worker setting)")
	return cmd
}
