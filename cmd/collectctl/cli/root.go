// Package cli implements collectctl, the operator tool for the collection service.
package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/jobs"
	"github.com/odyssey-erp/collect/migrations"
)

var version = "dev"

// QueueAPI inspects the job queues and enqueues maintenance tasks.
type QueueAPI interface {
	jobs.QueueInspector
	EnqueueCleanup(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error)
	Close() error
}

// Database is the Postgres surface used by the CLI.
type Database interface {
	migrations.Execer
	ListRecent(ctx context.Context, collectorID string, limit int) ([]collection.Receipt, error)
	Close()
}

// Env supplies the commands with their outputs and lazily opened backends, so
// --help works without any configuration.
type Env struct {
	Stdout    io.Writer
	Stderr    io.Writer
	OpenQueue func() (QueueAPI, error)
	OpenDB    func(ctx context.Context) (Database, error)
	Money     *collection.Formatter
}

// NewRootCommand assembles the command tree.
func NewRootCommand(env Env) *cobra.Command {
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	root := &cobra.Command{
		Use:   "collectctl",
		Short: "Operate the field payment collection service",
		Long: `collectctl inspects the background job queues, triggers maintenance and
applies the database schema of the collection service.

Connection settings come from the same environment variables as the server
(PG_DSN, REDIS_ADDR, ...), optionally loaded from a .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	root.AddCommand(
		newQueuesCommand(env),
		newCleanupCommand(env),
		newMigrateCommand(env),
		newReceiptsCommand(env),
	)
	return root
}
