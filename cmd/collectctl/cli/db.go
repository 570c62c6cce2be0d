package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/collect/migrations"
)

var errDatabaseNotConfigured = errors.New("collectctl: database not configured")

func newMigrateCommand(env Env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				names, err := migrations.Names()
				if err != nil {
					return err
				}
				for _, name := range names {
					_, _ = fmt.Fprintf(env.Stdout, "would apply %s\n", name)
				}
				return nil
			}
			if env.OpenDB == nil {
				return errDatabaseNotConfigured
			}
			db, err := env.OpenDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrations.Apply(cmd.Context(), db)
			if err != nil {
				return err
			}
			for _, name := range applied {
				_, _ = fmt.Fprintf(env.Stdout, "applied %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List migrations without touching the database")
	return cmd
}

func newReceiptsCommand(env Env) *cobra.Command {
	var (
		collector string
		limit     int
	)
	cmd := &cobra.Command{
		Use:     "receipts",
		Short:   "List the latest journaled receipts of a collector",
		Example: `  collectctl receipts --collector 42 --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if collector == "" {
				return fmt.Errorf("--collector is required")
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			if env.OpenDB == nil {
				return errDatabaseNotConfigured
			}
			db, err := env.OpenDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := db.ListRecent(cmd.Context(), collector, limit)
			if err != nil {
				return fmt.Errorf("list receipts: %w", err)
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(env.Stdout, "no receipts")
				return nil
			}
			tw := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CONFIRMED\tINVOICE\tDISTRIBUTOR\tMETHOD\tAMOUNT\tREMAINING\tSTATUS")
			for _, r := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ConfirmedAt.Format("2006-01-02 15:04"),
					r.InvoiceNumber,
					r.DistributorName,
					r.Method,
					env.Money.Format(r.Amount),
					env.Money.Format(r.Remaining),
					r.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&collector, "collector", "", "Collector user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum receipts to show")
	return cmd
}
