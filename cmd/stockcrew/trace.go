package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smkhb/Stock-Agent/pkg/planner"
)

func newTraceCmd(c *cli) *cobra.Command {
	var filter planner.TraceFilter
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show persisted trace entries of a run",
		Long: `trace reads the sqlite trace store configured under trace.dsn. Runs are
only persisted when trace.store is sqlite.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Trace.Store != "sqlite" {
				return fmt.Errorf("trace store %q is not persistent; set trace.store=sqlite", c.cfg.Trace.Store)
			}
			store, err := planner.OpenSQLiteTraceStore(c.cfg.Trace.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no trace entries for run %q", filter.RunID)
			}
			if c.flags.JSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			printTrace(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.RunID, "run-id", "", "run identifier")
	cmd.Flags().StringVar(&filter.TaskID, "task", "", "only entries of this task")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only entries with this final status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of entries")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}
