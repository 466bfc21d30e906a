package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cmdloop/internal/audit"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log of safety decisions and tool runs",
	}

	var (
		limit int
		runID string
	)
	show := &cobra.Command{
		Use:   "show",
		Short: "Show recent audit entries (or every entry of one run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAudit()
			if err != nil {
				return err
			}
			defer store.Close()

			var records []audit.Record
			if runID != "" {
				records, err = store.ByRun(cmd.Context(), runID)
			} else {
				records, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRUN\tACTION\tTOOL\tRESULT\tCOMMAND")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.CreatedAt.Local().Format(time.DateTime), shortID(rec.RunID), rec.Action, rec.ToolName, rec.Result, firstLine(rec.Command))
			}
			return tw.Flush()
		},
	}
	show.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	show.Flags().StringVar(&runID, "run", "", "show every entry of this run id")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAudit()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			logger.Info("audit log pruned", "deleted", n, "older_than", olderThan)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of entries to delete")

	cmd.AddCommand(show, prune)
	return cmd
}

func openAudit() (*audit.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return audit.NewSQLiteStore(cfg.Security.AuditDBPath, logger)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
