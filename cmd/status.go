package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnidoxa/newsdesk/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's status and derived progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs := pipeline.NewRunManager(st, time.Duration(cfg.Pipeline.LockStalenessMins)*time.Minute)
		report, err := runs.GetRunStatus(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
