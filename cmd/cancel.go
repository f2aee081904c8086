package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnidoxa/newsdesk/internal/pipeline"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run and release its lock",
	Long:  "Marks an in-flight run as cancelled and releases the pipeline lock if that run holds it. Already-finished runs are left untouched.",
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
		if err := runs.CancelRun(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("run %s cancelled\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
