package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnidoxa/newsdesk/internal/pipeline"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force-release the pipeline lock",
	Long:  "Removes the pipeline lock regardless of owner. Use only when a crashed run left the lock behind and the staleness window has not yet elapsed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
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
		if err := runs.ForceUnlock(ctx); err != nil {
			return err
		}
		fmt.Println("lock released")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
