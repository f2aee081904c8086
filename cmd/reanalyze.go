package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnidoxa/newsdesk/internal/model"
)

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <canonical-url>...",
	Short: "Refresh analysis for already-live items",
	Long: `Re-runs perspective analysis for the given live items and writes the
results directly to the live store. Does not take the pipeline lock; each
write is guarded by the item's version.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, model.RunKindReanalyze, "cli", model.RunConfig{
			Reanalyze: &model.ReanalyzeConfig{CanonicalURLs: args},
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if !result.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reanalyzeCmd)
}
