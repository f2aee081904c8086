package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var repullCmd = &cobra.Command{
	Use:   "repull <run-id>",
	Short: "Re-pull categories that are short of their target",
	Long: `Pulls additional candidates for every category in the run that selected
fewer items than its target. Bounded by the per-category attempt counter and
idempotent against unchanged upstream data.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Pipeline.Stager().RepullShort(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	rootCmd.AddCommand(repullCmd)
}
