package main

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/omnidoxa/newsdesk/internal/model"
)

var (
	runCategory string
	runKeyword  string
	runTarget   int
	runMaxItems int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a pipeline run",
	Long: `Executes one pipeline run. Without flags this is a full refresh over all
configured categories; --category restricts it to one category and --keyword
switches to a keyword search.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		kind, runCfg, err := buildRunConfig(cmd)
		if err != nil {
			return err
		}

		result, err := env.Pipeline.Run(ctx, kind, "cli", runCfg)
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

func buildRunConfig(cmd *cobra.Command) (model.RunKind, model.RunConfig, error) {
	switch {
	case runKeyword != "":
		maxItems := runMaxItems
		if maxItems <= 0 {
			maxItems = cfg.Ingest.TargetPerCat
		}
		return model.RunKindKeywordSearch, model.RunConfig{
			KeywordSearch: &model.KeywordSearchConfig{
				Keyword:  runKeyword,
				MaxItems: maxItems,
			},
		}, nil

	case runCategory != "":
		target := runTarget
		if target <= 0 {
			target = cfg.Ingest.TargetPerCat
		}
		return model.RunKindCategoryRefresh, model.RunConfig{
			CategoryRefresh: &model.CategoryRefreshConfig{
				Category:    runCategory,
				TargetCount: target,
			},
		}, nil

	default:
		targets, err := loadCategoryTargets(cmd.Context())
		if err != nil {
			return "", model.RunConfig{}, err
		}
		categories := make([]string, 0, len(targets))
		for c := range targets {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		return model.RunKindFullRefresh, model.RunConfig{
			FullRefresh: &model.FullRefreshConfig{
				Categories:        categories,
				TargetPerCategory: cfg.Ingest.TargetPerCat,
				Targets:           targets,
			},
		}, nil
	}
}

func init() {
	runCmd.Flags().StringVar(&runCategory, "category", "", "refresh a single category")
	runCmd.Flags().StringVar(&runKeyword, "keyword", "", "run a keyword search instead of a category refresh")
	runCmd.Flags().IntVar(&runTarget, "target", 0, "target item count for --category (default from config)")
	runCmd.Flags().IntVar(&runMaxItems, "max-items", 0, "item cap for --keyword (default from config)")
	rootCmd.AddCommand(runCmd)
}
