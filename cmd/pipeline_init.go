package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/analysis"
	"github.com/omnidoxa/newsdesk/internal/ingest"
	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/pipeline"
	"github.com/omnidoxa/newsdesk/internal/registry"
	"github.com/omnidoxa/newsdesk/internal/store"
	anthropicpkg "github.com/omnidoxa/newsdesk/pkg/anthropic"
	"github.com/omnidoxa/newsdesk/pkg/notion"
	"github.com/omnidoxa/newsdesk/pkg/xai"
)

// pipelineEnv holds the initialized store, clients, and pipeline used by the
// run/reanalyze/repull/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Sources  *model.SourceRegistry
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "newsdesk.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initAdapter() (ingest.Adapter, error) {
	switch {
	case cfg.Ingest.FTPAddr != "":
		return ingest.NewDumpAdapter(ingest.DumpOptions{
			Addr:     cfg.Ingest.FTPAddr,
			User:     cfg.Ingest.FTPUser,
			Password: cfg.Ingest.FTPPassword,
			Dir:      cfg.Ingest.FTPDir,
			Timeout:  time.Duration(cfg.Ingest.TimeoutSecs) * time.Second,
		}), nil
	case cfg.Ingest.FeedURL != "":
		return ingest.NewFeedAdapter(ingest.FeedOptions{
			BaseURL: cfg.Ingest.FeedURL,
			APIKey:  cfg.Ingest.FeedKey,
			Timeout: time.Duration(cfg.Ingest.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, eris.New("no ingest upstream configured (set ingest.feed_url or ingest.ftp_addr)")
	}
}

func initProvider() (analysis.Provider, error) {
	switch cfg.Analysis.Provider {
	case "xai":
		if cfg.XAI.Key == "" {
			return nil, eris.New("xai key is required (NEWSDESK_XAI_KEY)")
		}
		client := xai.NewClient(cfg.XAI.Key, xai.WithBaseURL(cfg.XAI.BaseURL), xai.WithModel(cfg.XAI.Model))
		return analysis.NewXAIProvider(client, cfg.XAI.Model, cfg.Analysis.MaxEvidence), nil
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required (NEWSDESK_ANTHROPIC_KEY)")
		}
		return analysis.NewAnthropicProvider(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model), nil
	default:
		return nil, eris.Errorf("unsupported analysis provider: %s", cfg.Analysis.Provider)
	}
}

// initPipeline sets up the store, clients, and registries, and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	adapter, err := initAdapter()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	provider, err := initProvider()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sources := registry.DefaultSources()
	if cfg.Notion.Token != "" && cfg.Notion.SourceDB != "" {
		notionClient := notion.NewClient(cfg.Notion.Token)
		loaded, err := registry.LoadSources(ctx, notionClient, cfg.Notion.SourceDB)
		if err != nil {
			zap.L().Warn("source registry load failed, using defaults", zap.Error(err))
		} else {
			sources = loaded
		}
	}
	zap.L().Info("source registry ready", zap.Int("sources", sources.Len()))

	stager := ingest.NewStager(st, adapter, cfg.Ingest.PoolMultiplier, cfg.Ingest.MaxPullRetries)
	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, stager, provider, sources),
		Sources:  sources,
	}, nil
}

// loadCategoryTargets resolves the categories for a full refresh: the Notion
// category registry when configured, otherwise the static config list.
func loadCategoryTargets(ctx context.Context) (map[string]int, error) {
	if cfg.Notion.Token != "" && cfg.Notion.CategoryDB != "" {
		notionClient := notion.NewClient(cfg.Notion.Token)
		targets, err := registry.LoadCategoryTargets(ctx, notionClient, cfg.Notion.CategoryDB)
		if err == nil {
			return targets, nil
		}
		zap.L().Warn("category registry load failed, using config defaults", zap.Error(err))
	}
	return registry.StaticTargets(cfg.Ingest.Categories, cfg.Ingest.TargetPerCat), nil
}
