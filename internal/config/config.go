package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	XAI       XAIConfig       `yaml:"xai" mapstructure:"xai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// XAIConfig holds xAI API settings.
type XAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings (fallback analysis provider).
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// NotionConfig holds Notion API credentials and registry database IDs.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	SourceDB   string `yaml:"source_db" mapstructure:"source_db"`
	CategoryDB string `yaml:"category_db" mapstructure:"category_db"`
}

// IngestConfig configures candidate fetching.
type IngestConfig struct {
	FeedURL        string   `yaml:"feed_url" mapstructure:"feed_url"`
	FeedKey        string   `yaml:"feed_key" mapstructure:"feed_key"`
	FTPAddr        string   `yaml:"ftp_addr" mapstructure:"ftp_addr"`
	FTPUser        string   `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword    string   `yaml:"ftp_password" mapstructure:"ftp_password"`
	FTPDir         string   `yaml:"ftp_dir" mapstructure:"ftp_dir"`
	PoolMultiplier int      `yaml:"pool_multiplier" mapstructure:"pool_multiplier"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPullRetries int      `yaml:"max_pull_retries" mapstructure:"max_pull_retries"`
	Categories     []string `yaml:"categories" mapstructure:"categories"`
	TargetPerCat   int      `yaml:"target_per_category" mapstructure:"target_per_category"`
}

// AnalysisConfig configures the sentiment analysis batch runner.
type AnalysisConfig struct {
	Provider        string  `yaml:"provider" mapstructure:"provider"`
	ChunkSize       int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	ItemTimeoutSecs int     `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts     int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxEvidence     int     `yaml:"max_evidence" mapstructure:"max_evidence"`
}

// ItemTimeout returns the per-item analysis budget as a duration.
func (c AnalysisConfig) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSecs) * time.Second
}

// PipelineConfig configures run lifecycle behavior.
type PipelineConfig struct {
	LockStalenessMins int     `yaml:"lock_staleness_mins" mapstructure:"lock_staleness_mins"`
	TitleJaccard      float64 `yaml:"title_jaccard" mapstructure:"title_jaccard"`
	TitleSimilarity   float64 `yaml:"title_similarity" mapstructure:"title_similarity"`
}

// LockStaleness returns the lock staleness threshold as a duration.
func (c PipelineConfig) LockStaleness() time.Duration {
	return time.Duration(c.LockStalenessMins) * time.Minute
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NEWSDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "newsdesk.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("xai.base_url", "https://api.x.ai/v1")
	v.SetDefault("xai.model", "grok-4")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ingest.pool_multiplier", 3)
	v.SetDefault("ingest.timeout_secs", 30)
	v.SetDefault("ingest.max_pull_retries", 3)
	v.SetDefault("ingest.categories", []string{"business", "entertainment", "politics", "science", "sports", "technology", "world"})
	v.SetDefault("ingest.target_per_category", 10)
	v.SetDefault("analysis.provider", "xai")
	v.SetDefault("analysis.chunk_size", 10)
	v.SetDefault("analysis.item_timeout_secs", 120)
	v.SetDefault("analysis.rate_per_sec", 0.5)
	v.SetDefault("analysis.max_attempts", 3)
	v.SetDefault("analysis.max_evidence", 5)
	v.SetDefault("pipeline.lock_staleness_mins", 10)
	v.SetDefault("pipeline.title_jaccard", 0.75)
	v.SetDefault("pipeline.title_similarity", 0.80)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
