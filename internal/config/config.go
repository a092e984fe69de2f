package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Provider  ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Shortlist ShortlistConfig `yaml:"shortlist" mapstructure:"shortlist"`
	Detail    DetailConfig    `yaml:"detail" mapstructure:"detail"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Corpus    CorpusConfig    `yaml:"corpus" mapstructure:"corpus"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProviderConfig holds the search provider API settings.
type ProviderConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RateLimitConfig sets the minimum spacing between external calls per
// endpoint class.
type RateLimitConfig struct {
	SearchIntervalSecs int `yaml:"search_interval_secs" mapstructure:"search_interval_secs"`
	DetailIntervalSecs int `yaml:"detail_interval_secs" mapstructure:"detail_interval_secs"`
}

// RetryConfig configures transient-failure retries for provider calls.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMS  int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMS   int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	JitterFactor float64 `yaml:"jitter_factor" mapstructure:"jitter_factor"`
}

// ScoringConfig holds the relevance-score weights and signal values.
type ScoringConfig struct {
	TitleWeight          float64 `yaml:"title_weight" mapstructure:"title_weight"`
	SnippetWeight        float64 `yaml:"snippet_weight" mapstructure:"snippet_weight"`
	VariantWeight        float64 `yaml:"variant_weight" mapstructure:"variant_weight"`
	ClassificationWeight float64 `yaml:"classification_weight" mapstructure:"classification_weight"`
	RecencyWeight        float64 `yaml:"recency_weight" mapstructure:"recency_weight"`
	SignalNarrow         float64 `yaml:"signal_narrow" mapstructure:"signal_narrow"`
	SignalBaseline       float64 `yaml:"signal_baseline" mapstructure:"signal_baseline"`
	SignalBroad          float64 `yaml:"signal_broad" mapstructure:"signal_broad"`
	ConsensusI3          float64 `yaml:"consensus_i3" mapstructure:"consensus_i3"`
	ConsensusI2          float64 `yaml:"consensus_i2" mapstructure:"consensus_i2"`
	RecencyYears         int     `yaml:"recency_years" mapstructure:"recency_years"`
}

// ShortlistConfig bounds the shortlist size.
type ShortlistConfig struct {
	K int `yaml:"k" mapstructure:"k"`
}

// DetailConfig configures the detail-fetch stage.
type DetailConfig struct {
	StalenessDays int      `yaml:"staleness_days" mapstructure:"staleness_days"`
	Fields        []string `yaml:"fields" mapstructure:"fields"`
}

// EngineConfig configures run execution.
type EngineConfig struct {
	VariantParallelism int `yaml:"variant_parallelism" mapstructure:"variant_parallelism"`
	CallTimeoutSecs    int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// CorpusConfig configures the local resolver.
type CorpusConfig struct {
	PrefilterLimit int `yaml:"prefilter_limit" mapstructure:"prefilter_limit"`
}

// NotionConfig holds the bundle registry credentials.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	BundleDB string `yaml:"bundle_db" mapstructure:"bundle_db"`
}

// IngestConfig configures corpus imports.
type IngestConfig struct {
	TempDir        string `yaml:"temp_dir" mapstructure:"temp_dir"`
	HostIntervalMS int    `yaml:"host_interval_ms" mapstructure:"host_interval_ms"`
}

// PricingConfig holds per-call provider pricing (USD).
type PricingConfig struct {
	SearchPerCall float64 `yaml:"search_per_call" mapstructure:"search_per_call"`
	DetailPerCall float64 `yaml:"detail_per_call" mapstructure:"detail_per_call"`
}

// ServerConfig configures the results API server.
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
	v.SetEnvPrefix("PRIORART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "priorart.db")
	v.SetDefault("provider.base_url", "https://serpapi.com")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("ratelimit.search_interval_secs", 5)
	v.SetDefault("ratelimit.detail_interval_secs", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 8000)
	v.SetDefault("retry.jitter_factor", 0.2)
	v.SetDefault("scoring.title_weight", 0.35)
	v.SetDefault("scoring.snippet_weight", 0.20)
	v.SetDefault("scoring.variant_weight", 0.20)
	v.SetDefault("scoring.classification_weight", 0.15)
	v.SetDefault("scoring.recency_weight", 0.10)
	v.SetDefault("scoring.signal_narrow", 1.0)
	v.SetDefault("scoring.signal_baseline", 0.6)
	v.SetDefault("scoring.signal_broad", 0.3)
	v.SetDefault("scoring.consensus_i3", 0.15)
	v.SetDefault("scoring.consensus_i2", 0.08)
	v.SetDefault("scoring.recency_years", 10)
	v.SetDefault("shortlist.k", 10)
	v.SetDefault("detail.staleness_days", 21)
	v.SetDefault("detail.fields", []string{"claims", "description", "citations", "legal_events", "family"})
	v.SetDefault("engine.variant_parallelism", 1)
	v.SetDefault("engine.call_timeout_secs", 30)
	v.SetDefault("corpus.prefilter_limit", 200)
	v.SetDefault("ingest.temp_dir", "/tmp/priorart")
	v.SetDefault("ingest.host_interval_ms", 500)
	v.SetDefault("pricing.search_per_call", 0.015)
	v.SetDefault("pricing.detail_per_call", 0.015)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects out-of-range settings before any run starts.
func (c *Config) Validate() error {
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.RateLimit.SearchIntervalSecs < 1 || c.RateLimit.DetailIntervalSecs < 1 {
		return eris.New("config: rate-limit intervals must be at least 1s")
	}
	if c.Retry.MaxAttempts < 1 {
		return eris.New("config: retry.max_attempts must be at least 1")
	}
	if c.Shortlist.K < 1 {
		return eris.New("config: shortlist.k must be at least 1")
	}
	if c.Detail.StalenessDays < 14 || c.Detail.StalenessDays > 30 {
		return eris.Errorf("config: detail.staleness_days %d outside 14-30", c.Detail.StalenessDays)
	}
	if c.Engine.VariantParallelism < 1 || c.Engine.VariantParallelism > 3 {
		return eris.Errorf("config: engine.variant_parallelism %d outside 1-3", c.Engine.VariantParallelism)
	}
	for _, w := range []float64{
		c.Scoring.TitleWeight, c.Scoring.SnippetWeight, c.Scoring.VariantWeight,
		c.Scoring.ClassificationWeight, c.Scoring.RecencyWeight,
		c.Scoring.ConsensusI3, c.Scoring.ConsensusI2,
	} {
		if w < 0 {
			return eris.New("config: scoring weights must be non-negative")
		}
	}
	if c.Scoring.RecencyYears < 1 {
		return eris.New("config: scoring.recency_years must be at least 1")
	}
	return nil
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
