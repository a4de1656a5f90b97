package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Matching  MatchingConfig  `yaml:"matching" mapstructure:"matching"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Outreach  OutreachConfig  `yaml:"outreach" mapstructure:"outreach"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for answer synthesis.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MatchingConfig configures the expert matching algorithm. The five base
// weights should sum to roughly 1.0; a mismatch is logged as a warning, not
// rejected, so operators can experiment without redeploying.
type MatchingConfig struct {
	EmbeddingWeight      float64 `yaml:"embedding_weight" mapstructure:"embedding_weight"`
	TagOverlapWeight     float64 `yaml:"tag_overlap_weight" mapstructure:"tag_overlap_weight"`
	TrustScoreWeight     float64 `yaml:"trust_score_weight" mapstructure:"trust_score_weight"`
	AvailabilityWeight   float64 `yaml:"availability_weight" mapstructure:"availability_weight"`
	ResponsivenessWeight float64 `yaml:"responsiveness_weight" mapstructure:"responsiveness_weight"`
	DefaultLimit         int     `yaml:"default_limit" mapstructure:"default_limit"`
	WaveSize             int     `yaml:"wave_size" mapstructure:"wave_size"`
}

// LedgerConfig configures payment pool percentages and pricing.
type LedgerConfig struct {
	ContributorPoolPct float64 `yaml:"contributor_pool_pct" mapstructure:"contributor_pool_pct"`
	PlatformPct        float64 `yaml:"platform_pct" mapstructure:"platform_pct"`
	ReferralPct        float64 `yaml:"referral_pct" mapstructure:"referral_pct"`
	QueryPriceCents    int64   `yaml:"query_price_cents" mapstructure:"query_price_cents"`
}

// OutreachConfig configures expert notification throttling.
type OutreachConfig struct {
	PerExpertPerHour  int `yaml:"per_expert_per_hour" mapstructure:"per_expert_per_hour"`
	MaxConcurrent     int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RecentContactHrs  int `yaml:"recent_contact_hours" mapstructure:"recent_contact_hours"`
	RecentQueryWindow int `yaml:"recent_query_window_days" mapstructure:"recent_query_window_days"`
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
	v.SetEnvPrefix("ERRANDBOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "errandboy.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("matching.embedding_weight", 0.45)
	v.SetDefault("matching.tag_overlap_weight", 0.20)
	v.SetDefault("matching.trust_score_weight", 0.15)
	v.SetDefault("matching.availability_weight", 0.10)
	v.SetDefault("matching.responsiveness_weight", 0.10)
	v.SetDefault("matching.default_limit", 10)
	v.SetDefault("matching.wave_size", 3)
	v.SetDefault("ledger.contributor_pool_pct", 0.70)
	v.SetDefault("ledger.platform_pct", 0.20)
	v.SetDefault("ledger.referral_pct", 0.10)
	v.SetDefault("ledger.query_price_cents", 50)
	v.SetDefault("outreach.per_expert_per_hour", 4)
	v.SetDefault("outreach.max_concurrent", 5)
	v.SetDefault("outreach.recent_contact_hours", 24)
	v.SetDefault("outreach.recent_query_window_days", 7)

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

	cfg.Matching.WarnIfUnnormalized()

	return &cfg, nil
}

// WarnIfUnnormalized logs a warning when the five base weights stray from
// summing to 1.0. Scores still clamp to [0,1], so this is advisory only.
func (m MatchingConfig) WarnIfUnnormalized() {
	sum := m.EmbeddingWeight + m.TagOverlapWeight + m.TrustScoreWeight +
		m.AvailabilityWeight + m.ResponsivenessWeight
	if math.Abs(sum-1.0) > 0.01 {
		zap.L().Warn("config: matching weights do not sum to 1.0",
			zap.Float64("sum", sum),
		)
	}
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
