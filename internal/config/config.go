package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Sources    []SourceConfig   `mapstructure:"sources"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Learning   LearningConfig   `mapstructure:"learning"`
	Ensemble   EnsembleConfig   `mapstructure:"ensemble"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SourceConfig describes one third-party data provider.
// Credentials are read from the environment variable named by APIKeyEnv
// when APIKey is empty.
type SourceConfig struct {
	Name             string        `mapstructure:"name"`
	Kind             string        `mapstructure:"kind"` // apifootball, footballdata, static
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	APIKeyEnv        string        `mapstructure:"api_key_env"`
	Priority         int           `mapstructure:"priority"`
	RateLimitPerHour int           `mapstructure:"rate_limit_per_hour"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	Disabled         bool          `mapstructure:"disabled"`
	Capabilities     []string      `mapstructure:"capabilities"`
	League           string        `mapstructure:"league"`
	Season           int           `mapstructure:"season"`
	FixturesPath     string        `mapstructure:"fixtures_path"` // static kind only
}

// BreakerConfig holds circuit breaker policy
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	Window           time.Duration `mapstructure:"window"`
}

// AggregatorConfig bounds provider calls made during enrichment
type AggregatorConfig struct {
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// PolicyConfig holds the blend weights and gate of the synthesizer
type PolicyConfig struct {
	H2HWeight        float64 `mapstructure:"h2h_weight"`
	H2HMinMatches    int     `mapstructure:"h2h_min_matches"`
	FormFactor       float64 `mapstructure:"form_factor"`
	SeasonWeight     float64 `mapstructure:"season_weight"`
	LiveWeight       float64 `mapstructure:"live_weight"`
	GoalLeadBoost    float64 `mapstructure:"goal_lead_boost"`
	GoalTrailPenalty float64 `mapstructure:"goal_trail_penalty"`
	MinConfidence    float64 `mapstructure:"min_confidence"`
	MinExpectedValue float64 `mapstructure:"min_expected_value"`
	MaxStake         float64 `mapstructure:"max_stake"`
}

// LearningConfig holds online learning loop behavior
type LearningConfig struct {
	Interval       int     `mapstructure:"interval"`
	Window         int     `mapstructure:"window"`
	HistoryCap     int     `mapstructure:"history_cap"`
	RollbackMargin float64 `mapstructure:"rollback_margin"`
	BiasStep       float64 `mapstructure:"bias_step"`
	GoalLineStep   float64 `mapstructure:"goal_line_step"`
	ConfidenceStep float64 `mapstructure:"confidence_step"`
}

// EnsembleConfig holds per-estimator weights of the meta-learner
type EnsembleConfig struct {
	Weights map[string]float64 `mapstructure:"weights"`
}

// PipelineConfig holds cycle scheduling and notification filtering
type PipelineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	TopK               int           `mapstructure:"top_k"`
	CooldownMultiplier int           `mapstructure:"cooldown_multiplier"`
	MinQuality         int           `mapstructure:"min_quality"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Driver         string `mapstructure:"driver"` // sqlite or postgres
	DBPath         string `mapstructure:"db_path"`
	DSN            string `mapstructure:"dsn"`
	MaxPredictions int    `mapstructure:"max_predictions"`
	KV             string `mapstructure:"kv"` // sqlite or redis
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	KeyPrefix      string `mapstructure:"key_prefix"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory, if present, is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("MATCH_ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveSecrets(&cfg)
	return &cfg, nil
}

// resolveSecrets fills provider credentials from the environment.
func resolveSecrets(cfg *Config) {
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.APIKey == "" && s.APIKeyEnv != "" {
			s.APIKey = os.Getenv(s.APIKeyEnv)
		}
		if s.Timeout == 0 {
			s.Timeout = 10 * time.Second
		}
		if s.MaxRetries == 0 {
			s.MaxRetries = 2
		}
	}
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cooldown", "300s")
	v.SetDefault("breaker.window", "1h")

	// Aggregator defaults
	v.SetDefault("aggregator.call_timeout", "10s")
	v.SetDefault("aggregator.max_concurrency", 4)

	// Policy defaults
	v.SetDefault("policy.h2h_weight", 0.4)
	v.SetDefault("policy.h2h_min_matches", 3)
	v.SetDefault("policy.form_factor", 0.3)
	v.SetDefault("policy.season_weight", 0.15)
	v.SetDefault("policy.live_weight", 0.15)
	v.SetDefault("policy.goal_lead_boost", 10.0)
	v.SetDefault("policy.goal_trail_penalty", 8.0)
	v.SetDefault("policy.min_confidence", 40.0)
	v.SetDefault("policy.min_expected_value", -0.05)
	v.SetDefault("policy.max_stake", 10.0)

	// Learning defaults
	v.SetDefault("learning.interval", 10)
	v.SetDefault("learning.window", 50)
	v.SetDefault("learning.history_cap", 200)
	v.SetDefault("learning.rollback_margin", 5.0)
	v.SetDefault("learning.bias_step", 1.0)
	v.SetDefault("learning.goal_line_step", 0.05)
	v.SetDefault("learning.confidence_step", 0.02)

	// Ensemble defaults
	v.SetDefault("ensemble.weights", map[string]float64{
		"composite": 0.30,
		"market":    0.20,
		"form":      0.15,
		"h2h":       0.15,
		"season":    0.10,
		"live":      0.10,
	})

	// Pipeline defaults
	v.SetDefault("pipeline.poll_interval", "5m")
	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.cooldown_multiplier", 6)
	v.SetDefault("pipeline.min_quality", 30)

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_predictions", 10000)
	v.SetDefault("storage.kv", "sqlite")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.key_prefix", "matchoracle")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate sources
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must contain at least one provider")
	}
	validKinds := map[string]bool{"apifootball": true, "footballdata": true, "static": true}
	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = true
		if !validKinds[s.Kind] {
			return fmt.Errorf("sources[%d].kind must be one of: apifootball, footballdata, static", i)
		}
		if s.Kind != "static" && s.BaseURL == "" {
			return fmt.Errorf("sources[%d].base_url is required", i)
		}
		if s.Kind == "static" && s.FixturesPath == "" {
			return fmt.Errorf("sources[%d].fixtures_path is required for static sources", i)
		}
		if s.RateLimitPerHour < 1 {
			return fmt.Errorf("sources[%d].rate_limit_per_hour must be at least 1", i)
		}
		if s.Priority < 0 {
			return fmt.Errorf("sources[%d].priority must not be negative", i)
		}
	}

	// Validate breaker config
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.Cooldown < time.Second {
		return fmt.Errorf("breaker.cooldown must be at least 1s")
	}
	if c.Breaker.Window < time.Minute {
		return fmt.Errorf("breaker.window must be at least 1 minute")
	}

	// Validate aggregator config
	if c.Aggregator.CallTimeout <= 0 {
		return fmt.Errorf("aggregator.call_timeout must be positive")
	}
	if c.Aggregator.MaxConcurrency < 1 {
		return fmt.Errorf("aggregator.max_concurrency must be at least 1")
	}

	// Validate policy config
	for name, w := range map[string]float64{
		"policy.h2h_weight":    c.Policy.H2HWeight,
		"policy.form_factor":   c.Policy.FormFactor,
		"policy.season_weight": c.Policy.SeasonWeight,
		"policy.live_weight":   c.Policy.LiveWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", name)
		}
	}
	if c.Policy.MinConfidence < 0 || c.Policy.MinConfidence > 100 {
		return fmt.Errorf("policy.min_confidence must be between 0 and 100")
	}
	if c.Policy.MaxStake <= 0 {
		return fmt.Errorf("policy.max_stake must be positive")
	}

	// Validate learning config
	if c.Learning.Interval < 1 {
		return fmt.Errorf("learning.interval must be at least 1")
	}
	if c.Learning.Window < 1 {
		return fmt.Errorf("learning.window must be at least 1")
	}
	if c.Learning.HistoryCap < c.Learning.Window {
		return fmt.Errorf("learning.history_cap must be at least learning.window")
	}
	if c.Learning.RollbackMargin < 0 {
		return fmt.Errorf("learning.rollback_margin must not be negative")
	}

	// Validate ensemble config
	if len(c.Ensemble.Weights) == 0 {
		return fmt.Errorf("ensemble.weights must contain at least one estimator")
	}
	var total float64
	for name, w := range c.Ensemble.Weights {
		if w < 0 {
			return fmt.Errorf("ensemble.weights.%s must not be negative", name)
		}
		total += w
	}
	if math.Abs(total-1.0) > 0.01 {
		return fmt.Errorf("ensemble.weights must sum to 1.0 (got %.2f)", total)
	}

	// Validate pipeline config
	if c.Pipeline.PollInterval < 1*time.Minute {
		return fmt.Errorf("pipeline.poll_interval must be at least 1 minute")
	}
	if c.Pipeline.TopK < 1 {
		return fmt.Errorf("pipeline.top_k must be at least 1")
	}
	if c.Pipeline.MinQuality < 0 || c.Pipeline.MinQuality > 100 {
		return fmt.Errorf("pipeline.min_quality must be between 0 and 100")
	}

	// Validate storage config
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.KV != "sqlite" && c.Storage.KV != "redis" {
		return fmt.Errorf("storage.kv must be one of: sqlite, redis")
	}
	if c.Storage.KV == "redis" && c.Storage.RedisAddr == "" {
		return fmt.Errorf("storage.redis_addr is required when storage.kv is redis")
	}
	if c.Storage.MaxPredictions < 1 {
		return fmt.Errorf("storage.max_predictions must be at least 1")
	}

	// Validate server config
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
