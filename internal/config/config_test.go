package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	// Create temp config file
	content := `
sources:
  - name: apifootball
    kind: apifootball
    base_url: https://v3.football.api-sports.io
    api_key_env: TEST_APIFOOTBALL_KEY
    priority: 1
    rate_limit_per_hour: 100
    capabilities: [matches, odds, statistics, history]
  - name: footballdata
    kind: footballdata
    base_url: https://api.football-data.org/v4
    api_key: inline-key
    priority: 2
    rate_limit_per_hour: 10
    timeout: 5s

breaker:
  cooldown: 120s

pipeline:
  poll_interval: 2m
  top_k: 3

telegram:
  chat_id: "12345"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TEST_APIFOOTBALL_KEY", "from-env")
	t.Setenv("MATCH_ORACLE_TELEGRAM_BOT_TOKEN", "env-token")

	// Test Load
	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify values
	if len(cfg.Sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[0].APIKey != "from-env" {
		t.Errorf("Expected API key resolved from env, got %q", cfg.Sources[0].APIKey)
	}
	if cfg.Sources[1].APIKey != "inline-key" {
		t.Errorf("Inline API key should be kept, got %q", cfg.Sources[1].APIKey)
	}
	if cfg.Sources[0].Timeout != 10*time.Second {
		t.Errorf("Expected default source timeout 10s, got %v", cfg.Sources[0].Timeout)
	}
	if cfg.Sources[1].Timeout != 5*time.Second {
		t.Errorf("Unexpected source timeout: %v", cfg.Sources[1].Timeout)
	}
	if cfg.Breaker.Cooldown != 120*time.Second {
		t.Errorf("Unexpected breaker cooldown: %v", cfg.Breaker.Cooldown)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("Unexpected failure threshold: %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Policy.MinConfidence != 40 {
		t.Errorf("Unexpected min confidence: %v", cfg.Policy.MinConfidence)
	}
	if cfg.Policy.MinExpectedValue != -0.05 {
		t.Errorf("Unexpected min expected value: %v", cfg.Policy.MinExpectedValue)
	}
	if cfg.Learning.Interval != 10 || cfg.Learning.Window != 50 || cfg.Learning.HistoryCap != 200 {
		t.Errorf("Unexpected learning config: %+v", cfg.Learning)
	}
	if len(cfg.Ensemble.Weights) != 6 {
		t.Errorf("Expected 6 default estimator weights, got %d", len(cfg.Ensemble.Weights))
	}
	if cfg.Pipeline.PollInterval != 2*time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Pipeline.PollInterval)
	}
	if cfg.Storage.KeyPrefix != "matchoracle" {
		t.Errorf("Unexpected key prefix: %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Telegram.BotToken != "env-token" {
		t.Errorf("Expected bot token from env, got %q", cfg.Telegram.BotToken)
	}

	// Test Validate
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Sources: []SourceConfig{
			{Name: "apifootball", Kind: "apifootball", BaseURL: "https://example.com", Priority: 1, RateLimitPerHour: 100},
		},
		Breaker:    BreakerConfig{FailureThreshold: 3, Cooldown: 300 * time.Second, Window: time.Hour},
		Aggregator: AggregatorConfig{CallTimeout: 10 * time.Second, MaxConcurrency: 4},
		Policy: PolicyConfig{
			H2HWeight:        0.4,
			H2HMinMatches:    3,
			FormFactor:       0.3,
			SeasonWeight:     0.15,
			LiveWeight:       0.15,
			GoalLeadBoost:    10,
			GoalTrailPenalty: 8,
			MinConfidence:    40,
			MinExpectedValue: -0.05,
			MaxStake:         10,
		},
		Learning: LearningConfig{Interval: 10, Window: 50, HistoryCap: 200, RollbackMargin: 5, BiasStep: 1},
		Ensemble: EnsembleConfig{Weights: map[string]float64{"composite": 0.5, "market": 0.5}},
		Pipeline: PipelineConfig{PollInterval: 5 * time.Minute, TopK: 5, CooldownMultiplier: 6, MinQuality: 30},
		Storage:  StorageConfig{Driver: "sqlite", KV: "sqlite", MaxPredictions: 1000},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "no sources",
			mutate:  func(c *Config) { c.Sources = nil },
			wantErr: true,
		},
		{
			name: "duplicate source names",
			mutate: func(c *Config) {
				c.Sources = append(c.Sources, c.Sources[0])
			},
			wantErr: true,
		},
		{
			name:    "unknown source kind",
			mutate:  func(c *Config) { c.Sources[0].Kind = "scraper" },
			wantErr: true,
		},
		{
			name: "static source without fixtures",
			mutate: func(c *Config) {
				c.Sources[0].Kind = "static"
				c.Sources[0].BaseURL = ""
			},
			wantErr: true,
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.Sources[0].RateLimitPerHour = 0 },
			wantErr: true,
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Breaker.FailureThreshold = 0 },
			wantErr: true,
		},
		{
			name:    "h2h weight above one",
			mutate:  func(c *Config) { c.Policy.H2HWeight = 1.5 },
			wantErr: true,
		},
		{
			name:    "history cap below window",
			mutate:  func(c *Config) { c.Learning.HistoryCap = 10 },
			wantErr: true,
		},
		{
			name:    "ensemble weights do not sum to one",
			mutate:  func(c *Config) { c.Ensemble.Weights["form"] = 0.4 },
			wantErr: true,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: true,
		},
		{
			name:    "redis kv without address",
			mutate:  func(c *Config) { c.Storage.KV = "redis" },
			wantErr: true,
		},
		{
			name:    "missing telegram token when enabled",
			mutate:  func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
