// Package config loads and validates the process configuration. The config
// is constructed once in main and passed by reference into every component;
// anything required is checked up front so stages never discover a missing
// setting deep inside a batch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Followup FollowupConfig `yaml:"followup"`
	Sender   SenderConfig   `yaml:"sender"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// InternalSecret authenticates the runner endpoints. Requests must
	// carry it in the X-Internal-Secret header.
	InternalSecret string `yaml:"internal_secret"`
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds the optional Redis settings for the runner overlap lock.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LLMStage names one pipeline stage with its own model deployment.
type LLMStage string

const (
	StageClassifier LLMStage = "classifier"
	StageWriter     LLMStage = "writer"
	StageQA         LLMStage = "qa"
	StageQARecheck  LLMStage = "qa_recheck"
	StageRewrite    LLMStage = "rewrite"
	StageFollowup   LLMStage = "followup"
)

// LLMConfig holds the completion-service settings. BaseURL, APIKey and the
// per-stage model are all required for a stage to run.
type LLMConfig struct {
	BaseURL        string            `yaml:"base_url"`
	APIKey         string            `yaml:"api_key"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	MaxRetries     int               `yaml:"max_retries"`
	Models         map[string]string `yaml:"models"`
}

// Timeout returns the completion-call ceiling.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ModelFor returns the deployment name for a stage, empty if unset.
func (c LLMConfig) ModelFor(stage LLMStage) string {
	return c.Models[string(stage)]
}

// ValidateStage fails closed when any required completion setting for the
// stage is missing.
func (c LLMConfig) ValidateStage(stage LLMStage) error {
	if c.BaseURL == "" {
		return fmt.Errorf("llm: base_url not configured")
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm: api_key not configured")
	}
	if c.ModelFor(stage) == "" {
		return fmt.Errorf("llm: no model configured for stage %q", stage)
	}
	return nil
}

// PipelineConfig holds draft/QA batch settings.
type PipelineConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// FollowupConfig holds follow-up scheduler settings.
type FollowupConfig struct {
	BatchSize          int     `yaml:"batch_size"`
	ConfidenceFloor    float64 `yaml:"confidence_floor"`
	BackoffMinutes     int     `yaml:"backoff_minutes"`
	MaxFailures        int     `yaml:"max_failures"`
	DefaultStage1Hours int     `yaml:"default_stage1_hours"`
	DefaultStage2Hours int     `yaml:"default_stage2_hours"`
}

// Backoff returns the retry delay applied after a failed follow-up run.
func (c FollowupConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMinutes) * time.Minute
}

// SenderConfig holds outbound provider settings.
type SenderConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider"` // "ses" or "stub"
	AWSRegion string `yaml:"aws_region"`
	// AWSAccessKey and AWSSecretKey are optional. When empty the SDK's
	// default credential chain is used (instance role, env, shared file).
	AWSAccessKey string `yaml:"aws_access_key"`
	AWSSecretKey string `yaml:"aws_secret_key"`
	BatchSize    int    `yaml:"batch_size"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 25
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 20
	}
	if cfg.Followup.BatchSize == 0 {
		cfg.Followup.BatchSize = 50
	}
	if cfg.Followup.ConfidenceFloor == 0 {
		cfg.Followup.ConfidenceFloor = 0.7
	}
	if cfg.Followup.BackoffMinutes == 0 {
		cfg.Followup.BackoffMinutes = 30
	}
	if cfg.Followup.MaxFailures == 0 {
		cfg.Followup.MaxFailures = 5
	}
	if cfg.Followup.DefaultStage1Hours == 0 {
		cfg.Followup.DefaultStage1Hours = 48
	}
	if cfg.Followup.DefaultStage2Hours == 0 {
		cfg.Followup.DefaultStage2Hours = 96
	}
	if cfg.Sender.Provider == "" {
		cfg.Sender.Provider = "ses"
	}
	if cfg.Sender.AWSRegion == "" {
		cfg.Sender.AWSRegion = "eu-central-1"
	}
	if cfg.Sender.BatchSize == 0 {
		cfg.Sender.BatchSize = 20
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
}

// LoadFromEnv loads the config file with environment variable overrides.
// A .env file is read first if present, so secrets can live there locally
// and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("INTERNAL_SECRET"); v != "" {
		cfg.Server.InternalSecret = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Sender.AWSRegion = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Sender.AWSAccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Sender.AWSSecretKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// Validate fails fast on anything the process cannot run without.
// Per-stage completion settings are additionally re-checked at request time
// via LLMConfig.ValidateStage so a stage fails closed rather than partially.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if cfg.Server.InternalSecret == "" {
		return fmt.Errorf("config: server.internal_secret is required")
	}
	if cfg.Followup.ConfidenceFloor < 0 || cfg.Followup.ConfidenceFloor > 1 {
		return fmt.Errorf("config: followup.confidence_floor must be in [0,1]")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	return nil
}
