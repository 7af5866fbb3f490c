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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	MCP        MCPConfig        `yaml:"mcp" mapstructure:"mcp"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the shared coordination store.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// QueueConfig configures the durable lead queue.
type QueueConfig struct {
	Name          string `yaml:"name" mapstructure:"name"`
	MaxAttempts   int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs   int    `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	LeaseSecs     int    `yaml:"lease_secs" mapstructure:"lease_secs"`
	ReapIntervalS int    `yaml:"reap_interval_secs" mapstructure:"reap_interval_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string  `yaml:"client_id" mapstructure:"client_id"`
	Username string  `yaml:"username" mapstructure:"username"`
	KeyPath  string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string  `yaml:"login_url" mapstructure:"login_url"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
}

// EnrichmentConfig holds the firmographic provider settings.
type EnrichmentConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CRMConfig selects and tunes the CRM executor.
type CRMConfig struct {
	Provider           string `yaml:"provider" mapstructure:"provider"`
	RateLimitRequests  int    `yaml:"rate_limit_requests" mapstructure:"rate_limit_requests"`
	RateLimitWindowSec int    `yaml:"rate_limit_window_seconds" mapstructure:"rate_limit_window_seconds"`
}

// MCPConfig tunes the safety and quota core.
type MCPConfig struct {
	LeadLimit          int `yaml:"lead_limit" mapstructure:"lead_limit"`
	AccountLimit       int `yaml:"account_limit" mapstructure:"account_limit"`
	GlobalLimit        int `yaml:"global_limit" mapstructure:"global_limit"`
	LimitWindowSecs    int `yaml:"limit_window_secs" mapstructure:"limit_window_secs"`
	IdempotencyWindowM int `yaml:"idempotency_window_mins" mapstructure:"idempotency_window_mins"`
	IdempotencyTTLH    int `yaml:"idempotency_ttl_hours" mapstructure:"idempotency_ttl_hours"`
}

// WorkerConfig configures the lead worker pool.
type WorkerConfig struct {
	Concurrency    int `yaml:"concurrency" mapstructure:"concurrency"`
	JobTimeoutSecs int `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
	ShutdownGraceS int `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
}

// ServerConfig configures the ingress webhook server.
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
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("queue.name", "lead-processing")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.base_delay_ms", 1000)
	v.SetDefault("queue.lease_secs", 90)
	v.SetDefault("queue.reap_interval_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rps", 5.0)
	v.SetDefault("enrichment.provider", "static")
	v.SetDefault("enrichment.timeout_secs", 10)
	v.SetDefault("crm.provider", "MOCK")
	v.SetDefault("crm.rate_limit_requests", 1000)
	v.SetDefault("crm.rate_limit_window_seconds", 60)
	v.SetDefault("mcp.lead_limit", 10)
	v.SetDefault("mcp.account_limit", 100)
	v.SetDefault("mcp.global_limit", 1000)
	v.SetDefault("mcp.limit_window_secs", 60)
	v.SetDefault("mcp.idempotency_window_mins", 60)
	v.SetDefault("mcp.idempotency_ttl_hours", 48)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.job_timeout_secs", 60)
	v.SetDefault("worker.shutdown_grace_secs", 25)
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
