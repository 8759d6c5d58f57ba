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
	Nylas      NylasConfig      `yaml:"nylas" mapstructure:"nylas"`
	Recall     RecallConfig     `yaml:"recall" mapstructure:"recall"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Summarize  SummarizeConfig  `yaml:"summarize" mapstructure:"summarize"`
	Meetings   MeetingsConfig   `yaml:"meetings" mapstructure:"meetings"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// NylasConfig holds email/calendar provider API settings.
type NylasConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec int    `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RecallConfig holds meeting bot provider API settings.
type RecallConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	BotName        string `yaml:"bot_name" mapstructure:"bot_name"`
	RequestsPerSec int    `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the optional
// CRM export.
type SalesforceConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	ClientID       string `yaml:"client_id" mapstructure:"client_id"`
	Username       string `yaml:"username" mapstructure:"username"`
	KeyPath        string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL       string `yaml:"login_url" mapstructure:"login_url"`
	RequestsPerSec int    `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// SyncConfig configures page fetching and the lookback window.
type SyncConfig struct {
	DefaultLookbackDays  int `yaml:"default_lookback_days" mapstructure:"default_lookback_days"`
	WatermarkBufferHours int `yaml:"watermark_buffer_hours" mapstructure:"watermark_buffer_hours"`
	PageSize             int `yaml:"page_size" mapstructure:"page_size"`
}

// PipelineConfig configures the conversation stage pipeline.
type PipelineConfig struct {
	ChunkTokenLimit int    `yaml:"chunk_token_limit" mapstructure:"chunk_token_limit"`
	CleanRulesPath  string `yaml:"clean_rules_path" mapstructure:"clean_rules_path"`
}

// SummarizeConfig configures the summarization engine.
type SummarizeConfig struct {
	MapConcurrency int `yaml:"map_concurrency" mapstructure:"map_concurrency"`
}

// MeetingsConfig configures the bot dispatcher state machine.
type MeetingsConfig struct {
	JoinOffsetMins        int `yaml:"join_offset_mins" mapstructure:"join_offset_mins"`
	DebounceMins          int `yaml:"debounce_mins" mapstructure:"debounce_mins"`
	StuckSchedulingMins   int `yaml:"stuck_scheduling_mins" mapstructure:"stuck_scheduling_mins"`
	StuckReschedulingMins int `yaml:"stuck_rescheduling_mins" mapstructure:"stuck_rescheduling_mins"`
	MaxRetries            int `yaml:"max_retries" mapstructure:"max_retries"`
}

// WorkerConfig sizes the worker loops.
type WorkerConfig struct {
	PageWorkers      int `yaml:"page_workers" mapstructure:"page_workers"`
	StageWorkers     int `yaml:"stage_workers" mapstructure:"stage_workers"`
	SummaryWorkers   int `yaml:"summary_workers" mapstructure:"summary_workers"`
	MeetingWorkers   int `yaml:"meeting_workers" mapstructure:"meeting_workers"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	CheckerSecs      int `yaml:"checker_secs" mapstructure:"checker_secs"`
}

// ResilienceConfig tunes the shared retry planner, in-process HTTP
// retries, and the provider circuit breakers.
type ResilienceConfig struct {
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	TransientBaseSecs int `yaml:"transient_base_secs" mapstructure:"transient_base_secs"`
	TransientCapSecs  int `yaml:"transient_cap_secs" mapstructure:"transient_cap_secs"`
	InfraBaseSecs     int `yaml:"infra_base_secs" mapstructure:"infra_base_secs"`
	InfraCapSecs      int `yaml:"infra_cap_secs" mapstructure:"infra_cap_secs"`
	HTTPMaxAttempts   int `yaml:"http_max_attempts" mapstructure:"http_max_attempts"`
	HTTPBackoffMs     int `yaml:"http_backoff_ms" mapstructure:"http_backoff_ms"`
	HTTPMaxBackoffMs  int `yaml:"http_max_backoff_ms" mapstructure:"http_max_backoff_ms"`
	CircuitThreshold  int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs  int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// MonitoringConfig configures the metrics checker and webhook alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	IntervalMins         int     `yaml:"interval_mins" mapstructure:"interval_mins"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// ServerConfig configures the HTTP job surface.
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
	v.SetEnvPrefix("INBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 16)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("nylas.base_url", "https://api.us.nylas.com")
	v.SetDefault("nylas.requests_per_sec", 10)
	v.SetDefault("nylas.timeout_secs", 60)
	v.SetDefault("recall.base_url", "https://us-east-1.recall.ai")
	v.SetDefault("recall.bot_name", "Notetaker")
	v.SetDefault("recall.requests_per_sec", 5)
	v.SetDefault("recall.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.requests_per_sec", 5)
	v.SetDefault("sync.default_lookback_days", 90)
	v.SetDefault("sync.watermark_buffer_hours", 24)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("pipeline.chunk_token_limit", 8000)
	v.SetDefault("summarize.map_concurrency", 4)
	v.SetDefault("meetings.join_offset_mins", 2)
	v.SetDefault("meetings.debounce_mins", 5)
	v.SetDefault("meetings.stuck_scheduling_mins", 15)
	v.SetDefault("meetings.stuck_rescheduling_mins", 10)
	v.SetDefault("meetings.max_retries", 3)
	v.SetDefault("worker.page_workers", 4)
	v.SetDefault("worker.stage_workers", 2)
	v.SetDefault("worker.summary_workers", 2)
	v.SetDefault("worker.meeting_workers", 1)
	v.SetDefault("worker.poll_interval_secs", 15)
	v.SetDefault("worker.checker_secs", 30)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.transient_base_secs", 60)
	v.SetDefault("resilience.transient_cap_secs", 1800)
	v.SetDefault("resilience.infra_base_secs", 300)
	v.SetDefault("resilience.infra_cap_secs", 7200)
	v.SetDefault("resilience.http_max_attempts", 3)
	v.SetDefault("resilience.http_backoff_ms", 500)
	v.SetDefault("resilience.http_max_backoff_ms", 30000)
	v.SetDefault("resilience.circuit_threshold", 5)
	v.SetDefault("resilience.circuit_reset_secs", 30)
	v.SetDefault("monitoring.interval_mins", 15)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.backlog_threshold", 200)

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
