package config

import (
	"errors"
	"fmt"
	"time"
)

// Generation modes. Exactly one is active per environment so that a single
// kind of writer produces terminal task states.
const (
	ModeInline = "inline"
	ModeQueued = "queued"
)

// LLM drivers selectable at configuration time.
const (
	DriverGemini = "gemini"
	DriverOpenAI = "openai"
	DriverOllama = "ollama"
	DriverNone   = "none"
)

// Database drivers.
const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// Idempotency index backends.
const (
	IndexLedger = "ledger"
	IndexRedis  = "redis"
	IndexMemory = "memory"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth"`
	LLM         LLMConfig         `mapstructure:"llm" validate:"required"`
	Generation  GenerationConfig  `mapstructure:"generation" validate:"required"`
	Queue       QueueConfig       `mapstructure:"queue" validate:"required"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency" validate:"required"`
	Task        TaskConfig        `mapstructure:"task" validate:"required"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains the task ledger connection settings.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL          string `mapstructure:"url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// AuthConfig controls verification of bearer tokens issued by the platform's
// auth service. This service never issues tokens itself.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// LLMConfig contains generation provider settings.
type LLMConfig struct {
	Driver               string        `mapstructure:"driver" validate:"required,oneof=gemini openai ollama none"`
	GeminiAPIKey         string        `mapstructure:"gemini_api_key"`
	OpenAIAPIKey         string        `mapstructure:"openai_api_key"`
	BaseURL              string        `mapstructure:"base_url" validate:"omitempty,url"`
	ModelName            string        `mapstructure:"model_name"`
	Temperature          float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens      int           `mapstructure:"max_output_tokens" validate:"gt=0"`
	MaxOutputTokensLimit int           `mapstructure:"max_output_tokens_limit" validate:"gt=0"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	PromptTemplateDir    string        `mapstructure:"prompt_template_dir"`
}

// GenerationConfig selects how accepted submissions are executed.
type GenerationConfig struct {
	Mode       string        `mapstructure:"mode" validate:"required,oneof=inline queued"`
	InlineWait time.Duration `mapstructure:"inline_wait" validate:"gte=0"`
}

// QueueConfig configures the job queue. In inline mode only BufferSize is used.
type QueueConfig struct {
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name" validate:"required"`
	Prefetch       int           `mapstructure:"prefetch" validate:"gte=1"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
	BufferSize     int           `mapstructure:"buffer_size" validate:"gte=1"`
}

// IdempotencyConfig selects and tunes the record index.
type IdempotencyConfig struct {
	Backend       string        `mapstructure:"backend" validate:"required,oneof=ledger redis memory"`
	RedisURL      string        `mapstructure:"redis_url"`
	KeyPrefix     string        `mapstructure:"key_prefix" validate:"required"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
	ClaimAttempts int           `mapstructure:"claim_attempts" validate:"gte=1"`
	ClaimWait     time.Duration `mapstructure:"claim_wait" validate:"gte=0"`
}

// TaskConfig tunes the worker pool and the stuck-task monitor.
type TaskConfig struct {
	WorkerCount     int           `mapstructure:"worker_count" validate:"gte=1"`
	StuckAfter      time.Duration `mapstructure:"stuck_after" validate:"gt=0"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval" validate:"gt=0"`
	RequeueDelay    time.Duration `mapstructure:"requeue_delay" validate:"gte=0"`
	MaxRequeueDelay time.Duration `mapstructure:"max_requeue_delay" validate:"gtefield=RequeueDelay"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	WorkerPort int  `mapstructure:"worker_port" validate:"gte=0,lt=65536"`
}

// ProviderConfigured reports whether the configured driver has what it
// needs to be constructed. It does not contact the provider.
func (c LLMConfig) ProviderConfigured() bool {
	switch c.Driver {
	case DriverGemini:
		return c.GeminiAPIKey != ""
	case DriverOpenAI:
		return c.OpenAIAPIKey != ""
	case DriverOllama:
		return c.BaseURL != ""
	default:
		return false
	}
}

// Validate applies the cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Driver {
	case DriverGemini:
		if c.LLM.GeminiAPIKey == "" {
			errs = append(errs, errors.New("llm.gemini_api_key is required for the gemini driver"))
		}
	case DriverOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("llm.openai_api_key is required for the openai driver"))
		}
	case DriverOllama:
		if c.LLM.BaseURL == "" {
			errs = append(errs, errors.New("llm.base_url is required for the ollama driver"))
		}
	}

	if c.LLM.MaxOutputTokens > c.LLM.MaxOutputTokensLimit {
		errs = append(errs, fmt.Errorf("llm.max_output_tokens (%d) exceeds llm.max_output_tokens_limit (%d)",
			c.LLM.MaxOutputTokens, c.LLM.MaxOutputTokensLimit))
	}

	if c.Generation.Mode == ModeQueued && c.Queue.URL == "" {
		errs = append(errs, errors.New("queue.url is required in queued mode"))
	}

	if c.Idempotency.Backend == IndexRedis && c.Idempotency.RedisURL == "" {
		errs = append(errs, errors.New("idempotency.redis_url is required for the redis backend"))
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is enabled"))
	}

	return errors.Join(errs...)
}
