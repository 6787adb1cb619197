package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. SCRY_SERVER_PORT.
const EnvPrefix = "SCRY"

// keys without defaults still need an explicit binding so that Unmarshal
// sees values that only come from the environment.
var envOnlyKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"llm.gemini_api_key",
	"llm.openai_api_key",
	"llm.base_url",
	"queue.url",
	"idempotency.redis_url",
	"llm.prompt_template_dir",
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWithPaths(".", "./config")
}

// LoadWithPaths is Load with explicit search paths for config.yaml.
func LoadWithPaths(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", DatabasePostgres)
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("llm.driver", DriverGemini)
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_output_tokens", 1024)
	v.SetDefault("llm.max_output_tokens_limit", 8192)
	v.SetDefault("llm.request_timeout", "30s")

	v.SetDefault("generation.mode", ModeInline)
	v.SetDefault("generation.inline_wait", "45s")

	v.SetDefault("queue.name", "ai_feedback_generation")
	v.SetDefault("queue.prefetch", 4)
	v.SetDefault("queue.publish_timeout", "5s")
	v.SetDefault("queue.buffer_size", 100)

	v.SetDefault("idempotency.backend", IndexLedger)
	v.SetDefault("idempotency.key_prefix", "scry-feedback")
	v.SetDefault("idempotency.ttl", "0s")
	v.SetDefault("idempotency.claim_attempts", 5)
	v.SetDefault("idempotency.claim_wait", "50ms")

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.stuck_after", "10m")
	v.SetDefault("task.monitor_interval", "1m")
	v.SetDefault("task.requeue_delay", "1s")
	v.SetDefault("task.max_requeue_delay", "30s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.worker_port", 9091)
}
