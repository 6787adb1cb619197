// Package bootstrap builds the infrastructure components shared by the
// server and worker binaries from the loaded configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/generation"
	"github.com/phrazzld/scry-feedback-api/internal/idempotency"
	"github.com/phrazzld/scry-feedback-api/internal/platform/gemini"
	"github.com/phrazzld/scry-feedback-api/internal/platform/ollama"
	"github.com/phrazzld/scry-feedback-api/internal/platform/openai"
	"github.com/phrazzld/scry-feedback-api/internal/platform/postgres"
	"github.com/phrazzld/scry-feedback-api/internal/platform/rabbitmq"
	"github.com/phrazzld/scry-feedback-api/internal/platform/redis"
	"github.com/phrazzld/scry-feedback-api/internal/platform/sqlite"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// ErrProviderNotConfigured is returned by NewGenerator when the llm driver
// is "none" or lacks its credentials.
var ErrProviderNotConfigured = errors.New("generation provider not configured")

// connectTimeout bounds the initial database and redis pings.
const connectTimeout = 5 * time.Second

// OpenDatabase opens the ledger database for the configured driver and
// verifies the connection.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Driver {
	case config.DatabaseSQLite:
		db, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite ledger: %s", redact.Error(err))
		}
		logger.Info("database connection established", "driver", cfg.Driver)
		return db, nil

	case config.DatabasePostgres:
		db, err := sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %s", redact.Error(err))
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %s", redact.Error(err))
		}
		logger.Info("database connection established",
			"driver", cfg.Driver,
			"max_open_conns", cfg.MaxOpenConns)
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewLedger returns the task ledger for the configured driver.
func NewLedger(db *sql.DB, driver string, logger *slog.Logger) store.TaskLedger {
	if driver == config.DatabaseSQLite {
		return sqlite.NewTaskStore(db, logger)
	}
	return postgres.NewTaskStore(db, logger)
}

// NewMigrator returns the goose migrator for the configured driver.
func NewMigrator(db *sql.DB, driver string, logger *slog.Logger) *postgres.Migrator {
	if driver == config.DatabaseSQLite {
		return sqlite.NewMigrator(db, logger)
	}
	return postgres.NewMigrator(db, "postgres", postgres.Migrations(), logger)
}

// Index is a record index together with the function releasing its
// resources.
type Index struct {
	store.RecordIndex
	Close func() error
}

// NewIndex builds the idempotency index selected by cfg.Backend. The ledger
// backend shares db with the task ledger.
func NewIndex(ctx context.Context, cfg config.IdempotencyConfig, db *sql.DB, driver string, logger *slog.Logger) (*Index, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.IndexLedger:
		if driver == config.DatabaseSQLite {
			return &Index{RecordIndex: sqlite.NewRecordIndex(db, logger), Close: noop}, nil
		}
		return &Index{RecordIndex: postgres.NewRecordIndex(db, logger), Close: noop}, nil

	case config.IndexRedis:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect idempotency index: %s", redact.Error(err))
		}
		logger.Info("redis idempotency index connected", "key_prefix", cfg.KeyPrefix)
		return &Index{RecordIndex: redis.NewIndex(client, cfg.KeyPrefix, cfg.TTL, logger), Close: client.Close}, nil

	case config.IndexMemory:
		logger.Warn("using in-process idempotency index; do not run more than one API instance")
		return &Index{RecordIndex: idempotency.NewMemoryIndex(), Close: noop}, nil

	default:
		return nil, fmt.Errorf("unsupported idempotency backend %q", cfg.Backend)
	}
}

// NewProvider constructs the text provider for the configured llm driver.
func NewProvider(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (generation.TextProvider, error) {
	if !cfg.ProviderConfigured() {
		return nil, ErrProviderNotConfigured
	}

	var (
		provider generation.TextProvider
		err      error
	)
	switch cfg.Driver {
	case config.DriverGemini:
		provider, err = gemini.NewProvider(ctx, logger, cfg)
	case config.DriverOpenAI:
		provider, err = openai.NewProvider(logger, cfg)
	case config.DriverOllama:
		provider, err = ollama.NewProvider(logger, cfg)
	default:
		return nil, ErrProviderNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s provider: %s", cfg.Driver, redact.Error(err))
	}
	return provider, nil
}

// NewGenerator builds the feedback generation client over the configured
// provider. Prompts come from cfg.PromptTemplateDir when set.
func NewGenerator(
	ctx context.Context,
	cfg config.LLMConfig,
	observer generation.Observer,
	logger *slog.Logger,
) (*generation.Client, error) {
	provider, err := NewProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var prompts *generation.Prompts
	if cfg.PromptTemplateDir != "" {
		prompts, err = generation.LoadPrompts(cfg.PromptTemplateDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt templates: %w", err)
		}
	}

	client, err := generation.NewClient(provider, generation.ClientConfig{
		MaxOutputTokens: cfg.MaxOutputTokens,
		RequestTimeout:  cfg.RequestTimeout,
		Prompts:         prompts,
		Observer:        observer,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("generation provider initialized",
		"driver", cfg.Driver,
		"model", provider.Model())
	return client, nil
}

// DialQueue connects to the durable job queue.
func DialQueue(cfg config.QueueConfig, logger *slog.Logger) (*rabbitmq.Queue, error) {
	return rabbitmq.Dial(rabbitmq.Config{
		URL:            cfg.URL,
		Name:           cfg.Name,
		Prefetch:       cfg.Prefetch,
		PublishTimeout: cfg.PublishTimeout,
	}, logger)
}
