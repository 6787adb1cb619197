//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/scry-feedback-api/internal/platform/postgres"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/phrazzld/scry-feedback-api/internal/store/storetest"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type StoreIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	db        *sql.DB
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed tests in short mode")
	}
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("feedback_test"),
		tcpostgres.WithUsername("feedback"),
		tcpostgres.WithPassword("feedback"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	if err != nil {
		s.T().Skipf("postgres container unavailable: %v", err)
	}
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.db, err = sql.Open("pgx", dsn)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.db.PingContext(s.ctx))

	require.NoError(s.T(), postgres.NewMigrator(s.db, "postgres", postgres.Migrations(), nil).Up(s.ctx))
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *StoreIntegrationSuite) truncate(t *testing.T) {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE generation_tasks, record_index`)
	require.NoError(t, err)
}

func (s *StoreIntegrationSuite) TestTaskStore() {
	storetest.RunLedgerTests(s.T(), func(t *testing.T) store.TaskLedger {
		s.truncate(t)
		return postgres.NewTaskStore(s.db, nil)
	})
}

func (s *StoreIntegrationSuite) TestRecordIndex() {
	storetest.RunIndexTests(s.T(), func(t *testing.T) store.RecordIndex {
		s.truncate(t)
		return postgres.NewRecordIndex(s.db, nil)
	})
}

func (s *StoreIntegrationSuite) TestMigrationsAreIdempotent() {
	migrator := postgres.NewMigrator(s.db, "postgres", postgres.Migrations(), nil)
	require.NoError(s.T(), migrator.Up(s.ctx))
	require.NoError(s.T(), migrator.Run(s.ctx, "version"))
}
