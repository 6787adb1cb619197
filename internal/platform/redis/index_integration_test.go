//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/platform/redis"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/phrazzld/scry-feedback-api/internal/store/storetest"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type IndexIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	client    *goredis.Client
}

func TestIndexIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed tests in short mode")
	}
	suite.Run(t, new(IndexIntegrationSuite))
}

func (s *IndexIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		s.T().Skipf("redis container unavailable: %v", err)
	}
	s.container = container

	url, err := container.ConnectionString(s.ctx)
	require.NoError(s.T(), err)

	s.client, err = redis.Connect(s.ctx, url)
	require.NoError(s.T(), err)
}

func (s *IndexIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *IndexIntegrationSuite) TestContract() {
	storetest.RunIndexTests(s.T(), func(t *testing.T) store.RecordIndex {
		// A fresh prefix isolates every subtest without flushing the server.
		return redis.NewIndex(s.client, "test-"+uuid.NewString(), 0, nil)
	})
}

func (s *IndexIntegrationSuite) TestKeyLayoutAndTTL() {
	t := s.T()
	prefix := "ttl-" + uuid.NewString()
	index := redis.NewIndex(s.client, prefix, time.Minute, nil)
	first, second := uuid.New(), uuid.New()

	won, err := index.Claim(s.ctx, "er-1", first)
	require.NoError(t, err)
	require.True(t, won)

	key := prefix + ":record:er-1"
	val, err := s.client.Get(s.ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, first.String(), val)

	ttl, err := s.client.PTTL(s.ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	swapped, err := index.Swap(s.ctx, "er-1", first, second)
	require.NoError(t, err)
	require.True(t, swapped)

	ttl, err = s.client.PTTL(s.ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second, "swap refreshes the TTL")
}

func (s *IndexIntegrationSuite) TestLookupCorruptEntry() {
	t := s.T()
	prefix := "corrupt-" + uuid.NewString()
	require.NoError(t, s.client.Set(s.ctx, prefix+":record:er-1", "not-a-uuid", 0).Err())

	_, err := redis.NewIndex(s.client, prefix, 0, nil).Lookup(s.ctx, "er-1")
	require.Error(t, err)
	var storeErr *store.StoreError
	assert.ErrorAs(t, err, &storeErr)
}
