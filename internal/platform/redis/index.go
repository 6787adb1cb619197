// Package redis implements the idempotency record index on Redis. Claims use
// SETNX and the compare-and-swap / compare-and-delete steps run as Lua
// scripts, so every mutation is a single atomic command on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/platform/logger"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

// swapScript replaces KEYS[1] with ARGV[2] only while it holds ARGV[1].
// ARGV[3] is the TTL in milliseconds, 0 for none.
var swapScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// releaseScript deletes KEYS[1] only while it holds ARGV[1].
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Index implements store.RecordIndex on Redis.
type Index struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.RecordIndex = (*Index)(nil)

// NewIndex creates an Index. Keys are named "<prefix>:record:<id>"; a ttl of
// zero keeps entries until they are replaced.
func NewIndex(client *goredis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Index {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "redis_record_index")),
	}
}

// Connect parses a redis:// URL, creates a client and pings it.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %s", redact.String(err.Error()))
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (i *Index) key(exerciseRecordID string) string {
	return i.prefix + ":record:" + exerciseRecordID
}

// Claim implements store.RecordIndex.Claim.
func (i *Index) Claim(ctx context.Context, exerciseRecordID string, taskID uuid.UUID) (bool, error) {
	ok, err := i.client.SetNX(ctx, i.key(exerciseRecordID), taskID.String(), i.ttl).Result()
	if err != nil {
		return false, i.fail(ctx, "claim", exerciseRecordID, err)
	}
	return ok, nil
}

// Lookup implements store.RecordIndex.Lookup.
func (i *Index) Lookup(ctx context.Context, exerciseRecordID string) (uuid.UUID, error) {
	val, err := i.client.Get(ctx, i.key(exerciseRecordID)).Result()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, store.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, i.fail(ctx, "lookup", exerciseRecordID, err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, store.NewStoreError("record_index", "lookup", "corrupt entry", err)
	}
	return id, nil
}

// Swap implements store.RecordIndex.Swap.
func (i *Index) Swap(ctx context.Context, exerciseRecordID string, expected, replacement uuid.UUID) (bool, error) {
	n, err := swapScript.Run(ctx, i.client,
		[]string{i.key(exerciseRecordID)},
		expected.String(), replacement.String(), i.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, i.fail(ctx, "swap", exerciseRecordID, err)
	}
	return n == 1, nil
}

// Release implements store.RecordIndex.Release.
func (i *Index) Release(ctx context.Context, exerciseRecordID string, taskID uuid.UUID) error {
	if err := releaseScript.Run(ctx, i.client,
		[]string{i.key(exerciseRecordID)}, taskID.String(),
	).Err(); err != nil {
		return i.fail(ctx, "release", exerciseRecordID, err)
	}
	return nil
}

// Ping implements store.RecordIndex.Ping.
func (i *Index) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

func (i *Index) fail(ctx context.Context, op, exerciseRecordID string, err error) error {
	logger.FromContextOrDefault(ctx, i.logger).Error("redis record index operation failed",
		slog.String("operation", op),
		slog.String("exercise_record_id", exerciseRecordID),
		slog.String("error", redact.Error(err)))
	return store.NewStoreError("record_index", op, "redis command failed", err)
}
