package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by RedisRecorder.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// ErrDuplicateReconciliation is returned when a reconciliation ID is recorded twice.
var ErrDuplicateReconciliation = errors.New("billing: duplicate reconciliation id")

// RedisRecorder keeps reconciliations in one sorted set per schedule, scored
// by creation time in microseconds. Members are JSON documents.
type RedisRecorder struct {
	client RedisClient
	prefix string
}

// NewRedisRecorder connects to the Redis server at url (redis://...) and
// verifies the connection with PING.
func NewRedisRecorder(ctx context.Context, url, prefix string) (*RedisRecorder, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("billing: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("billing: redis ping failed: %w", err)
	}
	return NewRedisRecorderWithClient(client, prefix), nil
}

// NewRedisRecorderWithClient creates a RedisRecorder backed by a pre-built client.
func NewRedisRecorderWithClient(client RedisClient, prefix string) *RedisRecorder {
	return &RedisRecorder{client: client, prefix: prefix}
}

// Record stores rec. IDs are claimed with SETNX so a repeated ID fails with
// ErrDuplicateReconciliation; the claim is released if the entry cannot be added.
func (r *RedisRecorder) Record(ctx context.Context, rec Reconciliation) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("billing: encode reconciliation: %w", err)
	}
	idKey := r.prefix + "id:" + rec.ID
	ok, err := r.client.SetNX(ctx, idKey, rec.ScheduleID, 0).Result()
	if err != nil {
		return fmt.Errorf("billing: record reconciliation: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDuplicateReconciliation, rec.ID)
	}
	err = r.client.ZAdd(ctx, r.scheduleKey(rec.ScheduleID), redis.Z{
		Score:  float64(rec.CreatedAt.UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		if delErr := r.client.Del(ctx, idKey).Err(); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return fmt.Errorf("billing: record reconciliation: %w", err)
	}
	return nil
}

// List returns the reconciliations for scheduleID, oldest first.
func (r *RedisRecorder) List(ctx context.Context, scheduleID string) ([]Reconciliation, error) {
	members, err := r.client.ZRange(ctx, r.scheduleKey(scheduleID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("billing: list reconciliations: %w", err)
	}
	out := make([]Reconciliation, 0, len(members))
	for _, m := range members {
		var rec Reconciliation
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("billing: decode reconciliation: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the Redis connection.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func (r *RedisRecorder) scheduleKey(scheduleID string) string {
	return r.prefix + "schedule:" + scheduleID
}
