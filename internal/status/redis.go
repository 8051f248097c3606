package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
)

// RedisStore keeps entries in Redis with SET EX.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
	TTL    time.Duration
}

// NewRedisStore connects to Redis. The connection is lazy; use Ping to verify it.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreFromClient(client, opts.Prefix, opts.TTL)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// maxSetAttempts bounds optimistic retries when a concurrent writer touches
// the key between WATCH and EXEC.
const maxSetAttempts = 5

// Set implements Store. The compare and write run as a WATCH/MULTI
// transaction so a concurrent writer cannot slip between them.
func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	data, err := encode(e)
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}

	k := s.prefix + key
	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			prev, err := tx.Get(ctx, k).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && !replaces(prev, e) {
				return ErrStale
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, data, s.ttl)
				return nil
			})
			return err
		}, k)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}

	if errors.Is(err, ErrStale) {
		return fmt.Errorf("set status %s to %s: %w", key, e.Status, ErrStale)
	}
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	return nil
}

// Get implements Store. Undecodable entries are deleted and reported as ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get status %s: %w", key, err)
	}

	e, err := decode(data)
	if err != nil {
		ctxlog.FromContext(ctx).Error("discarding malformed status entry", "key", key, "error", err)
		if delErr := s.client.Del(ctx, s.prefix+key).Err(); delErr != nil {
			ctxlog.FromContext(ctx).Error("delete malformed status entry", "key", key, "error", delErr)
		}
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
