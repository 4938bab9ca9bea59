package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doppa/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	redisTimeout  = 5 * time.Second
	redisScanSize = 1000
	fieldWKB      = "wkb"
	fieldMeta     = "meta"
)

// Connect parses redisURL and verifies the connection with a ping
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test the connection
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisStore keeps each record in a hash under a run-scoped key, so
// concurrent runs sharing one server never see each other's features
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Entry
}

// NewRedisStore creates a store whose keys live under "doppa:{runID}:". A
// positive ttl expires records left behind by a crashed run.
func NewRedisStore(client *redis.Client, runID string, ttl time.Duration, log *logrus.Entry) *RedisStore {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RedisStore{
		client: client,
		prefix: fmt.Sprintf("doppa:%s:", runID),
		ttl:    ttl,
		log:    log,
	}
}

func (s *RedisStore) redisKey(key model.FeatureKey) string {
	return s.prefix + key.String()
}

func (s *RedisStore) Put(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, e := range entries {
		meta, err := marshalMeta(e.Record)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", e.Key, err)
		}

		k := s.redisKey(e.Key)
		pipe.HSet(ctx, k, fieldWKB, e.Record.WKB, fieldMeta, meta)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store %d features: %w", len(entries), err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key model.FeatureKey) (Record, error) {
	values, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(values) == 0 {
		return Record{}, ErrNotFound
	}

	var rec Record
	if meta, ok := values[fieldMeta]; ok {
		if err := unmarshalMeta([]byte(meta), &rec); err != nil {
			return Record{}, fmt.Errorf("failed to decode %s: %w", key, err)
		}
	}
	rec.WKB = []byte(values[fieldWKB])

	return rec, nil
}

// Len counts the run's keys with SCAN
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

// Clear deletes every key of the run
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *RedisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", redisScanSize).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close removes the run's keys and closes the client
func (s *RedisStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	s.log.Info("Closing Redis connection...")
	clearErr := s.Clear(ctx)
	return errors.Join(clearErr, s.client.Close())
}
