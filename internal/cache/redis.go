package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore implements Store on a redis hash per cache key. Redis handles
// expiry itself, so Get never has to filter stale rows and ExtendTTL is a
// plain EXPIRE.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedis connects to addr and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr string, dbNum int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbNum,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, eris.Wrap(err, "cache: redis ping")
	}
	return &RedisStore{rdb: rdb}, nil
}

const (
	fieldProvider  = "provider"
	fieldEndpoint  = "endpoint"
	fieldPayload   = "payload"
	fieldHitCount  = "hit_count"
	fieldCreatedAt = "created_at"
)

// Get returns the entry for key, or (nil, nil) when absent. Expired keys
// are evicted by redis, so absence covers expiry too.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, eris.Wrap(err, "cache: redis get")
	}
	if len(fields) == 0 {
		return nil, nil
	}

	e := Entry{
		Key:      key,
		Provider: fields[fieldProvider],
		Endpoint: fields[fieldEndpoint],
		Payload:  []byte(fields[fieldPayload]),
	}
	e.HitCount, _ = strconv.ParseInt(fields[fieldHitCount], 10, 64)
	if created, perr := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); perr == nil {
		e.CreatedAt = created
	}
	if ttl, terr := s.rdb.TTL(ctx, key).Result(); terr == nil && ttl > 0 {
		e.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	return &e, nil
}

// Put writes the hash and sets its TTL in one pipeline.
func (s *RedisStore) Put(ctx context.Context, e Entry, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, e.Key, map[string]interface{}{
		fieldProvider:  e.Provider,
		fieldEndpoint:  e.Endpoint,
		fieldPayload:   e.Payload,
		fieldHitCount:  0,
		fieldCreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, e.Key, ttl)
	_, err := pipe.Exec(ctx)
	return eris.Wrap(err, "cache: redis put")
}

// BumpHit increments the hit counter for key.
func (s *RedisStore) BumpHit(ctx context.Context, key string) error {
	err := s.rdb.HIncrBy(ctx, key, fieldHitCount, 1).Err()
	return eris.Wrap(err, "cache: redis bump hit")
}

// ExtendTTL resets the key's expiry from now.
func (s *RedisStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	err := s.rdb.Expire(ctx, key, ttl).Err()
	return eris.Wrap(err, "cache: redis extend ttl")
}

// Stats walks the keyspace with SCAN. Redis is a secondary driver here, so
// an O(n) stats call is acceptable; the relational drivers answer this with
// one aggregate query.
func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	iter := s.rdb.Scan(ctx, 0, "*", 250).Iterator()
	for iter.Next(ctx) {
		st.Entries++
		hits, err := s.rdb.HGet(ctx, iter.Val(), fieldHitCount).Int64()
		if err == nil {
			st.TotalHits += hits
		}
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "cache: redis stats")
	}
	return &st, nil
}

// Close closes the client connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
