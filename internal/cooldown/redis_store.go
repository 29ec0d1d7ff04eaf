package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/thebtf/suggestd/pkg/models"
)

// RedisStore keeps cooldown entries in Redis.
//
// Each (user, kind) pair owns a sorted set of concept hashes scored by the unix
// time they were last shown, plus a hash mapping concept hash to item ID.
// Both keys expire after ttl of inactivity.
type RedisStore struct {
	pool   *redis.Pool
	prefix string
	ttl    time.Duration
}

// NewRedisPool dials addr lazily with a bounded idle pool.
func NewRedisPool(addr string, maxIdle int) *redis.Pool {
	if maxIdle <= 0 {
		maxIdle = 4
	}
	return &redis.Pool{
		MaxIdle:     maxIdle,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr,
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(5*time.Second),
				redis.DialWriteTimeout(5*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// NewRedisStore creates a Redis-backed store. ttl should cover the longest window.
func NewRedisStore(pool *redis.Pool, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "suggestd"
	}
	return &RedisStore{pool: pool, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) scoresKey(userID, kind string) string {
	return fmt.Sprintf("%s:cooldown:%s:%s", s.prefix, userID, kind)
}

func (s *RedisStore) itemsKey(userID, kind string) string {
	return fmt.Sprintf("%s:cooldown-items:%s:%s", s.prefix, userID, kind)
}

// ShownSince implements Store.
func (s *RedisStore) ShownSince(ctx context.Context, userID, kind string, since time.Time) (map[string]time.Time, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis conn: %w", err)
	}
	defer conn.Close()

	scores, err := redis.Int64Map(redis.DoContext(conn, ctx, "ZRANGEBYSCORE",
		s.scoresKey(userID, kind), strconv.FormatInt(since.Unix(), 10), "+inf", "WITHSCORES"))
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}

	out := make(map[string]time.Time, len(scores))
	for hash, ts := range scores {
		out[hash] = time.Unix(ts, 0)
	}
	return out, nil
}

// LastShown implements Store.
func (s *RedisStore) LastShown(ctx context.Context, userID, kind, conceptHash string) (time.Time, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis conn: %w", err)
	}
	defer conn.Close()

	ts, err := redis.Int64(redis.DoContext(conn, ctx, "ZSCORE", s.scoresKey(userID, kind), conceptHash))
	if errors.Is(err, redis.ErrNil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("zscore: %w", err)
	}
	return time.Unix(ts, 0), true, nil
}

// Upsert implements Store. Entries older than ttl relative to the new entry are
// trimmed from both keys in the same transaction.
func (s *RedisStore) Upsert(ctx context.Context, entry models.CooldownEntry) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis conn: %w", err)
	}
	defer conn.Close()

	scores := s.scoresKey(entry.UserID, entry.Kind)
	items := s.itemsKey(entry.UserID, entry.Kind)
	ttl := int64(s.ttl / time.Second)

	var stale []string
	cutoff := "(" + strconv.FormatInt(entry.LastShownAt.Add(-s.ttl).Unix(), 10)
	if ttl > 0 {
		members, err := redis.Strings(redis.DoContext(conn, ctx, "ZRANGEBYSCORE", scores, "-inf", cutoff))
		if err != nil {
			return fmt.Errorf("zrangebyscore: %w", err)
		}
		for _, m := range members {
			if m != entry.ConceptHash {
				stale = append(stale, m)
			}
		}
	}

	_ = conn.Send("MULTI")
	_ = conn.Send("ZADD", scores, entry.LastShownAt.Unix(), entry.ConceptHash)
	_ = conn.Send("HSET", items, entry.ConceptHash, entry.ItemID)
	if ttl > 0 {
		_ = conn.Send("ZREMRANGEBYSCORE", scores, "-inf", cutoff)
		if len(stale) > 0 {
			_ = conn.Send("HDEL", redis.Args{}.Add(items).AddFlat(stale)...)
		}
		_ = conn.Send("EXPIRE", scores, ttl)
		_ = conn.Send("EXPIRE", items, ttl)
	}
	replies, err := redis.Values(redis.DoContext(conn, ctx, "EXEC"))
	if err != nil {
		return fmt.Errorf("cooldown upsert: %w", err)
	}
	if err := execError(replies); err != nil {
		return fmt.Errorf("cooldown upsert: %w", err)
	}
	return nil
}

// execError returns the first error reply of a transaction. Redis runs every
// queued command even when one of them fails.
func execError(replies []any) error {
	for i, reply := range replies {
		if e, ok := reply.(redis.Error); ok {
			return fmt.Errorf("command %d: %w", i, e)
		}
	}
	return nil
}

// Close releases the pool.
func (s *RedisStore) Close() error {
	return s.pool.Close()
}
