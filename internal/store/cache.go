package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CacheStats counts cache outcomes for RecentHistory.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// Cached serves RecentHistory from Redis using the cache-aside pattern.
// Entries are keyed by a per-room version that every successful Append
// increments, so a fill racing an Append lands under a version nobody reads.
// Redis failures never fail a call; the wrapped store answers instead.
type Cached struct {
	next   Store
	client *redis.Client
	prefix string
	ttl    time.Duration

	sf singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

func NewCached(next Store, client *redis.Client, prefix string, ttl time.Duration) *Cached {
	return &Cached{
		next:   next,
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *Cached) versionKey(room string) string {
	return c.prefix + "version:" + room
}

func (c *Cached) historyKey(room, version string) string {
	return c.prefix + "history:" + room + ":" + version
}

func (c *Cached) Append(ctx context.Context, room string, author Author, body string) (Record, error) {
	rec, err := c.next.Append(ctx, room, author, body)
	if err != nil {
		return Record{}, err
	}

	if err := c.client.Incr(ctx, c.versionKey(room)).Err(); err != nil {
		c.errors.Add(1)
		log.Printf("[Store] Failed to invalidate history cache for room %q: %v", room, err)
	}
	return rec, nil
}

func (c *Cached) RecentHistory(ctx context.Context, room string, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	version, err := c.client.Get(ctx, c.versionKey(room)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		version = "0"
	case err != nil:
		c.errors.Add(1)
		log.Printf("[Store] History cache unavailable for room %q: %v", room, err)
		return c.next.RecentHistory(ctx, room, limit)
	}

	field := strconv.Itoa(limit)
	key := c.historyKey(room, version)

	data, err := c.client.HGet(ctx, key, field).Bytes()
	switch {
	case err == nil:
		var records []Record
		if jsonErr := json.Unmarshal(data, &records); jsonErr == nil {
			c.hits.Add(1)
			return records, nil
		}
		c.errors.Add(1)
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
	default:
		c.errors.Add(1)
		log.Printf("[Store] History cache read failed for room %q: %v", room, err)
	}

	v, err, _ := c.sf.Do(key+"|"+field, func() (any, error) {
		records, err := c.next.RecentHistory(ctx, room, limit)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, key, field, records)
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}

func (c *Cached) fill(ctx context.Context, key, field string, records []Record) {
	data, err := json.Marshal(records)
	if err != nil {
		c.errors.Add(1)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.errors.Add(1)
		log.Printf("[Store] History cache write failed for %s: %v", key, err)
	}
}

func (c *Cached) Rooms(ctx context.Context) ([]string, error) {
	return c.next.Rooms(ctx)
}

// Stats returns a snapshot of cache counters.
func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

// Close closes the wrapped store and the Redis client.
func (c *Cached) Close() error {
	return errors.Join(c.next.Close(), c.client.Close())
}

// Ping checks that Redis is reachable.
func (c *Cached) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
