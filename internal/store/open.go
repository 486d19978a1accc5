package store

import (
	"context"
	"fmt"
	"log"

	"github.com/classnet/classchat/config"
	"github.com/redis/go-redis/v9"
)

// Open builds the Store described by cfg, wrapped with the Redis history
// cache when it is enabled.
func Open(ctx context.Context, cfg config.StoreConfig, cacheCfg config.CacheConfig) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Driver {
	case "memory":
		s = NewMemory()
	case "sqlite", "":
		s, err = OpenSQLite(cfg.DSN)
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[Store] Using %s message store", cfg.Driver)

	if !cacheCfg.Enabled {
		return s, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cacheCfg.RedisAddr})
	cached := NewCached(s, client, cacheCfg.Prefix, cacheCfg.TTL)
	if err := cached.Ping(ctx); err != nil {
		// The cache is optional; keep serving from the durable store.
		log.Printf("[Store] History cache disabled: %v", err)
		_ = client.Close()
		return s, nil
	}
	log.Printf("[Store] History cache enabled at %s (ttl %s)", cacheCfg.RedisAddr, cacheCfg.TTL)
	return cached, nil
}
