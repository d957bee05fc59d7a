package dedupe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ent0n29/habitbot/internal/logging"
)

const DefaultTTL = 10 * time.Minute

// Deduper reports whether a chat interaction is seen for the first time.
// Duplicate button presses arrive with the same interaction id.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, interactionID string) bool
	Close() error
}

func key(scope, interactionID string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, interactionID)
}

type RedisDeduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl, logger: logging.OrNop(logger)}
}

// AcquireOnce fails open: when Redis is unavailable the interaction is allowed.
func (d *RedisDeduper) AcquireOnce(ctx context.Context, scope, interactionID string) bool {
	k := key(scope, interactionID)
	ok, err := d.rdb.SetNX(ctx, k, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("redis dedup check failed, allowing interaction",
			zap.String("scope", scope),
			zap.String("interaction_id", interactionID),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		d.logger.Info("skipped duplicate interaction", zap.String("dedup_key", k))
	}
	return ok
}

func (d *RedisDeduper) Close() error {
	return d.rdb.Close()
}

type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) AcquireOnce(_ context.Context, scope, interactionID string) bool {
	now := d.now()
	k := key(scope, interactionID)

	d.mu.Lock()
	defer d.mu.Unlock()
	for k2, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k2)
		}
	}
	if _, ok := d.seen[k]; ok {
		return false
	}
	d.seen[k] = now.Add(d.ttl)
	return true
}

func (d *MemoryDeduper) Close() error { return nil }

type Options struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// New returns a Redis-backed deduper when an address is configured and
// reachable, otherwise an in-process one.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Deduper, string, error) {
	if strings.TrimSpace(opts.RedisAddr) == "" {
		return NewMemoryDeduper(opts.TTL), "in-memory", nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, "", fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
	}
	return NewRedisDeduper(rdb, opts.TTL, logger), "redis", nil
}
