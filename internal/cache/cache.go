// Package cache is the redis layer for emitted signals. Entries honor
// each signal's ttl_seconds; a missing or expired entry means the caller
// recomputes, never that a stale score is served.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentic-exchange/axp/internal/signal"
)

type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to redis from a URL (redis://host:port/db). The connection
// is verified up front so a bad URL fails at startup, not first use.
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{rdb: rdb, logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func signalKey(subjectID, name string) string {
	return "axp:signal:" + subjectID + ":" + name
}

// PutSignal stores one signal under its own TTL. Signals without a
// positive TTL are not cacheable and are skipped.
func (c *Cache) PutSignal(ctx context.Context, subjectID string, sig signal.Signal) error {
	if sig.TTLSeconds <= 0 {
		return nil
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal %s: %w", sig.Name, err)
	}
	ttl := time.Duration(sig.TTLSeconds) * time.Second
	if err := c.rdb.Set(ctx, signalKey(subjectID, sig.Name), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache signal %s: %w", sig.Name, err)
	}
	return nil
}

// PutSignals stores a batch, logging and continuing on individual
// failures. Caching is best effort; the store holds the durable copy.
func (c *Cache) PutSignals(ctx context.Context, subjectID string, signals []signal.Signal) {
	for _, sig := range signals {
		if err := c.PutSignal(ctx, subjectID, sig); err != nil {
			c.logger.Warn("signal cache write failed", "subject_id", subjectID, "signal", sig.Name, "error", err)
		}
	}
}

// GetSignal returns the cached signal, or nil on a miss.
func (c *Cache) GetSignal(ctx context.Context, subjectID, name string) (*signal.Signal, error) {
	data, err := c.rdb.Get(ctx, signalKey(subjectID, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached signal %s: %w", name, err)
	}
	var sig signal.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("decode cached signal %s: %w", name, err)
	}
	return &sig, nil
}

// Invalidate drops all cached signals for a subject, used when a new
// computation cycle supersedes the old one early.
func (c *Cache) Invalidate(ctx context.Context, subjectID string, names []string) error {
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = signalKey(subjectID, n)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate signals: %w", err)
	}
	return nil
}
