// Package ratelimit paces queue batches and API requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Local spaces calls at least interval apart within one process
type Local struct {
	limiter *rate.Limiter
}

// NewLocal creates a limiter letting one call through per interval.
// A zero interval never blocks.
func NewLocal(interval time.Duration) *Local {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Local{limiter: rate.NewLimiter(limit, 1)}
}

func (l *Local) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Config holds fixed window settings
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
	KeyPrefix         string
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetIn   time.Duration
}

// Redis is a fixed window counter shared by every process using the same
// key prefix, so several queue workers stay within one storefront budget.
type Redis struct {
	client *redis.Client
	cfg    Config
}

func NewRedis(client *redis.Client, cfg Config) *Redis {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &Redis{client: client, cfg: cfg}
}

// Limit returns the number of calls allowed per window
func (r *Redis) Limit() int { return r.cfg.RequestsPerWindow }

// Allow counts one call for id in the current window
func (r *Redis) Allow(ctx context.Context, id string) (Decision, error) {
	key := fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, id)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	// The first call opens the window
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	d := Decision{
		Allowed: count <= int64(r.cfg.RequestsPerWindow),
		Count:   count,
	}
	if d.Allowed {
		d.Remaining = r.cfg.RequestsPerWindow - int(count)
		return d, nil
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = r.cfg.Window
	}
	d.ResetIn = ttl
	return d, nil
}

// Wait blocks until the shared "batch" counter admits another call
func (r *Redis) Wait(ctx context.Context) error {
	for {
		d, err := r.Allow(ctx, "batch")
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.ResetIn):
		}
	}
}
