package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

// Feature: catalog-sync, Property 20: Fixed window admits exactly the configured number of calls
func TestProperty_FixedWindowAdmitsLimit(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("calls beyond the limit are refused within one window", prop.ForAll(
		func(limit int, excess int) bool {
			_, client := newMiniredis(t)
			limiter := NewRedis(client, Config{RequestsPerWindow: limit, Window: time.Minute, KeyPrefix: "test"})
			ctx := context.Background()

			allowed, refused := 0, 0
			for i := 0; i < limit+excess; i++ {
				d, err := limiter.Allow(ctx, "worker")
				if err != nil {
					return false
				}
				if d.Allowed {
					allowed++
				} else {
					refused++
					if d.ResetIn <= 0 {
						return false
					}
				}
			}
			return allowed == limit && refused == excess
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	mr, client := newMiniredis(t)
	limiter := NewRedis(client, Config{RequestsPerWindow: 1, Window: time.Second, KeyPrefix: "drain"})
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "batch"); !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	if d, _ := limiter.Allow(ctx, "batch"); d.Allowed {
		t.Fatal("second call in the window should be refused")
	}

	mr.FastForward(2 * time.Second)

	if d, _ := limiter.Allow(ctx, "batch"); !d.Allowed {
		t.Fatal("call after the window should be allowed")
	}
}

func TestRedisWaitHonoursCancellation(t *testing.T) {
	_, client := newMiniredis(t)
	limiter := NewRedis(client, Config{RequestsPerWindow: 1, Window: time.Hour, KeyPrefix: "drain"})

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first wait should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("expected the second wait to block until the context expired")
	}
}

func TestLocalSpacesCalls(t *testing.T) {
	limiter := NewLocal(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("expected calls to be spaced, took %v", elapsed)
	}
}

func TestLocalZeroIntervalNeverBlocks(t *testing.T) {
	limiter := NewLocal(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 100; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait should not block: %v", err)
		}
	}
}
