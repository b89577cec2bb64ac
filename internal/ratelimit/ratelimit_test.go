package ratelimit

import (
	"context"
	"testing"
	"time"

	"regbroker/internal/config"
)

func TestNewMemoryLimiter_AppliesDefaultsForZeroFields(t *testing.T) {
	limiter := NewMemoryLimiter(config.RateLimitConfig{})
	defer limiter.Close()

	if limiter.cfg.Requests != 100 || limiter.cfg.Window != time.Minute || limiter.cfg.BurstSize != 10 {
		t.Errorf("expected defaulted config, got %+v", limiter.cfg)
	}
}

func TestMemoryLimiter_SlidingWindow_DeniesOverLimit(t *testing.T) {
	limiter := NewMemoryLimiter(config.RateLimitConfig{
		Requests:        5,
		Window:          time.Second,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	})
	defer limiter.Close()

	ctx := context.Background()
	key := "caller-a"

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("6th request should be denied")
	}
}

func TestMemoryLimiter_AllowN_ConsumesBudgetAtomically(t *testing.T) {
	limiter := NewMemoryLimiter(config.RateLimitConfig{
		Requests:        10,
		Window:          time.Second,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	})
	defer limiter.Close()

	ctx := context.Background()
	key := "caller-b"

	allowed, err := limiter.AllowN(ctx, key, 8)
	if err != nil || !allowed {
		t.Fatalf("expected first AllowN(8) to succeed, got allowed=%v err=%v", allowed, err)
	}

	allowed, err = limiter.AllowN(ctx, key, 3)
	if err != nil {
		t.Fatalf("AllowN() error = %v", err)
	}
	if allowed {
		t.Error("second AllowN(3) should be denied: only 2 of budget 10 remain")
	}
}

func TestMemoryLimiter_Reset_ClearsAccumulatedUsage(t *testing.T) {
	limiter := NewMemoryLimiter(config.RateLimitConfig{
		Requests:        1,
		Window:          time.Minute,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	})
	defer limiter.Close()

	ctx := context.Background()
	key := "caller-c"

	if allowed, _ := limiter.Allow(ctx, key); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, key); allowed {
		t.Fatal("second request should be denied before reset")
	}

	if err := limiter.Reset(ctx, key); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if allowed, _ := limiter.Allow(ctx, key); !allowed {
		t.Error("request after Reset() should be allowed again")
	}
}

func TestMemoryLimiter_Close_RejectsFurtherCalls(t *testing.T) {
	limiter := NewMemoryLimiter(config.RateLimitConfig{Requests: 5, Window: time.Second})
	if err := limiter.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err := limiter.Allow(context.Background(), "caller-d")
	if err != ErrLimiterClosed {
		t.Errorf("expected ErrLimiterClosed, got %v", err)
	}

	if err := limiter.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
}

func TestNew_DefaultsToMemoryBackend(t *testing.T) {
	limiter, err := New(config.RateLimitConfig{Requests: 5, Window: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer limiter.Close()

	if _, ok := limiter.(*MemoryLimiter); !ok {
		t.Errorf("expected MemoryLimiter, got %T", limiter)
	}
}

func TestDefaultKeyExtractor_PrefersForwardedForHeader(t *testing.T) {
	md := map[string]string{"x-forwarded-for": "203.0.113.5", "x-real-ip": "198.51.100.9"}
	if key := DefaultKeyExtractor(context.Background(), "/broker.v1.Broker/Register", md); key != "203.0.113.5" {
		t.Errorf("expected 203.0.113.5, got %s", key)
	}
}

func TestDefaultKeyExtractor_FallsBackToUnknown(t *testing.T) {
	if key := DefaultKeyExtractor(context.Background(), "/broker.v1.Broker/Register", map[string]string{}); key != "unknown" {
		t.Errorf("expected unknown, got %s", key)
	}
}
