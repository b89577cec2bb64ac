// Package ratelimit guards the Register/Unregister RPCs against a single
// caller flooding the broker, independent of the health gate's own
// backoff/timeout budget.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"regbroker/internal/config"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrLimiterClosed     = errors.New("limiter is closed")
)

// Limiter is implemented by every rate-limiting backend.
type Limiter interface {
	// Allow reports whether one request for key may proceed right now.
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN reports whether n requests for key may proceed right now.
	AllowN(ctx context.Context, key string, n int) (bool, error)

	// Wait blocks until a request for key is allowed or ctx is done.
	Wait(ctx context.Context, key string) error

	// Reset clears key's accumulated usage.
	Reset(ctx context.Context, key string) error

	// GetInfo reports key's current limit/remaining/reset-at state.
	GetInfo(ctx context.Context, key string) (*LimitInfo, error)

	Close() error
}

// LimitInfo is the rate limit's current state for one key, surfaced on the
// x-ratelimit-* response headers by internal/interceptors.
type LimitInfo struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// New builds a Limiter from cfg.Backend ("memory" or "redis"), defaulting
// to memory for an unset or unrecognized value.
func New(cfg config.RateLimitConfig) (Limiter, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisLimiter(cfg)
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	default:
		return NewMemoryLimiter(cfg), nil
	}
}

// KeyExtractor pulls a rate-limit key out of a gRPC call's metadata.
type KeyExtractor func(ctx context.Context, method string, metadata map[string]string) string

// DefaultKeyExtractor keys by the x-forwarded-for or x-real-ip header. When
// neither is present it uses the :authority pseudo-header, and "unknown"
// when that is missing too.
func DefaultKeyExtractor(_ context.Context, _ string, metadata map[string]string) string {
	if ip, ok := metadata["x-forwarded-for"]; ok && ip != "" {
		return ip
	}
	if ip, ok := metadata["x-real-ip"]; ok && ip != "" {
		return ip
	}
	if peer, ok := metadata[":authority"]; ok {
		return peer
	}
	return "unknown"
}

// MethodKeyExtractor keys by the full gRPC method name.
func MethodKeyExtractor(_ context.Context, method string, _ map[string]string) string {
	return method
}
