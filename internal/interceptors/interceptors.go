// Package interceptors chains the broker's gRPC server middleware:
// recovery, rate limiting, tracing, metrics, logging, request validation,
// and registration audit, in that order for unary calls.
package interceptors

import (
	"google.golang.org/grpc"

	"regbroker/internal/audit"
	"regbroker/internal/ratelimit"
	"regbroker/internal/telemetry"
)

// ServerConfig selects which optional interceptors are wired in.
type ServerConfig struct {
	EnableTracing bool
	EnableAudit   bool
	RateLimiter   ratelimit.Limiter
	AuditLogger   audit.Logger
	AuditExclude  map[string]bool
	KeyExtractor  ratelimit.KeyExtractor
}

// UnaryServerInterceptors builds the broker's full unary chain.
func UnaryServerInterceptors(cfg *ServerConfig) grpc.UnaryServerInterceptor {
	chain := []grpc.UnaryServerInterceptor{
		RecoveryInterceptor(),
	}

	if cfg.RateLimiter != nil {
		chain = append(chain, RateLimitInterceptor(cfg.RateLimiter, cfg.KeyExtractor))
	}

	if cfg.EnableTracing {
		chain = append(chain, telemetry.UnaryServerInterceptor())
	}

	chain = append(chain, MetricsInterceptor(), LoggingInterceptor(), ValidationInterceptor())

	if cfg.EnableAudit {
		chain = append(chain, AuditInterceptor(&AuditConfig{
			ExcludeMethods: cfg.AuditExclude,
			Logger:         cfg.AuditLogger,
		}))
	}

	return chainUnaryInterceptors(chain...)
}

// StreamServerInterceptors builds the broker's streaming chain (used by
// Register, WatchServices and WatchModules): recovery, rate limiting,
// tracing, metrics and logging; it has no validation or audit step.
func StreamServerInterceptors(cfg *ServerConfig) grpc.StreamServerInterceptor {
	chain := []grpc.StreamServerInterceptor{
		StreamRecoveryInterceptor(),
	}

	if cfg.RateLimiter != nil {
		chain = append(chain, StreamRateLimitInterceptor(cfg.RateLimiter, cfg.KeyExtractor))
	}

	if cfg.EnableTracing {
		chain = append(chain, telemetry.StreamServerInterceptor())
	}

	chain = append(chain, StreamMetricsInterceptor(), StreamLoggingInterceptor())

	return chainStreamInterceptors(chain...)
}
