package interceptors

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"regbroker/internal/logger"
	"regbroker/internal/ratelimit"
)

// RateLimitInterceptor guards a unary RPC behind limiter, failing open (the
// request proceeds) when the limiter itself errors.
func RateLimitInterceptor(limiter ratelimit.Limiter, keyExtractor ratelimit.KeyExtractor) grpc.UnaryServerInterceptor {
	if keyExtractor == nil {
		keyExtractor = ratelimit.DefaultKeyExtractor
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		key := keyExtractor(ctx, info.FullMethod, metadataMap(ctx))

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			logger.Warn("rate limit check failed, failing open", "error", err, "key", key)
			return handler(ctx, req)
		}

		if !allowed {
			limitInfo, infoErr := limiter.GetInfo(ctx, key)
			if infoErr != nil {
				limitInfo = &ratelimit.LimitInfo{ResetAt: time.Now().Add(time.Minute)}
			}

			header := metadata.Pairs(
				"x-ratelimit-limit", fmt.Sprintf("%d", limitInfo.Limit),
				"x-ratelimit-remaining", "0",
				"x-ratelimit-reset", limitInfo.ResetAt.Format(time.RFC3339),
			)
			if err := grpc.SetHeader(ctx, header); err != nil {
				logger.Debug("failed to set rate limit headers", "error", err)
			}

			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded: %d requests per %v", limitInfo.Limit, time.Until(limitInfo.ResetAt))
		}

		return handler(ctx, req)
	}
}

// StreamRateLimitInterceptor is the streaming counterpart of RateLimitInterceptor.
func StreamRateLimitInterceptor(limiter ratelimit.Limiter, keyExtractor ratelimit.KeyExtractor) grpc.StreamServerInterceptor {
	if keyExtractor == nil {
		keyExtractor = ratelimit.DefaultKeyExtractor
	}

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		key := keyExtractor(ctx, info.FullMethod, metadataMap(ctx))

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			return handler(srv, ss)
		}
		if !allowed {
			return status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(srv, ss)
	}
}

func metadataMap(ctx context.Context) map[string]string {
	md, _ := metadata.FromIncomingContext(ctx)
	m := make(map[string]string, len(md))
	for k, v := range md {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}
