// Package grpcclient dials outbound gRPC channels on the broker's behalf,
// generalizing the teacher's retrying dial wrapper with the tunable HTTP/2
// flow-control windows C4 requires (spec §4.4).
package grpcclient

import (
	"context"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"

	"regbroker/internal/codec"
	"regbroker/internal/config"
)

// DefaultInitialWindowSize is the broker's override of the ~64KiB default
// most gRPC stacks impose, which bottlenecks the large-message module
// callback responses (spec §4.4).
const DefaultInitialWindowSize = 100 * 1024 * 1024

// Dial opens a retrying gRPC channel to addr using the callback flow-control
// and retry settings from configuration.
func Dial(_ context.Context, addr string, cfg config.CallbackConfig, retry config.RetryConfig) (*grpc.ClientConn, error) {
	windowSize := cfg.InitialWindowSize
	if windowSize <= 0 {
		windowSize = DefaultInitialWindowSize
	}
	connWindowSize := cfg.InitialConnWindowSize
	if connWindowSize <= 0 {
		connWindowSize = DefaultInitialWindowSize
	}

	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := retry.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	retryOpts := []grpc_retry.CallOption{
		grpc_retry.WithBackoff(grpc_retry.BackoffLinear(backoff)),
		grpc_retry.WithCodes(codes.Unavailable, codes.Aborted, codes.DeadlineExceeded),
		grpc_retry.WithMax(uint(maxAttempts)),
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)),
		grpc.WithInitialWindowSize(windowSize),
		grpc.WithInitialConnWindowSize(connWindowSize),
		grpc.WithChainUnaryInterceptor(grpc_retry.UnaryClientInterceptor(retryOpts...)),
		grpc.WithChainStreamInterceptor(grpc_retry.StreamClientInterceptor(retryOpts...)),
	}

	return grpc.NewClient(addr, dialOpts...)
}
