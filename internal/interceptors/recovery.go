package interceptors

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"regbroker/internal/logger"
)

// RecoveryInterceptor turns a panicking handler into a well-formed Internal
// error instead of tearing down the whole gRPC server process.
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(recoveryHandler))
}

// StreamRecoveryInterceptor is the streaming counterpart of RecoveryInterceptor.
func StreamRecoveryInterceptor() grpc.StreamServerInterceptor {
	return recovery.StreamServerInterceptor(recovery.WithRecoveryHandlerContext(recoveryHandler))
}

func recoveryHandler(_ context.Context, p any) error {
	logger.Error("panic recovered in gRPC handler", "panic", p)
	return status.Errorf(codes.Internal, "internal error")
}
