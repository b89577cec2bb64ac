package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Validator is implemented by any request message carrying its own
// structural validation (e.g. grpcapi's UnregisterRequest and
// ResolveServiceRequest).
type Validator interface {
	Validate() error
}

// ValidationInterceptor rejects a request before it reaches the handler if
// it implements Validator and fails validation.
func ValidationInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if v, ok := req.(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "validation error: %v", err)
			}
		}
		return handler(ctx, req)
	}
}
