package interceptors

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"regbroker/internal/config"
	"regbroker/internal/ratelimit"
)

func mockHandler(_ context.Context, _ any) (any, error) {
	return "response", nil
}

func mockPanicHandler(_ context.Context, _ any) (any, error) {
	panic("test panic")
}

func TestRecoveryInterceptor_PassesThroughNormalResponses(t *testing.T) {
	interceptor := RecoveryInterceptor()

	resp, err := interceptor(context.Background(), "request",
		&grpc.UnaryServerInfo{FullMethod: "/broker.v1.Broker/Register"}, mockHandler)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resp != "response" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestRecoveryInterceptor_TurnsPanicIntoInternalError(t *testing.T) {
	interceptor := RecoveryInterceptor()

	_, err := interceptor(context.Background(), "request",
		&grpc.UnaryServerInfo{FullMethod: "/broker.v1.Broker/Register"}, mockPanicHandler)
	if err == nil {
		t.Fatal("expected error after panic")
	}

	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("expected gRPC status error")
	}
	if st.Code() != codes.Internal {
		t.Errorf("expected Internal code, got %v", st.Code())
	}
}

func TestValidationInterceptor_RejectsFailingValidator(t *testing.T) {
	interceptor := ValidationInterceptor()

	_, err := interceptor(context.Background(), failingRequest{},
		&grpc.UnaryServerInfo{FullMethod: "/broker.v1.Broker/Register"}, mockHandler)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", status.Code(err))
	}
}

func TestValidationInterceptor_PassesNonValidatorRequestsThrough(t *testing.T) {
	interceptor := ValidationInterceptor()

	resp, err := interceptor(context.Background(), "plain string request",
		&grpc.UnaryServerInfo{FullMethod: "/broker.v1.Broker/Register"}, mockHandler)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resp != "response" {
		t.Errorf("unexpected response: %v", resp)
	}
}

type failingRequest struct{}

func (failingRequest) Validate() error {
	return errValidation
}

var errValidation = status.Error(codes.InvalidArgument, "name is required")

func TestRateLimitInterceptor_RejectsOverLimitCallers(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(config.RateLimitConfig{
		Requests: 1, Window: time.Minute, CleanupInterval: time.Minute,
	})
	defer limiter.Close()

	interceptor := RateLimitInterceptor(limiter, ratelimit.MethodKeyExtractor)
	info := &grpc.UnaryServerInfo{FullMethod: "/broker.v1.Broker/Register"}

	if _, err := interceptor(context.Background(), "request", info, mockHandler); err != nil {
		t.Fatalf("first call should be allowed, got %v", err)
	}

	_, err := interceptor(context.Background(), "request", info, mockHandler)
	if err == nil {
		t.Fatal("expected second call to be rate limited")
	}
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", status.Code(err))
	}
}

func TestRateLimitInterceptor_FailsOpenOnLimiterError(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(config.RateLimitConfig{Requests: 5, Window: time.Minute})
	limiter.Close() // subsequent Allow() calls return ErrLimiterClosed

	interceptor := RateLimitInterceptor(limiter, ratelimit.MethodKeyExtractor)

	resp, err := interceptor(context.Background(), "request",
		&grpc.UnaryServerInfo{FullMethod: "/broker.v1.Broker/Register"}, mockHandler)
	if err != nil {
		t.Errorf("expected fail-open behavior, got error: %v", err)
	}
	if resp != "response" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestChainUnaryInterceptors_RunsInOrder(t *testing.T) {
	var order []string

	record := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			order = append(order, name)
			return handler(ctx, req)
		}
	}

	chain := chainUnaryInterceptors(record("a"), record("b"), record("c"))
	_, err := chain(context.Background(), "request",
		&grpc.UnaryServerInfo{FullMethod: "/broker.v1.Broker/Register"}, mockHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("expected order %v, got %v", want, order)
		}
	}
}
