package interceptors

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"regbroker/internal/audit"
)

// AuditConfig configures AuditInterceptor. Only methods that map to a
// registration-lifecycle Action (via methodToAction) are recorded; every
// other RPC (the read-only C7 surface) passes through untouched.
type AuditConfig struct {
	ExcludeMethods map[string]bool
	Logger         audit.Logger
}

// AuditInterceptor records the outcome of Register/Unregister RPCs to the
// audit trail, asynchronously so a slow or stalled audit backend never adds
// latency to the RPC itself.
func AuditInterceptor(cfg *AuditConfig) grpc.UnaryServerInterceptor {
	if cfg.Logger == nil {
		cfg.Logger = audit.Get()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cfg.ExcludeMethods != nil && cfg.ExcludeMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		action, ok := methodToAction(info.FullMethod)
		if !ok {
			return handler(ctx, req)
		}

		start := time.Now()
		clientIP := extractClientIP(ctx)
		requestID := extractRequestID(ctx)

		resp, err := handler(ctx, req)
		duration := time.Since(start)

		builder := audit.NewEntry(action).
			Client(clientIP).
			RequestID(requestID).
			Duration(duration)

		if err != nil {
			st, _ := status.FromError(err)
			builder.Outcome(audit.OutcomeDenied).Error(st.Code().String(), st.Message())
		} else {
			builder.Outcome(audit.OutcomeSuccess)
		}

		entry := builder.Build()
		go audit.Log(context.Background(), entry)

		return resp, err
	}
}

func extractClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if xff := md.Get("x-forwarded-for"); len(xff) > 0 {
			return xff[0]
		}
		if xri := md.Get("x-real-ip"); len(xri) > 0 {
			return xri[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}

func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if rid := md.Get("x-request-id"); len(rid) > 0 {
			return rid[0]
		}
	}
	return ""
}

// methodToAction maps a gRPC full method name to a registration-lifecycle
// audit action. ok is false for any method the audit trail doesn't track
// (every read-only C7 RPC).
func methodToAction(method string) (audit.Action, bool) {
	switch {
	case strings.Contains(method, "UnregisterModule"):
		return audit.ActionUnregisterModule, true
	case strings.Contains(method, "UnregisterService"):
		return audit.ActionUnregisterService, true
	case strings.Contains(method, "RegisterModule"):
		return audit.ActionRegisterModule, true
	case strings.Contains(method, "RegisterService"):
		return audit.ActionRegisterService, true
	default:
		return "", false
	}
}
