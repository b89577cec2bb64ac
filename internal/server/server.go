// Package server wraps the broker's gRPC front door: listener setup,
// interceptor wiring, health reporting, and graceful shutdown sequencing.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"regbroker/internal/audit"
	"regbroker/internal/callback"
	"regbroker/internal/config"
	"regbroker/internal/interceptors"
	"regbroker/internal/logger"
	"regbroker/internal/metrics"
	"regbroker/internal/ratelimit"
	"regbroker/internal/telemetry"
)

// ChannelDrainer is implemented by the module callback client (C4); Server
// drains its cached channels as part of graceful shutdown (spec §5).
type ChannelDrainer interface {
	Shutdown(budget time.Duration)
}

// Server wraps a *grpc.Server with the broker's health reporting, metrics
// server, and shutdown sequencing.
type Server struct {
	grpcServer   *grpc.Server
	health       *health.Server
	cfg          *config.Config
	telemetry    *telemetry.Provider
	rateLimiter  ratelimit.Limiter
	auditLogger  audit.Logger
	callback     ChannelDrainer
	shuttingDown atomic.Bool
}

// Options carries collaborators built outside the server (so cmd/broker
// controls their lifecycle) plus per-method audit exclusions.
type Options struct {
	RateLimiter  ratelimit.Limiter
	AuditLogger  audit.Logger
	Callback     ChannelDrainer
	AuditExclude []string
	KeyExtractor ratelimit.KeyExtractor
}

// New builds the gRPC server: keepalive parameters, the full interceptor
// chain, health service, and (in development) reflection. Register the
// broker's own gRPC service on Engine() before calling Run.
func New(cfg *config.Config, opts Options) *Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     cfg.GRPC.KeepAlive.MaxConnectionIdle,
		MaxConnectionAge:      cfg.GRPC.KeepAlive.MaxConnectionAge,
		MaxConnectionAgeGrace: cfg.GRPC.KeepAlive.MaxConnectionAgeGrace,
		Time:                  cfg.GRPC.KeepAlive.Time,
		Timeout:               cfg.GRPC.KeepAlive.Timeout,
	}
	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	auditExclude := map[string]bool{
		"/grpc.health.v1.Health/Check": true,
		"/grpc.health.v1.Health/Watch": true,
	}
	for _, method := range opts.AuditExclude {
		auditExclude[method] = true
	}

	interceptorCfg := &interceptors.ServerConfig{
		EnableTracing: cfg.Tracing.Enabled,
		EnableAudit:   cfg.Audit.Enabled && opts.AuditLogger != nil,
		RateLimiter:   opts.RateLimiter,
		AuditLogger:   opts.AuditLogger,
		AuditExclude:  auditExclude,
		KeyExtractor:  opts.KeyExtractor,
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.GRPC.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.GRPC.MaxSendMsgSize),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentConn)),
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.UnaryInterceptor(interceptors.UnaryServerInterceptors(interceptorCfg)),
		grpc.StreamInterceptor(interceptors.StreamServerInterceptors(interceptorCfg)),
	}

	if cfg.GRPC.TLS.Enabled {
		logger.Warn("TLS is enabled in config but not implemented; serving in plaintext")
	}

	s := grpc.NewServer(serverOpts...)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	if cfg.IsDevelopment() {
		reflection.Register(s)
		logger.Debug("gRPC reflection enabled")
	}

	return &Server{
		grpcServer:  s,
		health:      h,
		cfg:         cfg,
		rateLimiter: opts.RateLimiter,
		auditLogger: opts.AuditLogger,
		callback:    opts.Callback,
	}
}

// Engine returns the underlying *grpc.Server for RegisterXxxServer calls.
func (s *Server) Engine() *grpc.Server {
	return s.grpcServer
}

// ShuttingDown reports whether graceful shutdown has begun; the gRPC handler
// (grpcapi.Handler) consults this to refuse new Register calls mid-drain (spec §5).
func (s *Server) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Run starts the telemetry provider (if enabled), the metrics HTTP server
// (if enabled), then the gRPC listener, and blocks until a shutdown signal
// or listener error.
func (s *Server) Run() error {
	ctx := context.Background()

	if s.cfg.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, s.cfg.Tracing, s.cfg.App.Version, s.cfg.App.Environment)
		if err != nil {
			logger.Warn("failed to init telemetry", "error", err)
		} else {
			s.telemetry = tp
			logger.Info("telemetry initialized", "endpoint", s.cfg.Tracing.Endpoint, "sample_rate", s.cfg.Tracing.SampleRate)
		}
	}

	if s.cfg.Metrics.Enabled {
		go func() {
			logger.Info("starting metrics server", "port", s.cfg.Metrics.Port, "path", s.cfg.Metrics.Path)
			if err := metrics.StartServer(s.cfg.Metrics.Port); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.health.SetServingStatus(s.cfg.App.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting gRPC server",
			"service", s.cfg.App.Name,
			"port", s.cfg.GRPC.Port,
			"environment", s.cfg.App.Environment,
			"version", s.cfg.App.Version,
		)
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	metrics.Get().SetServiceInfo(s.cfg.App.Version, s.cfg.App.Environment)

	return s.waitForShutdown(errCh)
}

// waitForShutdown implements the teardown sequence of spec §5: flip the
// shutting-down flag (the gRPC handler stops accepting new Register calls),
// mark NOT_SERVING, drain the callback channel cache, then stop the gRPC
// server within its grace period.
func (s *Server) waitForShutdown(errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	}

	s.shuttingDown.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.health.SetServingStatus(s.cfg.App.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if s.callback != nil {
		s.callback.Shutdown(s.cfg.Callback.GracefulCloseTimeout)
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			logger.Warn("failed to shutdown telemetry", "error", err)
		}
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Close(); err != nil {
			logger.Warn("failed to close rate limiter", "error", err)
		}
	}

	if s.auditLogger != nil {
		if err := s.auditLogger.Close(); err != nil {
			logger.Warn("failed to close audit logger", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("server stopped gracefully")
	case <-ctx.Done():
		logger.Warn("forcing server stop: grace period exceeded")
		s.grpcServer.Stop()
	}

	return nil
}

// SetServingStatus updates the health service's reported status directly
// (e.g. to fail readiness probes once the health gate detects the broker's
// own dependencies are unhealthy).
func (s *Server) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(s.cfg.App.Name, status)
}

// Stop stops the server immediately, without waiting for in-flight RPCs.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

var _ ChannelDrainer = (*callback.Client)(nil)
