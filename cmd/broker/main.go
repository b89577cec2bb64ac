// Command broker runs the registration/discovery broker: a single gRPC
// front door coordinating a Consul-style discovery store, a relational
// metadata store, a schema archive, and a Kafka-style event bus.
package main

import (
	"context"
	"time"

	"regbroker/internal/audit"
	"regbroker/internal/callback"
	"regbroker/internal/config"
	"regbroker/internal/coordinator"
	"regbroker/internal/database"
	"regbroker/internal/discovery"
	"regbroker/internal/domain"
	"regbroker/internal/events"
	"regbroker/internal/grpcapi"
	"regbroker/internal/healthgate"
	"regbroker/internal/logger"
	"regbroker/internal/metadata"
	"regbroker/internal/metrics"
	"regbroker/internal/query"
	"regbroker/internal/ratelimit"
	"regbroker/internal/schema"
	"regbroker/internal/server"
	"regbroker/migrations"
)

func main() {
	cfg := config.MustLoad()
	if err := cfg.Validate(); err != nil {
		logger.Init(config.LogConfig{Level: "error", Format: "json", Output: "stdout"})
		logger.Fatal("invalid configuration", "error", err)
	}

	logger.Init(cfg.Log)
	logger.Info("starting registration broker", "version", cfg.App.Version, "environment", cfg.App.Environment)

	metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)

	discoveryAdapter, err := discovery.New(cfg.Discovery)
	if err != nil {
		logger.Fatal("failed to build discovery adapter", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgresDB(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to metadata database", "error", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool(), cfg.Database, migrations.FS, "."); err != nil {
		logger.Fatal("failed to run database migrations", "error", err)
	}

	metadataRepo := metadata.NewPostgresRepository(db)
	schemaArchive := schema.New(cfg.SchemaArchive)
	eventPublisher := events.New(cfg.EventBus)
	defer eventPublisher.Close()

	callbackClient := callback.New(discoveryAdapter, cfg.Callback, cfg.Retry)

	healthGate := healthgate.New(&healthInstanceLister{discoveryAdapter}, cfg.HealthGate)

	coord := coordinator.New(discoveryAdapter, healthGate, callbackClient, metadataRepo, schemaArchive, eventPublisher)
	queryService := query.New(discoveryAdapter, metadataRepo, schemaArchive, callbackClient)

	var rateLimiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rateLimiter, err = ratelimit.New(cfg.RateLimit)
		if err != nil {
			logger.Fatal("failed to build rate limiter", "error", err)
		}
	}

	var auditLogger audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.New(cfg.Audit)
		if err != nil {
			logger.Fatal("failed to build audit logger", "error", err)
		}
		audit.SetGlobal(auditLogger)
	}

	srv := server.New(cfg, server.Options{
		RateLimiter:  rateLimiter,
		AuditLogger:  auditLogger,
		Callback:     callbackClient,
		AuditExclude: cfg.Audit.ExcludeMethods,
		KeyExtractor: ratelimit.DefaultKeyExtractor,
	})

	handler := grpcapi.NewHandler(coord, queryService, srv)
	grpcapi.RegisterBrokerServer(srv.Engine(), handler)

	if cfg.SelfRegistration.Enabled {
		go selfRegister(ctx, coord, cfg.SelfRegistration)
	}

	if err := srv.Run(); err != nil {
		logger.Fatal("server exited with error", "error", err)
	}

	logger.Info("registration broker stopped")
}

// healthInstanceLister narrows discovery.Adapter's richer ServiceEntry
// projection down to the {ServiceID, Healthy} pair C3 needs, the capability-
// interface substitution spec §9 calls for instead of handing C3 the whole
// discovery package.
type healthInstanceLister struct {
	adapter *discovery.Adapter
}

func (l *healthInstanceLister) ListHealthyInstances(ctx context.Context, name string) ([]healthgate.Instance, error) {
	entries, err := l.adapter.ListHealthyInstances(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]healthgate.Instance, len(entries))
	for i, e := range entries {
		out[i] = healthgate.Instance{ServiceID: e.ServiceID, Healthy: e.Healthy}
	}
	return out, nil
}

// selfRegister registers this broker process itself as a service in the
// discovery store it fronts, so other registrants can discover the broker
// the same way they discover each other (spec §9). It runs on its own
// goroutine, started just before srv.Run, and retries on failure rather
// than blocking startup.
func selfRegister(ctx context.Context, coord *coordinator.Coordinator, cfg config.SelfRegistrationConfig) {
	req := domain.RegisterRequest{
		Name: cfg.Name,
		Kind: domain.RegistrantService,
		Connectivity: domain.Connectivity{
			AdvertisedHost: cfg.AdvertisedHost,
			AdvertisedPort: cfg.AdvertisedPort,
			InternalHost:   cfg.InternalHost,
			InternalPort:   cfg.InternalPort,
		},
		HTTPEndpoints: []domain.HTTPEndpoint{{
			Host:       cfg.AdvertisedHost,
			Port:       cfg.HealthCheckPort,
			HealthPath: cfg.HealthPath,
		}},
	}

	const maxAttempts = 5
	backoff := time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if selfRegisterOnce(ctx, coord, req) {
			return
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return
		}
	}
	logger.Error("self-registration did not complete after retries", "attempts", maxAttempts)
}

func selfRegisterOnce(ctx context.Context, coord *coordinator.Coordinator, req domain.RegisterRequest) bool {
	for evt := range coord.Register(ctx, req) {
		switch evt.EventType {
		case domain.EventCompleted:
			logger.Info("self-registration completed", "service_id", evt.ServiceID)
			return true
		case domain.EventFailed:
			logger.Warn("self-registration attempt failed, will retry", "detail", evt.ErrorDetail)
			return false
		}
	}
	return false
}
