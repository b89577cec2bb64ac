package coordinator

import (
	"context"
	"time"

	"regbroker/internal/domain"
	"regbroker/internal/logger"
	"regbroker/internal/schema"
)

// Register drives the forward-only state machine described in spec §4.1 and
// returns a channel of progress events. The caller (the gRPC service
// implementation) forwards each element onto the client's response stream;
// the channel is closed once a terminal event (COMPLETED or FAILED) has been
// sent.
//
// The pipeline itself runs on its own goroutine, distinct from the one
// driving the inbound gRPC stream (spec §5's worker-context requirement) —
// callers must not assume Register blocks until the stream finishes.
func (c *Coordinator) Register(ctx context.Context, req domain.RegisterRequest) <-chan domain.RegistrationEvent {
	out := make(chan domain.RegistrationEvent, 16)
	go c.runRegister(ctx, req, out)
	return out
}

func emit(ctx context.Context, out chan<- domain.RegistrationEvent, eventType domain.EventType, message, serviceID, errDetail string) {
	select {
	case out <- domain.RegistrationEvent{
		EventType:   eventType,
		Message:     message,
		ServiceID:   serviceID,
		ErrorDetail: errDetail,
		Timestamp:   time.Now(),
	}:
	case <-ctx.Done():
	}
}

func (c *Coordinator) runRegister(ctx context.Context, req domain.RegisterRequest, out chan<- domain.RegistrationEvent) {
	defer close(out)

	serviceID := domain.ServiceIDFor(req)
	emit(ctx, out, domain.EventStarted, "registration started", serviceID, "")

	if !validRegisterRequest(req) {
		emit(ctx, out, domain.EventFailed, "registration failed", serviceID, "Missing required fields")
		return
	}
	emit(ctx, out, domain.EventValidated, "request validated", serviceID, "")

	compensation := &compensationStack{}

	if err := c.discovery.Register(ctx, req, serviceID); err != nil {
		// No rollback needed: nothing external has been touched yet.
		emit(ctx, out, domain.EventFailed, "discovery registration failed", serviceID, err.Error())
		return
	}
	compensation.push(func() { c.discovery.Deregister(context.Background(), serviceID) })
	emit(ctx, out, domain.EventConsulRegistered, "discovery record created", serviceID, "")
	emit(ctx, out, domain.EventHealthCheckConfigured, "health check configured", serviceID, "")

	if !c.health.WaitForHealthy(ctx, req.Name, serviceID) {
		compensation.unwind()
		emit(ctx, out, domain.EventFailed, "health check did not pass before deadline", serviceID, "health gate timeout")
		return
	}
	emit(ctx, out, domain.EventConsulHealthy, "instance reports healthy", serviceID, "")

	if req.Kind == domain.RegistrantService {
		c.runServiceTail(ctx, req, serviceID, out)
		return
	}
	c.runModuleTail(ctx, req, serviceID, compensation, out)
}

func validRegisterRequest(req domain.RegisterRequest) bool {
	if req.Name == "" {
		return false
	}
	if req.Kind != domain.RegistrantService && req.Kind != domain.RegistrantModule {
		return false
	}
	if req.Connectivity.AdvertisedHost == "" {
		return false
	}
	if req.Connectivity.AdvertisedPort <= 0 {
		return false
	}
	return true
}

// runServiceTail implements spec §4.1's service-branch steps 3-4: a
// non-fatal HTTP-schema archive attempt, event emission, and COMPLETED.
func (c *Coordinator) runServiceTail(ctx context.Context, req domain.RegisterRequest, serviceID string, out chan<- domain.RegistrationEvent) {
	if req.HTTPSchema != "" {
		base := req.HTTPSchemaArtifactID
		if base == "" {
			base = req.Name + "-http"
		}
		version := req.HTTPSchemaVersion
		if version == "" {
			version = req.Version
		}
		if _, err := c.archive.CreateOrUpdateWithArtifactBase(ctx, base, version, req.HTTPSchema); err != nil {
			logger.Warn("http schema archive failed, continuing", "service_id", serviceID, "error", err)
		}
	}

	c.events.EmitServiceRegistered(ctx, req, serviceID)
	emit(ctx, out, domain.EventCompleted, "service registration completed", serviceID, "")
}

// runModuleTail implements spec §4.1's module-branch steps 3-7.
func (c *Coordinator) runModuleTail(ctx context.Context, req domain.RegisterRequest, serviceID string, compensation *compensationStack, out chan<- domain.RegistrationEvent) {
	meta, err := c.callback.FetchModuleMetadata(ctx, req.Name)
	if err != nil {
		compensation.unwind()
		emit(ctx, out, domain.EventFailed, "module callback failed", serviceID, err.Error())
		return
	}
	emit(ctx, out, domain.EventMetadataRetrieved, "module metadata retrieved", serviceID, "")

	configSchema := meta.JSONConfigSchema
	if configSchema == "" {
		configSchema = synthesizeDefaultSchema(req.Name)
	}
	emit(ctx, out, domain.EventSchemaValidated, "config schema validated", serviceID, "")

	moduleRow, err := c.persistModule(ctx, req, serviceID, configSchema)
	if err != nil {
		compensation.unwind()
		emit(ctx, out, domain.EventFailed, "failed to persist module registration", serviceID, err.Error())
		return
	}
	compensation.push(func() {
		if err := c.metadata.DeleteModule(context.Background(), moduleRow.ServiceID); err != nil {
			logger.Warn("rollback: failed to delete module row", "service_id", moduleRow.ServiceID, "error", err)
		}
	})
	emit(ctx, out, domain.EventDatabaseSaved, "module persisted", serviceID, "")

	if c.archiveModuleSchema(ctx, req, configSchema, serviceID, moduleRow.ConfigSchemaID) {
		emit(ctx, out, domain.EventApicurioRegistered, "schema archived", serviceID, "")
	} else {
		// Dual SCHEMA_VALIDATED reuse (Open Question decision #2, DESIGN.md):
		// the source signals "archive sync skipped" by re-emitting the same
		// event type with a different message rather than a new wire event.
		emit(ctx, out, domain.EventSchemaValidated, "registry sync skipped", serviceID, "")
	}

	c.events.EmitModuleRegistered(ctx, req, serviceID)
	emit(ctx, out, domain.EventCompleted, "module registration completed", serviceID, "")
}

// persistModule hands the relational write off to its own goroutine so the
// transactional driver never shares an execution context with the gRPC
// stream's network I/O (spec §5). The coordinator awaits completion through
// the returned channel rather than blocking the caller's own goroutine on
// pgx directly.
func (c *Coordinator) persistModule(ctx context.Context, req domain.RegisterRequest, serviceID, configSchema string) (domain.ModuleRow, error) {
	type result struct {
		row domain.ModuleRow
		err error
	}
	done := make(chan result, 1)

	go func() {
		row, err := c.metadata.RegisterModule(ctx, req.Name, req.Connectivity.AdvertisedHost,
			req.Connectivity.AdvertisedPort, req.Version, req.Metadata, configSchema)
		done <- result{row: row, err: err}
	}()

	res := <-done
	_ = serviceID
	return res.row, res.err
}

// archiveModuleSchema hands the HTTP archive call off to a fresh goroutine,
// the "yield to a fresh execution context" boundary spec §4.1 requires
// between the C5 transaction and the C6 HTTP client. Failure here is
// non-fatal to registration: the caller reports it only via the dual
// SCHEMA_VALIDATED reuse, never as FAILED. Either way the config_schemas
// row's sync_status is updated to reflect the outcome (spec §8 Scenario 2);
// a failure to record that outcome is itself logged and swallowed.
func (c *Coordinator) archiveModuleSchema(ctx context.Context, req domain.RegisterRequest, configSchema, serviceID, schemaID string) bool {
	type archiveResult struct {
		res schema.CreateOrUpdateResult
		err error
	}
	done := make(chan archiveResult, 1)
	go func() {
		res, err := c.archive.CreateOrUpdateWithArtifactBase(ctx, req.Name, req.Version, configSchema)
		done <- archiveResult{res: res, err: err}
	}()

	result := <-done
	if result.err != nil {
		logger.Warn("module schema archive failed, continuing", "service_id", serviceID, "error", result.err)
		if markErr := c.metadata.MarkSchemaFailed(ctx, schemaID, result.err.Error()); markErr != nil {
			logger.Warn("failed to record schema sync failure", "schema_id", schemaID, "error", markErr)
		}
		return false
	}

	if markErr := c.metadata.MarkSchemaSynced(ctx, schemaID, result.res.ArtifactID, result.res.GlobalID); markErr != nil {
		logger.Warn("failed to record schema sync success", "schema_id", schemaID, "error", markErr)
	}
	return true
}
