// Package coordinator implements C1: the streaming registration state
// machine that drives one Register/Unregister request end-to-end across the
// discovery store, health gate, module callback, metadata repository, schema
// archive, and event publisher, with compensating rollback on failure.
package coordinator

import (
	"context"

	"regbroker/internal/domain"
	"regbroker/internal/schema"
)

// DiscoveryRegistrar is the capability C1 needs from C2.
type DiscoveryRegistrar interface {
	Register(ctx context.Context, req domain.RegisterRequest, serviceID string) error
	Deregister(ctx context.Context, serviceID string) bool

	// FindTags looks up the discovery record's tags for serviceID without
	// requiring it to currently be healthy. Unregister uses it to tell a
	// module apart from a service (the module marker tag) without
	// consulting the metadata store, which spec §4.1 forbids it from doing.
	FindTags(ctx context.Context, name, serviceID string) ([]string, bool)
}

// HealthWaiter is the capability C1 needs from C3.
type HealthWaiter interface {
	WaitForHealthy(ctx context.Context, serviceName, serviceID string) bool
}

// ModuleCallback is the capability C1 needs from C4.
type ModuleCallback interface {
	FetchModuleMetadata(ctx context.Context, moduleName string) (domain.ServiceRegistrationMetadata, error)
}

// ModuleRegistrar is the capability C1 needs from C5.
type ModuleRegistrar interface {
	RegisterModule(ctx context.Context, name, host string, port int, version string, meta map[string]string, configSchemaJSON string) (domain.ModuleRow, error)
	DeleteModule(ctx context.Context, serviceID string) error

	// MarkSchemaSynced and MarkSchemaFailed record the outcome of the
	// module schema's archive attempt against its config_schemas row (spec
	// §8 Scenario 2). Neither failure is fatal to registration: a
	// MarkSchema* error is logged and swallowed, never rolled back.
	MarkSchemaSynced(ctx context.Context, schemaID, artifactID string, globalID int64) error
	MarkSchemaFailed(ctx context.Context, schemaID, syncErr string) error
}

// SchemaArchiver is the capability C1 needs from C6.
type SchemaArchiver interface {
	CreateOrUpdateWithArtifactBase(ctx context.Context, base, version, jsonSchema string) (schema.CreateOrUpdateResult, error)
}

// EventEmitter is the capability C1 needs from the Event Publisher.
type EventEmitter interface {
	EmitServiceRegistered(ctx context.Context, req domain.RegisterRequest, serviceID string)
	EmitModuleRegistered(ctx context.Context, req domain.RegisterRequest, serviceID string)
	EmitServiceUnregistered(ctx context.Context, serviceID, name, host string, port int)
	EmitModuleUnregistered(ctx context.Context, serviceID, name, host string, port int)
}

// Coordinator wires every collaborator C1 needs (spec §4.1).
type Coordinator struct {
	discovery DiscoveryRegistrar
	health    HealthWaiter
	callback  ModuleCallback
	metadata  ModuleRegistrar
	archive   SchemaArchiver
	events    EventEmitter
}

// New builds a Coordinator from its six collaborators.
func New(
	discovery DiscoveryRegistrar,
	health HealthWaiter,
	callback ModuleCallback,
	metadata ModuleRegistrar,
	archive SchemaArchiver,
	events EventEmitter,
) *Coordinator {
	return &Coordinator{
		discovery: discovery,
		health:    health,
		callback:  callback,
		metadata:  metadata,
		archive:   archive,
		events:    events,
	}
}
