// Package metadata implements C5: the relational projection of registered
// modules and their versioned config schemas.
package metadata

import (
	"context"

	"regbroker/internal/domain"
)

// Repository is C5's public contract (spec §4.5).
type Repository interface {
	// RegisterModule atomically writes the module row and its matching
	// schema row (sync_status=PENDING), wiring the module's
	// config_schema_id to the schema row it just created.
	RegisterModule(ctx context.Context, name, host string, port int, version string, meta map[string]string, configSchemaJSON string) (domain.ModuleRow, error)

	FindModuleByID(ctx context.Context, serviceID string) (domain.ModuleRow, error)
	FindModuleByName(ctx context.Context, name string) (domain.ModuleRow, error)
	DeleteModule(ctx context.Context, serviceID string) error

	FindSchemaByID(ctx context.Context, schemaID string) (domain.ConfigSchemaRow, error)
	FindLatestSchemaByName(ctx context.Context, name string) (domain.ConfigSchemaRow, error)
	ListSchemaVersionsByName(ctx context.Context, name string) ([]string, error)

	MarkSchemaSynced(ctx context.Context, schemaID, artifactID string, globalID int64) error
	MarkSchemaFailed(ctx context.Context, schemaID, syncError string) error
}
