// Package query implements C7: discovery listing, lookup, resolution, watch
// streams, and the module schema-retrieval cascade. It is the read side of
// the broker — it never mutates the discovery store, the metadata
// repository, or the schema archive, only reads from each.
package query

import (
	"context"
	"time"

	"regbroker/internal/discovery"
	"regbroker/internal/domain"
	"regbroker/internal/schema"
)

// DiscoveryReader is the capability interface C7 needs from C2: catalog
// traversal and per-name healthy-instance listing.
type DiscoveryReader interface {
	ListCatalog(ctx context.Context) ([]discovery.CatalogService, error)
	ListHealthyInstances(ctx context.Context, name string) ([]discovery.ServiceEntry, error)
}

// SchemaRepository is the capability interface C7 needs from C5 for tier 1
// of the schema-retrieval cascade.
type SchemaRepository interface {
	FindSchemaByID(ctx context.Context, schemaID string) (domain.ConfigSchemaRow, error)
	FindLatestSchemaByName(ctx context.Context, name string) (domain.ConfigSchemaRow, error)
	ListSchemaVersionsByName(ctx context.Context, name string) ([]string, error)
}

// SchemaArchiveReader is the capability interface C7 needs from C6 for
// tier 2 of the cascade.
type SchemaArchiveReader interface {
	GetSchemaByName(ctx context.Context, serviceName, version string) (string, error)
	GetArtifactMetadata(ctx context.Context, serviceName string) (schema.ArtifactMetadata, bool, error)
	ListVersions(ctx context.Context, serviceName string) ([]string, error)
}

// ModuleCallback is the capability interface C7 needs from C4 for tier 3 of
// the cascade.
type ModuleCallback interface {
	FetchModuleMetadata(ctx context.Context, moduleName string) (domain.ServiceRegistrationMetadata, error)
}

// InstanceRecord is one discovery-store instance, reconstructed from its
// flat meta fields (spec §4.2, §4.7).
type InstanceRecord struct {
	ServiceID            string
	Name                 string
	Host                 string
	Port                 int
	Version              string
	Tags                 []string
	Capabilities         []string
	HTTPEndpoints        []domain.HTTPEndpoint
	HTTPSchemaArtifactID string
	HTTPSchemaVersion    string
	Metadata             map[string]string
	IsModule             bool
}

// ListSnapshot is one emission of list_services/list_modules/watch_*.
type ListSnapshot struct {
	Entries    []InstanceRecord
	AsOf       time.Time
	TotalCount int
}

// ResolveRequest is resolve()'s input (spec §4.7).
type ResolveRequest struct {
	Name                 string
	RequiredTags         []string
	RequiredCapabilities []string
	PreferLocal          bool
}

// ResolveResponse is resolve()'s richer projection (spec §4.7).
type ResolveResponse struct {
	Found                bool
	Host                 string
	Port                 int
	ServiceID            string
	Version              string
	Tags                 []string
	Capabilities         []string
	HTTPEndpoints        []domain.HTTPEndpoint
	HTTPSchemaArtifactID string
	HTTPSchemaVersion    string
	Metadata             map[string]string
	TotalInstances       int
	HealthyInstances     int
	SelectionReason      string
	ResolvedAt           time.Time
}

// ModuleSchemaResult is get_module_schema's response across all four cascade
// tiers. CreatedBy/SyncStatus are only populated by tier 1 (the metadata
// repository); ArtifactID/ArtifactGlobalID/ArtifactCreatedOn are only
// populated by tier 2 when the archive's metadata lookup succeeds.
type ModuleSchemaResult struct {
	JSONSchema       string
	Source           string
	CreatedBy        string
	SyncStatus       domain.SyncStatus
	ArtifactID       string
	ArtifactGlobalID int64
	ArtifactCreatedOn string
}

// Service is C7.
type Service struct {
	discovery DiscoveryReader
	metadata  SchemaRepository
	archive   SchemaArchiveReader
	callback  ModuleCallback
}

// New wires C7 to its four read-only collaborators.
func New(discoveryReader DiscoveryReader, metadataRepo SchemaRepository, archive SchemaArchiveReader, callback ModuleCallback) *Service {
	return &Service{discovery: discoveryReader, metadata: metadataRepo, archive: archive, callback: callback}
}
