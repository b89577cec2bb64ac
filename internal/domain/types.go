// Package domain holds the broker's wire-independent data model: the
// registrant shapes, the deterministic identifiers derived from them, and
// the event vocabulary the registration pipeline emits.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// RegistrantKind distinguishes the two pipelines the Coordinator runs.
type RegistrantKind int

const (
	RegistrantUnspecified RegistrantKind = iota
	RegistrantService
	RegistrantModule
)

// String renders the kind the way it appears in discovery-store metadata
// (meta["service-type"]) and in log output.
func (k RegistrantKind) String() string {
	switch k {
	case RegistrantService:
		return "SERVICE"
	case RegistrantModule:
		return "MODULE"
	default:
		return "UNSPECIFIED"
	}
}

// Connectivity carries the dial-vs-probe endpoint split described in spec §3.
type Connectivity struct {
	AdvertisedHost string
	AdvertisedPort int
	InternalHost   string
	InternalPort   int
	TLSEnabled     bool
}

// ProbeHost returns the host the discovery store and its health probe must
// use: internal when present, advertised otherwise.
func (c Connectivity) ProbeHost() string {
	if c.InternalHost != "" {
		return c.InternalHost
	}
	return c.AdvertisedHost
}

// ProbePort returns the port the discovery store and its health probe must use.
func (c Connectivity) ProbePort() int {
	if c.InternalPort != 0 {
		return c.InternalPort
	}
	return c.AdvertisedPort
}

// HTTPEndpoint is one of the 0..N HTTP surfaces a registrant may advertise.
type HTTPEndpoint struct {
	Scheme     string
	Host       string
	Port       int
	BasePath   string
	HealthPath string
	TLSEnabled bool
}

// RegisterRequest is the coordinator's input for one registration attempt.
type RegisterRequest struct {
	Name                 string
	Kind                 RegistrantKind
	Connectivity         Connectivity
	Version              string
	Metadata             map[string]string
	Tags                 []string
	Capabilities         []string
	HTTPEndpoints        []HTTPEndpoint
	HTTPSchema           string
	HTTPSchemaArtifactID string
	HTTPSchemaVersion    string
}

// ServiceID computes the deterministic natural key described in spec §3:
// "{name}-{host}-{port}" over the advertised pair. It is idempotent — the
// same triple always yields the same id, which is what makes retried
// Register calls converge onto a single discovery-store record.
func ServiceID(name, advertisedHost string, advertisedPort int) string {
	return fmt.Sprintf("%s-%s-%d", name, advertisedHost, advertisedPort)
}

// ServiceIDFor is a convenience wrapper over ServiceID for a request.
func ServiceIDFor(req RegisterRequest) string {
	return ServiceID(req.Name, req.Connectivity.AdvertisedHost, req.Connectivity.AdvertisedPort)
}

// SanitizeMetaKey rewrites a metadata key so it can be written to the
// discovery store, which forbids '.' in keys (spec §4.2/§9). The same
// rewrite must be applied on read-back by callers that need the original key.
func SanitizeMetaKey(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// SanitizeVersion rewrites '.' to '_' the way schema/artifact ids do
// (spec §4.5, §4.6).
func SanitizeVersion(version string) string {
	return strings.ReplaceAll(version, ".", "_")
}

// ModuleStatus enumerates the module row's status column (spec §6).
type ModuleStatus string

const (
	ModuleStatusActive ModuleStatus = "ACTIVE"
)

// ModuleRow is the relational projection of a registered module (spec §3/§6).
type ModuleRow struct {
	ServiceID      string
	ServiceName    string
	Host           string
	Port           int
	Version        string
	ConfigSchemaID string
	Metadata       map[string]string
	RegisteredAt   time.Time
	LastHeartbeat  *time.Time
	Status         ModuleStatus
}

// Healthy reports whether the module has heartbeat within the last 30s,
// the view spec §3 defines for "healthy" in the metadata-store projection.
func (m ModuleRow) Healthy(now time.Time) bool {
	if m.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*m.LastHeartbeat) <= 30*time.Second
}

// SyncStatus enumerates the config-schema row's sync-status column.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// ConfigSchemaRow is the relational projection of a versioned config schema.
type ConfigSchemaRow struct {
	SchemaID          string
	ServiceName       string
	SchemaVersion     string
	JSONSchema        string
	CreatedAt         time.Time
	CreatedBy         string
	ArchiveArtifactID string
	ArchiveGlobalID   int64
	SyncStatus        SyncStatus
	LastSyncAttempt   *time.Time
	SyncError         string
}

// SchemaID derives the deterministic schema-row primary key (spec §4.5):
// "{service_name}-{schema_version}" after sanitizing dots in the version.
func SchemaID(serviceName, schemaVersion string) string {
	return fmt.Sprintf("%s-%s", serviceName, SanitizeVersion(schemaVersion))
}

// SynthesizeDefaultConfigSchema builds the minimal OpenAPI 3.1 document used
// whenever no concrete config schema is available for name, whether because
// a module callback omitted one (spec §4.1 step 4) or because the query
// cascade's live-callback tier had to fall back (spec §4.7 tier 3). The
// literal substrings "openapi", "3.1.0", and "{name} Configuration" are part
// of the documented contract (spec §8 acceptance scenario).
func SynthesizeDefaultConfigSchema(name string) string {
	return fmt.Sprintf(`{
  "openapi": "3.1.0",
  "info": {
    "title": "%s Configuration",
    "version": "1.0.0"
  },
  "components": {
    "schemas": {
      "Config": {
        "type": "object",
        "additionalProperties": {
          "type": "string"
        }
      }
    }
  }
}`, name)
}

// ServiceRegistrationMetadata is what C4's callback returns (spec §4.4).
type ServiceRegistrationMetadata struct {
	ModuleName        string
	Version           string
	JSONConfigSchema  string
	DisplayName       string
	Description       string
	Owner             string
	DocumentationURL  string
	Tags              []string
	Dependencies      []string
	Metadata          map[string]string
}
