// Package grpcapi is the broker's gRPC front door: the wire message types
// and service registration for the RPCs spec §6 defines, translating
// between them and the coordinator (C1) and query (C7) packages' native
// types. There is no protoc-generated package behind this one — the wire
// framing rides internal/codec's JSON codec instead (see that package's
// doc comment) — so the structs below are themselves the wire contract;
// field names and shapes must not change without updating
// api/broker/v1/broker.proto in lockstep.
package grpcapi

import "time"

// HTTPEndpoint mirrors domain.HTTPEndpoint on the wire.
type HTTPEndpoint struct {
	Scheme     string `json:"scheme"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	BasePath   string `json:"base_path"`
	HealthPath string `json:"health_path"`
	TLSEnabled bool   `json:"tls_enabled"`
}

// Connectivity mirrors domain.Connectivity on the wire.
type Connectivity struct {
	AdvertisedHost string `json:"advertised_host"`
	AdvertisedPort int    `json:"advertised_port"`
	InternalHost   string `json:"internal_host,omitempty"`
	InternalPort   int    `json:"internal_port,omitempty"`
	TLSEnabled     bool   `json:"tls_enabled"`
}

// RegisterRequest is the Register RPC's single request message (spec §6).
type RegisterRequest struct {
	Name                 string            `json:"name"`
	Kind                 string            `json:"kind"` // "SERVICE" | "MODULE"
	Connectivity         Connectivity      `json:"connectivity"`
	Version              string            `json:"version,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	Tags                 []string          `json:"tags,omitempty"`
	Capabilities         []string          `json:"capabilities,omitempty"`
	HTTPEndpoints        []HTTPEndpoint    `json:"http_endpoints,omitempty"`
	HTTPSchema           string            `json:"http_schema,omitempty"`
	HTTPSchemaArtifactID string            `json:"http_schema_artifact_id,omitempty"`
	HTTPSchemaVersion    string            `json:"http_schema_version,omitempty"`
}

// RegisterResponse is one element of the Register RPC's response stream;
// the stream carries one element per RegistrationEvent the coordinator
// emits (spec §4.1, §6).
type RegisterResponse struct {
	EventType   string    `json:"event_type"`
	Message     string    `json:"message"`
	ServiceID   string    `json:"service_id,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// UnregisterRequest is Unregister's request message.
type UnregisterRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// UnregisterResponse is Unregister's response message.
type UnregisterResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate implements internal/interceptors' Validator duck type.
func (r *RegisterRequest) Validate() error {
	if r.Name == "" {
		return errMissingField("name")
	}
	if r.Connectivity.AdvertisedHost == "" {
		return errMissingField("connectivity.advertised_host")
	}
	if r.Connectivity.AdvertisedPort == 0 {
		return errMissingField("connectivity.advertised_port")
	}
	return nil
}

// Validate implements internal/interceptors' Validator duck type.
func (r *UnregisterRequest) Validate() error {
	if r.Name == "" {
		return errMissingField("name")
	}
	if r.Host == "" {
		return errMissingField("host")
	}
	if r.Port == 0 {
		return errMissingField("port")
	}
	return nil
}

// ServiceInstance is the wire projection of query.InstanceRecord shared by
// ListServices/ListModules/GetService/GetModule/WatchServices/WatchModules.
type ServiceInstance struct {
	ServiceID            string            `json:"service_id"`
	Name                 string            `json:"name"`
	Host                 string            `json:"host"`
	Port                 int               `json:"port"`
	Version              string            `json:"version,omitempty"`
	Tags                 []string          `json:"tags,omitempty"`
	Capabilities         []string          `json:"capabilities,omitempty"`
	HTTPEndpoints        []HTTPEndpoint    `json:"http_endpoints,omitempty"`
	HTTPSchemaArtifactID string            `json:"http_schema_artifact_id,omitempty"`
	HTTPSchemaVersion    string            `json:"http_schema_version,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	IsModule             bool              `json:"is_module"`
}

// ListServicesRequest is ListServices' request message (currently no
// filters; reserved for future paging per spec Open Question #2).
type ListServicesRequest struct{}

// ListServicesResponse is ListServices' response message.
type ListServicesResponse struct {
	Services   []ServiceInstance `json:"services"`
	AsOf       time.Time         `json:"as_of"`
	TotalCount int               `json:"total_count"`
}

// ListModulesRequest is ListModules' request message.
type ListModulesRequest struct{}

// ListModulesResponse is ListModules' response message.
type ListModulesResponse struct {
	Modules    []ServiceInstance `json:"modules"`
	AsOf       time.Time         `json:"as_of"`
	TotalCount int               `json:"total_count"`
}

// GetServiceRequest selects a service by name xor by id, mirroring the
// oneof{service_name, service_id} of spec §6.
type GetServiceRequest struct {
	ServiceName string `json:"service_name,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
}

// GetServiceResponse wraps the matched instance.
type GetServiceResponse struct {
	Service ServiceInstance `json:"service"`
}

// GetModuleRequest selects a module by name xor by id.
type GetModuleRequest struct {
	ServiceName string `json:"service_name,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
}

// GetModuleResponse wraps the matched instance.
type GetModuleResponse struct {
	Module ServiceInstance `json:"module"`
}

// ResolveServiceRequest is ResolveService's request message (spec §4.7).
type ResolveServiceRequest struct {
	Name                 string   `json:"name"`
	RequiredTags         []string `json:"required_tags,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	PreferLocal          bool     `json:"prefer_local,omitempty"`
}

// Validate implements internal/interceptors' Validator duck type.
func (r *ResolveServiceRequest) Validate() error {
	if r.Name == "" {
		return errMissingField("name")
	}
	return nil
}

// ResolveServiceResponse is ResolveService's richer response message.
type ResolveServiceResponse struct {
	Found                bool              `json:"found"`
	Host                 string            `json:"host,omitempty"`
	Port                 int               `json:"port,omitempty"`
	ServiceID            string            `json:"service_id,omitempty"`
	Version              string            `json:"version,omitempty"`
	Tags                 []string          `json:"tags,omitempty"`
	Capabilities         []string          `json:"capabilities,omitempty"`
	HTTPEndpoints        []HTTPEndpoint    `json:"http_endpoints,omitempty"`
	HTTPSchemaArtifactID string            `json:"http_schema_artifact_id,omitempty"`
	HTTPSchemaVersion    string            `json:"http_schema_version,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	TotalInstances       int               `json:"total_instances"`
	HealthyInstances     int               `json:"healthy_instances"`
	SelectionReason      string            `json:"selection_reason,omitempty"`
	ResolvedAt           time.Time         `json:"resolved_at"`
}

// WatchServicesRequest is WatchServices' request message (no filters; an
// immediate snapshot, then one every 2s, per spec §4.7/§6).
type WatchServicesRequest struct{}

// WatchModulesRequest is WatchModules' request message.
type WatchModulesRequest struct{}

// WatchSnapshot is one server-streamed element of WatchServices/WatchModules,
// reusing the List*Response shape.
type WatchSnapshot struct {
	Entries    []ServiceInstance `json:"entries"`
	AsOf       time.Time         `json:"as_of"`
	TotalCount int               `json:"total_count"`
}

// GetModuleSchemaRequest is GetModuleSchema's request message.
type GetModuleSchemaRequest struct {
	ModuleName string `json:"module_name"`
	Version    string `json:"version,omitempty"`
}

// Validate implements internal/interceptors' Validator duck type.
func (r *GetModuleSchemaRequest) Validate() error {
	if r.ModuleName == "" {
		return errMissingField("module_name")
	}
	return nil
}

// GetModuleSchemaResponse is GetModuleSchema's response message, its fields
// populated according to which cascade tier served the request (spec §4.7).
type GetModuleSchemaResponse struct {
	JSONSchema        string `json:"json_schema"`
	Source            string `json:"source"`
	CreatedBy         string `json:"created_by,omitempty"`
	SyncStatus        string `json:"sync_status,omitempty"`
	ArtifactID        string `json:"artifact_id,omitempty"`
	ArtifactGlobalID  int64  `json:"artifact_global_id,omitempty"`
	ArtifactCreatedOn string `json:"artifact_created_on,omitempty"`
}

// GetModuleSchemaVersionsRequest is GetModuleSchemaVersions' request message.
type GetModuleSchemaVersionsRequest struct {
	ModuleName string `json:"module_name"`
}

// Validate implements internal/interceptors' Validator duck type.
func (r *GetModuleSchemaVersionsRequest) Validate() error {
	if r.ModuleName == "" {
		return errMissingField("module_name")
	}
	return nil
}

// GetModuleSchemaVersionsResponse carries the cascade's merged version list.
type GetModuleSchemaVersionsResponse struct {
	Versions []string `json:"versions"`
}
