// Package discovery adapts the broker's registrant model onto a Consul-style
// service-discovery/health store (C2 in the design), including the flat
// string-map metadata encoding third-party clients of the store depend on.
package discovery

import (
	"context"
	"fmt"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"

	"regbroker/internal/apperror"
	"regbroker/internal/config"
	"regbroker/internal/domain"
	"regbroker/internal/logger"
)

// ModuleTag marks a discovery-store record as belonging to a module
// registrant, the single signal C7 uses to partition services from modules.
const ModuleTag = "module"

// CapabilityTagPrefix namespaces capability tags ("capability:<name>").
const CapabilityTagPrefix = "capability:"

// Adapter wraps a Consul-compatible catalog/agent client with the broker's
// record shape. It is safe for concurrent use; the underlying client is
// itself concurrent-safe by contract (spec §5).
type Adapter struct {
	client *consulapi.Client
}

// New builds an Adapter from the discovery section of the configuration.
func New(cfg config.DiscoveryConfig) (*Adapter, error) {
	apiCfg := consulapi.DefaultConfig()
	apiCfg.Address = cfg.Address
	if cfg.Scheme != "" {
		apiCfg.Scheme = cfg.Scheme
	}
	if cfg.Datacenter != "" {
		apiCfg.Datacenter = cfg.Datacenter
	}
	if cfg.Token != "" {
		apiCfg.Token = cfg.Token
	}
	if cfg.TLSEnabled {
		apiCfg.Scheme = "https"
	}

	client, err := consulapi.NewClient(apiCfg)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDiscoveryUnavailable, "failed to build discovery client")
	}
	return &Adapter{client: client}, nil
}

// Register creates the discovery-store record for serviceID, including its
// health check, per the flat-metadata encoding of spec §4.2.
func (a *Adapter) Register(ctx context.Context, req domain.RegisterRequest, serviceID string) error {
	meta := encodeMeta(req)
	tags := buildTags(req)

	reg := &consulapi.AgentServiceRegistration{
		ID:      serviceID,
		Name:    req.Name,
		Address: req.Connectivity.ProbeHost(),
		Port:    req.Connectivity.ProbePort(),
		Tags:    tags,
		Meta:    meta,
		Check:   buildHealthCheck(req),
	}

	if err := a.client.Agent().ServiceRegisterOpts(reg, consulapi.ServiceRegisterOpts{}.WithContext(ctx)); err != nil {
		return apperror.Wrap(err, apperror.CodeDiscoveryRegister, "discovery-store registration failed").
			WithDetails("service_id", serviceID)
	}

	logger.Info("discovery record registered", "service_id", serviceID, "name", req.Name)
	return nil
}

// Deregister removes the discovery-store record for serviceID. It returns
// false for any error the store reports, including an unknown service id,
// so deregistering a record that is already gone reports false.
func (a *Adapter) Deregister(ctx context.Context, serviceID string) bool {
	if err := a.client.Agent().ServiceDeregisterOpts(serviceID, new(consulapi.QueryOptions).WithContext(ctx)); err != nil {
		logger.Warn("discovery deregister failed", "service_id", serviceID, "error", err)
		return false
	}
	return true
}

// CatalogService is one entry of the store's service-name catalog.
type CatalogService struct {
	Name string
	Tags []string
}

// ListCatalog returns every service name currently known to the store.
func (a *Adapter) ListCatalog(ctx context.Context) ([]CatalogService, error) {
	services, _, err := a.client.Catalog().Services(new(consulapi.QueryOptions).WithContext(ctx))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDiscoveryUnavailable, "failed to list discovery catalog")
	}
	out := make([]CatalogService, 0, len(services))
	for name, tags := range services {
		out = append(out, CatalogService{Name: name, Tags: tags})
	}
	return out, nil
}

// ServiceEntry is one discovery-store instance. Meta holds the record's flat
// string-map metadata as returned by decodeMetaKeys.
type ServiceEntry struct {
	ServiceID string
	Name      string
	Address   string
	Port      int
	Tags      []string
	Meta      map[string]string
	Healthy   bool
}

// ListHealthyInstances returns the healthy instances of name, used by C3
// (health gate), C4 (callback target resolution), and C7 (listing/lookup).
func (a *Adapter) ListHealthyInstances(ctx context.Context, name string) ([]ServiceEntry, error) {
	entries, _, err := a.client.Health().Service(name, "", true, new(consulapi.QueryOptions).WithContext(ctx))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDiscoveryUnavailable, "failed to query healthy instances").
			WithDetails("name", name)
	}

	out := make([]ServiceEntry, 0, len(entries))
	for _, e := range entries {
		svc := e.Service
		out = append(out, ServiceEntry{
			ServiceID: svc.ID,
			Name:      svc.Service,
			Address:   svc.Address,
			Port:      svc.Port,
			Tags:      svc.Tags,
			Meta:      decodeMetaKeys(svc.Meta),
			Healthy:   aggregatedHealthy(e.Checks),
		})
	}
	return out, nil
}

// FindTags looks up serviceID's discovery-record tags regardless of its
// current health status, used by Unregister to distinguish a module from a
// service without consulting the metadata store (spec §4.1).
func (a *Adapter) FindTags(ctx context.Context, name, serviceID string) ([]string, bool) {
	entries, _, err := a.client.Health().Service(name, "", false, new(consulapi.QueryOptions).WithContext(ctx))
	if err != nil {
		logger.Warn("discovery tag lookup failed", "service_id", serviceID, "error", err)
		return nil, false
	}
	for _, e := range entries {
		if e.Service.ID == serviceID {
			return e.Service.Tags, true
		}
	}
	return nil, false
}

// ResolveDialTarget picks a "host:port" target for moduleName among its
// currently healthy instances, used by C4 to dial a module back for its
// registration callback (spec §9). It is the simplest possible selection —
// the first healthy instance. Neither this nor resolve_service (spec §4.7)
// spreads load; resolve_service only adds tag/capability filtering and the
// prefer_local rule, which callback dialing does not need.
func (a *Adapter) ResolveDialTarget(ctx context.Context, moduleName string) (string, error) {
	entries, err := a.ListHealthyInstances(ctx, moduleName)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", apperror.New(apperror.CodeNotFound, "no healthy instance to dial").WithDetails("name", moduleName)
	}
	return fmt.Sprintf("%s:%d", entries[0].Address, entries[0].Port), nil
}

func aggregatedHealthy(checks consulapi.HealthChecks) bool {
	return checks.AggregatedStatus() == consulapi.HealthPassing
}

// buildTags merges request tags, capability tags, and the module marker.
func buildTags(req domain.RegisterRequest) []string {
	tags := append([]string(nil), req.Tags...)
	for _, c := range req.Capabilities {
		tags = append(tags, CapabilityTagPrefix+c)
	}
	if req.Kind == domain.RegistrantModule {
		tags = append(tags, ModuleTag)
	}
	return tags
}

// encodeMeta implements the flat string-map encoding of spec §4.2.
func encodeMeta(req domain.RegisterRequest) map[string]string {
	meta := make(map[string]string, len(req.Metadata)+8)
	for k, v := range req.Metadata {
		meta[domain.SanitizeMetaKey(k)] = v
	}

	meta["advertised-host"] = req.Connectivity.AdvertisedHost
	meta["advertised-port"] = strconv.Itoa(req.Connectivity.AdvertisedPort)
	meta["version"] = req.Version
	meta["service-type"] = req.Kind.String()
	meta["service-name"] = req.Name

	meta["http_endpoint_count"] = strconv.Itoa(len(req.HTTPEndpoints))
	for i, ep := range req.HTTPEndpoints {
		prefix := fmt.Sprintf("http_endpoint_%d_", i)
		meta[prefix+"scheme"] = ep.Scheme
		meta[prefix+"host"] = ep.Host
		meta[prefix+"port"] = strconv.Itoa(ep.Port)
		if ep.BasePath != "" {
			meta[prefix+"base_path"] = ep.BasePath
		}
		if ep.HealthPath != "" {
			meta[prefix+"health_path"] = ep.HealthPath
		}
		meta[prefix+"tls_enabled"] = strconv.FormatBool(ep.TLSEnabled)
	}

	if req.HTTPSchemaArtifactID != "" {
		meta["http_schema_artifact_id"] = req.HTTPSchemaArtifactID
	}
	if req.HTTPSchemaVersion != "" {
		meta["http_schema_version"] = req.HTTPSchemaVersion
	}

	return meta
}

// decodeMetaKeys copies the store's meta map with its keys unchanged; it does
// not undo the dot-to-underscore sanitization performed on write, because
// the store cannot tell which underscores were originally dots. It is an
// identity pass kept for symmetry with
// encodeMeta and for callers that only need the already-underscored keys
// defined by the wire contract (http_endpoint_*, advertised-*, etc.).
func decodeMetaKeys(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
