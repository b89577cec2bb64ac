package query

import (
	"strconv"
	"strings"

	"regbroker/internal/discovery"
	"regbroker/internal/domain"
)

// decodeInstance reconstructs an InstanceRecord from a discovery-store
// entry's flat meta fields (spec §4.2, §4.7). Advertised host/port are read
// from meta in preference to the record's own address/port, since clients
// must dial the advertised pair rather than the store's probe target.
func decodeInstance(entry discovery.ServiceEntry) InstanceRecord {
	meta := entry.Meta

	host := entry.Address
	if v, ok := meta["advertised-host"]; ok && v != "" {
		host = v
	}
	port := entry.Port
	if v, ok := meta["advertised-port"]; ok {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	record := InstanceRecord{
		ServiceID:            entry.ServiceID,
		Name:                 entry.Name,
		Host:                 host,
		Port:                 port,
		Version:              meta["version"],
		Tags:                 entry.Tags,
		Capabilities:         decodeCapabilities(entry.Tags),
		HTTPEndpoints:        decodeHTTPEndpoints(meta),
		HTTPSchemaArtifactID: meta["http_schema_artifact_id"],
		HTTPSchemaVersion:    meta["http_schema_version"],
		Metadata:             meta,
		IsModule:             hasTag(entry.Tags, discovery.ModuleTag),
	}
	return record
}

func decodeCapabilities(tags []string) []string {
	var caps []string
	for _, t := range tags {
		if strings.HasPrefix(t, discovery.CapabilityTagPrefix) {
			caps = append(caps, strings.TrimPrefix(t, discovery.CapabilityTagPrefix))
		}
	}
	return caps
}

func decodeHTTPEndpoints(meta map[string]string) []domain.HTTPEndpoint {
	count, err := strconv.Atoi(meta["http_endpoint_count"])
	if err != nil || count <= 0 {
		return nil
	}

	endpoints := make([]domain.HTTPEndpoint, 0, count)
	for i := 0; i < count; i++ {
		prefix := "http_endpoint_" + strconv.Itoa(i) + "_"
		port, _ := strconv.Atoi(meta[prefix+"port"])
		tlsEnabled, _ := strconv.ParseBool(meta[prefix+"tls_enabled"])
		endpoints = append(endpoints, domain.HTTPEndpoint{
			Scheme:     meta[prefix+"scheme"],
			Host:       meta[prefix+"host"],
			Port:       port,
			BasePath:   meta[prefix+"base_path"],
			HealthPath: meta[prefix+"health_path"],
			TLSEnabled: tlsEnabled,
		})
	}
	return endpoints
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// extractServiceName applies the last-two-dashes rule of spec §4.7's
// get_service_by_id/get_module_by_id: "{name}-{host}-{port}" recovers name by
// dropping its last two dash-delimited segments. Dashes inside name are
// handled, but the heuristic is lossy whenever host itself contains a dash
// (e.g. "node-1"), since part of the host is then read as name;
// Open Question #4 (DESIGN.md) keeps it only for this one lookup path, since
// every other C7 operation reads the name straight from the discovery
// record instead of parsing it out of an id.
func extractServiceName(serviceID string) string {
	lastDash := strings.LastIndex(serviceID, "-")
	if lastDash < 0 {
		return serviceID
	}
	secondLastDash := strings.LastIndex(serviceID[:lastDash], "-")
	if secondLastDash < 0 {
		return serviceID
	}
	return serviceID[:secondLastDash]
}
