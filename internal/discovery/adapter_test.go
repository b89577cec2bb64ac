package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"regbroker/internal/domain"
)

func TestEncodeMeta_FlatHTTPEndpoints(t *testing.T) {
	req := domain.RegisterRequest{
		Name:    "ocr",
		Kind:    domain.RegistrantModule,
		Version: "1.0.0",
		Connectivity: domain.Connectivity{
			AdvertisedHost: "10.0.0.1",
			AdvertisedPort: 7000,
		},
		Metadata: map[string]string{"region.zone": "us-east-1a"},
		HTTPEndpoints: []domain.HTTPEndpoint{
			{Scheme: "http", Host: "10.0.0.1", Port: 8080, HealthPath: "/healthz"},
			{Scheme: "https", Host: "10.0.0.1", Port: 8443, BasePath: "/api", TLSEnabled: true},
		},
	}

	meta := encodeMeta(req)

	assert.Equal(t, "us-east-1a", meta["region_zone"], "dots in caller metadata keys must be sanitized to underscores")
	assert.Equal(t, "10.0.0.1", meta["advertised-host"])
	assert.Equal(t, "7000", meta["advertised-port"])
	assert.Equal(t, "MODULE", meta["service-type"])
	assert.Equal(t, "2", meta["http_endpoint_count"])
	assert.Equal(t, "/healthz", meta["http_endpoint_0_health_path"])
	assert.Equal(t, "true", meta["http_endpoint_1_tls_enabled"])
	assert.NotContains(t, meta, "http_endpoint_0_base_path", "blank base_path must be omitted")
}

func TestBuildTags_ModuleMarkerAndCapabilities(t *testing.T) {
	req := domain.RegisterRequest{
		Kind:         domain.RegistrantModule,
		Tags:         []string{"team:platform"},
		Capabilities: []string{"ocr", "french"},
	}

	tags := buildTags(req)

	assert.Contains(t, tags, "team:platform")
	assert.Contains(t, tags, "capability:ocr")
	assert.Contains(t, tags, "capability:french")
	assert.Contains(t, tags, ModuleTag)
}

func TestBuildTags_ServiceHasNoModuleMarker(t *testing.T) {
	req := domain.RegisterRequest{Kind: domain.RegistrantService}
	tags := buildTags(req)
	assert.NotContains(t, tags, ModuleTag)
}
