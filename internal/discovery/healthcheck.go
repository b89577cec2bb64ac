package discovery

import (
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"regbroker/internal/domain"
)

const (
	checkInterval        = 10 * time.Second
	checkDeregisterAfter = time.Minute
)

// buildHealthCheck decides between an HTTP check and a gRPC check.
//
// Open question (spec §9): the distilled source contains both an
// always-gRPC variant and an HTTP-when-endpoints-exist variant of this
// decision. This implementation adopts the HTTP-first rule — when the
// request carries at least one HTTP endpoint, probe it over HTTP; otherwise
// fall back to a gRPC health check against the internal endpoint. Confirm
// against production topology before relying on this for a new deployment.
func buildHealthCheck(req domain.RegisterRequest) *consulapi.AgentServiceCheck {
	if len(req.HTTPEndpoints) > 0 {
		ep := req.HTTPEndpoints[0]
		url := fmt.Sprintf("%s://%s:%d%s", ep.Scheme, ep.Host, ep.Port, ep.HealthPath)
		return &consulapi.AgentServiceCheck{
			HTTP:                           url,
			Interval:                       checkInterval.String(),
			DeregisterCriticalServiceAfter: checkDeregisterAfter.String(),
		}
	}

	grpcTarget := fmt.Sprintf("%s:%d", req.Connectivity.ProbeHost(), req.Connectivity.ProbePort())
	return &consulapi.AgentServiceCheck{
		GRPC:                           grpcTarget,
		GRPCUseTLS:                     req.Connectivity.TLSEnabled,
		Interval:                       checkInterval.String(),
		DeregisterCriticalServiceAfter: checkDeregisterAfter.String(),
	}
}
