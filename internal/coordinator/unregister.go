package coordinator

import (
	"context"
	"time"

	"regbroker/internal/domain"
)

// Unregister computes the target's service id, deregisters it from the
// discovery store, and fires the matching *Unregistered event on success
// (spec §4.1). It never consults or mutates the metadata store — that is
// source behavior, preserved deliberately.
func (c *Coordinator) Unregister(ctx context.Context, req domain.UnregisterRequest) domain.UnregisterResponse {
	serviceID := domain.ServiceID(req.Name, req.Host, req.Port)

	// The discovery store's own module-marker tag is the only signal
	// available here to tell a module apart from a service, since the
	// metadata store is off limits for this call (DiscoveryRegistrar's
	// FindTags capability, DESIGN.md).
	tags, found := c.discovery.FindTags(ctx, req.Name, serviceID)
	isModule := found && hasModuleTag(tags)

	if !c.discovery.Deregister(ctx, serviceID) {
		return domain.UnregisterResponse{
			Success:   false,
			Message:   "deregistration failed",
			Timestamp: time.Now(),
		}
	}

	if isModule {
		c.events.EmitModuleUnregistered(ctx, serviceID, req.Name, req.Host, req.Port)
	} else {
		c.events.EmitServiceUnregistered(ctx, serviceID, req.Name, req.Host, req.Port)
	}

	return domain.UnregisterResponse{
		Success:   true,
		Message:   "deregistered",
		Timestamp: time.Now(),
	}
}

func hasModuleTag(tags []string) bool {
	for _, t := range tags {
		if t == moduleTag {
			return true
		}
	}
	return false
}

// moduleTag mirrors discovery.ModuleTag without importing the discovery
// package, keeping the coordinator's dependency surface to capability
// interfaces (spec §9).
const moduleTag = "module"
