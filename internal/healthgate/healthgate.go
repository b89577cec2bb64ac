// Package healthgate implements C3: polling the discovery store until a
// freshly registered instance reports healthy, or a deadline fires.
package healthgate

import (
	"context"
	"time"

	"regbroker/internal/config"
	"regbroker/internal/logger"
)

const pollInterval = time.Second

// InstanceLister is the subset of the discovery adapter the gate needs; a
// capability interface (spec §9) so tests can fake C2 without a live store.
type InstanceLister interface {
	ListHealthyInstances(ctx context.Context, name string) ([]Instance, error)
}

// Instance is the minimal projection the gate needs from a discovery entry.
type Instance struct {
	ServiceID string
	Healthy   bool
}

// Gate waits for a single service id to become healthy.
type Gate struct {
	lister         InstanceLister
	defaultTimeout time.Duration
}

// New builds a Gate from the health-gate configuration section.
func New(lister InstanceLister, cfg config.HealthGateConfig) *Gate {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gate{lister: lister, defaultTimeout: timeout}
}

// WaitForHealthy polls list_healthy_instances(serviceName) on a 1s cadence
// until serviceID appears with a passing aggregated check status, or the
// gate's deadline elapses. Cancellation of ctx aborts the wait and returns
// false — it is never surfaced as an error, matching spec §4.3.
//
// A transient discovery-store error during a tick is indistinguishable from
// "not yet healthy" within the deadline: the gate logs it and keeps polling,
// it does not retry within the same tick and does not fail early.
func (g *Gate) WaitForHealthy(ctx context.Context, serviceName, serviceID string) bool {
	deadline := time.Now().Add(g.defaultTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	check := func() (bool, bool) {
		instances, err := g.lister.ListHealthyInstances(ctx, serviceName)
		if err != nil {
			logger.Warn("health gate poll failed, treating as not-yet-healthy", "service_id", serviceID, "error", err)
			return false, false
		}
		for _, inst := range instances {
			if inst.ServiceID == serviceID && inst.Healthy {
				return true, false
			}
		}
		return false, false
	}

	if ok, _ := check(); ok {
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if time.Now().After(deadline) {
				return false
			}
			if ok, _ := check(); ok {
				return true
			}
		}
	}
}
