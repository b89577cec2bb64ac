package query

import (
	"context"
	"fmt"
	"time"

	"regbroker/internal/apperror"
	"regbroker/internal/logger"
)

// ListServices traverses the catalog and returns every healthy
// non-module instance (spec §4.7 Listing).
func (s *Service) ListServices(ctx context.Context) (ListSnapshot, error) {
	return s.list(ctx, false)
}

// ListModules traverses the catalog and returns every healthy
// module-tagged instance.
func (s *Service) ListModules(ctx context.Context) (ListSnapshot, error) {
	return s.list(ctx, true)
}

func (s *Service) list(ctx context.Context, modulesOnly bool) (ListSnapshot, error) {
	catalog, err := s.discovery.ListCatalog(ctx)
	if err != nil {
		return ListSnapshot{}, err
	}

	var entries []InstanceRecord
	for _, svc := range catalog {
		instances, err := s.discovery.ListHealthyInstances(ctx, svc.Name)
		if err != nil {
			logger.Warn("list: skipping service after health query failure", "name", svc.Name, "error", err)
			continue
		}
		for _, inst := range instances {
			if !inst.Healthy {
				continue
			}
			record := decodeInstance(inst)
			if record.IsModule != modulesOnly {
				continue
			}
			entries = append(entries, record)
		}
	}

	return ListSnapshot{Entries: entries, AsOf: time.Now(), TotalCount: len(entries)}, nil
}

// GetServiceByName returns the first healthy instance registered under name.
func (s *Service) GetServiceByName(ctx context.Context, name string) (InstanceRecord, error) {
	return s.firstHealthy(ctx, name, false)
}

// GetModuleByName returns the first healthy module instance registered
// under name.
func (s *Service) GetModuleByName(ctx context.Context, name string) (InstanceRecord, error) {
	return s.firstHealthy(ctx, name, true)
}

func (s *Service) firstHealthy(ctx context.Context, name string, requireModule bool) (InstanceRecord, error) {
	instances, err := s.discovery.ListHealthyInstances(ctx, name)
	if err != nil {
		return InstanceRecord{}, err
	}
	for _, inst := range instances {
		if !inst.Healthy {
			continue
		}
		record := decodeInstance(inst)
		if requireModule && !record.IsModule {
			continue
		}
		return record, nil
	}
	return InstanceRecord{}, apperror.New(apperror.CodeNotFound, fmt.Sprintf("no healthy instance registered under name %q", name)).
		WithDetails("name", name)
}

// GetServiceByID extracts the service name from serviceID via the
// last-two-dashes rule and filters its healthy instances by id.
func (s *Service) GetServiceByID(ctx context.Context, serviceID string) (InstanceRecord, error) {
	return s.byID(ctx, serviceID, false)
}

// GetModuleByID is GetServiceByID additionally gated on the module tag.
func (s *Service) GetModuleByID(ctx context.Context, serviceID string) (InstanceRecord, error) {
	return s.byID(ctx, serviceID, true)
}

func (s *Service) byID(ctx context.Context, serviceID string, requireModule bool) (InstanceRecord, error) {
	name := extractServiceName(serviceID)
	instances, err := s.discovery.ListHealthyInstances(ctx, name)
	if err != nil {
		return InstanceRecord{}, err
	}
	for _, inst := range instances {
		if inst.ServiceID != serviceID {
			continue
		}
		record := decodeInstance(inst)
		if requireModule && !record.IsModule {
			break
		}
		return record, nil
	}
	return InstanceRecord{}, apperror.New(apperror.CodeNotFound, fmt.Sprintf("no instance found for service id %q", serviceID)).
		WithDetails("service_id", serviceID)
}

// Resolve filters name's healthy instances by required tags/capabilities
// and picks one per the prefer_local rule (spec §4.7 Resolution).
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (ResolveResponse, error) {
	instances, err := s.discovery.ListHealthyInstances(ctx, req.Name)
	if err != nil {
		return ResolveResponse{}, err
	}

	total := len(instances)
	healthy := 0
	var candidates []InstanceRecord
	for _, inst := range instances {
		if !inst.Healthy {
			continue
		}
		healthy++
		record := decodeInstance(inst)
		if !containsAll(record.Tags, req.RequiredTags) {
			continue
		}
		if !containsAll(record.Capabilities, req.RequiredCapabilities) {
			continue
		}
		candidates = append(candidates, record)
	}

	if len(candidates) == 0 {
		return ResolveResponse{Found: false, TotalInstances: total, HealthyInstances: healthy, ResolvedAt: time.Now()}, nil
	}

	selected := candidates[0]
	reason := "first matching instance (no guaranteed load-balancing strategy)"
	if req.PreferLocal {
		for _, c := range candidates {
			if c.Host == "localhost" || c.Host == "127.0.0.1" {
				selected = c
				reason = "preferred local instance"
				break
			}
		}
	}

	return ResolveResponse{
		Found:                true,
		Host:                 selected.Host,
		Port:                 selected.Port,
		ServiceID:            selected.ServiceID,
		Version:              selected.Version,
		Tags:                 selected.Tags,
		Capabilities:         selected.Capabilities,
		HTTPEndpoints:        selected.HTTPEndpoints,
		HTTPSchemaArtifactID: selected.HTTPSchemaArtifactID,
		HTTPSchemaVersion:    selected.HTTPSchemaVersion,
		Metadata:             selected.Metadata,
		TotalInstances:       total,
		HealthyInstances:     healthy,
		SelectionReason:      reason,
		ResolvedAt:           time.Now(),
	}, nil
}

// containsAll reports whether have contains every element of want (trivially
// true for an empty want).
func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

const watchInterval = 2 * time.Second

// WatchServices returns a lazy, cancellable sequence of service snapshots:
// an immediate first element, then one per watchInterval until ctx is
// canceled (spec §4.7 Watch).
func (s *Service) WatchServices(ctx context.Context) <-chan ListSnapshot {
	return s.watch(ctx, s.ListServices)
}

// WatchModules is WatchServices for the module partition.
func (s *Service) WatchModules(ctx context.Context) <-chan ListSnapshot {
	return s.watch(ctx, s.ListModules)
}

func (s *Service) watch(ctx context.Context, list func(context.Context) (ListSnapshot, error)) <-chan ListSnapshot {
	out := make(chan ListSnapshot)

	emit := func() {
		snapshot, err := list(ctx)
		if err != nil {
			logger.Warn("watch: inner list failed, emitting empty snapshot", "error", err)
			snapshot = ListSnapshot{AsOf: time.Now()}
		}
		select {
		case out <- snapshot:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)
		emit()

		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()

	return out
}
