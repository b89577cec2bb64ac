// Package grpcapi's handler.go wires the wire-level BrokerServer contract to
// C1 (coordinator) and C7 (query), translating domain-level results into
// wire messages and domain-level errors into gRPC status errors per the
// taxonomy of spec §7. No Coordinator or Service method call is ever allowed
// to panic out through this layer uncaught: the recovery interceptor is the
// backstop, but Register additionally recovers locally so a late panic while
// draining the event channel still closes the stream cleanly.
package grpcapi

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"regbroker/internal/apperror"
	"regbroker/internal/coordinator"
	"regbroker/internal/domain"
	"regbroker/internal/logger"
	"regbroker/internal/metrics"
	"regbroker/internal/query"
)

// ShutdownChecker reports whether the server has begun its graceful
// shutdown sequence; Handler consults it before starting new registration
// work (spec §5).
type ShutdownChecker interface {
	ShuttingDown() bool
}

// Handler implements BrokerServer atop the coordinator and query services.
type Handler struct {
	coordinator *coordinator.Coordinator
	query       *query.Service
	shutdown    ShutdownChecker
}

// NewHandler builds the gRPC service implementation. shutdown may be nil in
// tests that don't exercise shutdown behavior.
func NewHandler(c *coordinator.Coordinator, q *query.Service, shutdown ShutdownChecker) *Handler {
	return &Handler{coordinator: c, query: q, shutdown: shutdown}
}

var _ BrokerServer = (*Handler)(nil)

// Register streams one RegisterResponse per RegistrationEvent the
// coordinator emits. It refuses new work once the server is draining, and
// never returns an error mid-stream for a Coordinator-side failure — those
// surface as a FAILED event per spec §7, not a stream-level error.
func (h *Handler) Register(req *RegisterRequest, stream RegisterServer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in Register stream, recovered", "panic", r)
			err = status.Error(codes.Internal, "internal error")
		}
	}()

	if h.shutdown != nil && h.shutdown.ShuttingDown() {
		return status.Error(codes.Unavailable, "server is shutting down, not accepting new registrations")
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	events := h.coordinator.Register(ctx, toDomainRegisterRequest(req))
	for evt := range events {
		recordTerminalOutcome(req.Kind, evt)
		if sendErr := stream.Send(toWireRegisterResponse(evt)); sendErr != nil {
			return sendErr
		}
	}
	return nil
}

// Unregister implements BrokerServer.
func (h *Handler) Unregister(ctx context.Context, req *UnregisterRequest) (*UnregisterResponse, error) {
	resp := h.coordinator.Unregister(ctx, toDomainUnregisterRequest(req))
	return toWireUnregisterResponse(resp), nil
}

// ListServices implements BrokerServer.
func (h *Handler) ListServices(ctx context.Context, _ *ListServicesRequest) (*ListServicesResponse, error) {
	snap, err := h.query.ListServices(ctx)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &ListServicesResponse{Services: toWireInstances(snap.Entries), AsOf: snap.AsOf, TotalCount: snap.TotalCount}, nil
}

// ListModules implements BrokerServer.
func (h *Handler) ListModules(ctx context.Context, _ *ListModulesRequest) (*ListModulesResponse, error) {
	snap, err := h.query.ListModules(ctx)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &ListModulesResponse{Modules: toWireInstances(snap.Entries), AsOf: snap.AsOf, TotalCount: snap.TotalCount}, nil
}

// GetService implements BrokerServer, dispatching on the oneof{service_name,
// service_id} the wire request carries (spec §6).
func (h *Handler) GetService(ctx context.Context, req *GetServiceRequest) (*GetServiceResponse, error) {
	rec, err := h.lookupService(ctx, req.ServiceName, req.ServiceID)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &GetServiceResponse{Service: toWireInstance(rec)}, nil
}

func (h *Handler) lookupService(ctx context.Context, name, id string) (query.InstanceRecord, error) {
	if id != "" {
		return h.query.GetServiceByID(ctx, id)
	}
	if name != "" {
		return h.query.GetServiceByName(ctx, name)
	}
	return query.InstanceRecord{}, errMissingField("service_name or service_id")
}

// GetModule implements BrokerServer.
func (h *Handler) GetModule(ctx context.Context, req *GetModuleRequest) (*GetModuleResponse, error) {
	rec, err := h.lookupModule(ctx, req.ServiceName, req.ServiceID)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &GetModuleResponse{Module: toWireInstance(rec)}, nil
}

func (h *Handler) lookupModule(ctx context.Context, name, id string) (query.InstanceRecord, error) {
	if id != "" {
		return h.query.GetModuleByID(ctx, id)
	}
	if name != "" {
		return h.query.GetModuleByName(ctx, name)
	}
	return query.InstanceRecord{}, errMissingField("service_name or service_id")
}

// ResolveService implements BrokerServer.
func (h *Handler) ResolveService(ctx context.Context, req *ResolveServiceRequest) (*ResolveServiceResponse, error) {
	resp, err := h.query.Resolve(ctx, query.ResolveRequest{
		Name:                 req.Name,
		RequiredTags:         req.RequiredTags,
		RequiredCapabilities: req.RequiredCapabilities,
		PreferLocal:          req.PreferLocal,
	})
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return toWireResolveResponse(resp), nil
}

// WatchServices implements BrokerServer: an immediate WatchSnapshot, then one
// every 2s, until the client disconnects (spec §4.7, §6).
func (h *Handler) WatchServices(_ *WatchServicesRequest, stream WatchServicesServer) error {
	return watchLoop(stream.Context(), h.query.WatchServices(stream.Context()), stream.Send)
}

// WatchModules implements BrokerServer.
func (h *Handler) WatchModules(_ *WatchModulesRequest, stream WatchModulesServer) error {
	return watchLoop(stream.Context(), h.query.WatchModules(stream.Context()), stream.Send)
}

func watchLoop(ctx context.Context, snapshots <-chan query.ListSnapshot, send func(*WatchSnapshot) error) error {
	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if err := send(&WatchSnapshot{Entries: toWireInstances(snap.Entries), AsOf: snap.AsOf, TotalCount: snap.TotalCount}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// GetModuleSchema implements BrokerServer: the four-tier cascade of spec
// §4.7. Tier 2/3 partial-success outcomes (Kind 6/7 of spec §7) are not
// errors here — they're already folded into the ModuleSchemaResult by the
// query package.
func (h *Handler) GetModuleSchema(ctx context.Context, req *GetModuleSchemaRequest) (*GetModuleSchemaResponse, error) {
	result, err := h.query.GetModuleSchema(ctx, req.ModuleName, req.Version)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return toWireSchemaResponse(result), nil
}

// GetModuleSchemaVersions implements BrokerServer.
func (h *Handler) GetModuleSchemaVersions(ctx context.Context, req *GetModuleSchemaVersionsRequest) (*GetModuleSchemaVersionsResponse, error) {
	versions, err := h.query.GetModuleSchemaVersions(ctx, req.ModuleName)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &GetModuleSchemaVersionsResponse{Versions: versions}, nil
}

// recordTerminalOutcome records the registrations_total metric once the
// coordinator reaches a terminal event; kept in the wire layer rather than
// internal/coordinator because it is observability bookkeeping, not
// pipeline logic.
func recordTerminalOutcome(kind string, evt domain.RegistrationEvent) {
	switch evt.EventType {
	case domain.EventCompleted:
		metrics.Get().RecordRegistration(kind, "success")
	case domain.EventFailed:
		metrics.Get().RecordRegistration(kind, "failed")
	}
}
