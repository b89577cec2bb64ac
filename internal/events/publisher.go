// Package events implements the Event Publisher collaborator: fire-and-forget
// lifecycle notifications the Registration Coordinator emits onto the event
// bus for downstream indexing (spec §2, §4.1, §9).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"regbroker/internal/config"
	"regbroker/internal/domain"
	"regbroker/internal/logger"
	"regbroker/internal/telemetry"
)

// registrantNamespace seeds the name-based UUID derivation for service ids
// that are not themselves well-formed UUIDs (spec §9 event-key rule).
var registrantNamespace = uuid.MustParse("6f6d6272-6f6b-4572-a62d-6576656e7473")

// Kind distinguishes which of the four topics an event belongs on.
type Kind int

const (
	ServiceRegistered Kind = iota
	ServiceUnregistered
	ModuleRegistered
	ModuleUnregistered
)

// Payload is the JSON-encoded event body. Real deployments of this broker's
// lineage serialize through a schema-registry-aware proto encoding; this
// implementation uses the broker's own JSON wire convention (internal/codec)
// since no generated proto stubs exist to encode against (see
// internal/codec's doc comment for the full rationale).
type Payload struct {
	ServiceID   string            `json:"service_id"`
	ServiceName string            `json:"service_name"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Version     string            `json:"version"`
	Kind        string            `json:"kind"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Writer is the subset of kafka.Writer behavior the Publisher needs, so
// tests can substitute a recording fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher fires lifecycle events at the four topics, one per
// {Service,Module}x{Registered,Unregistered}.
type Publisher struct {
	writers map[Kind]Writer
	timeout time.Duration
}

// New builds a Publisher with one kafka.Writer per topic.
func New(cfg config.EventBusConfig) *Publisher {
	timeout := time.Duration(cfg.PublishTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	build := func(topic string) Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Async:        true,
		}
	}

	return &Publisher{
		timeout: timeout,
		writers: map[Kind]Writer{
			ServiceRegistered:   build(cfg.TopicServiceReg),
			ServiceUnregistered: build(cfg.TopicServiceUnreg),
			ModuleRegistered:    build(cfg.TopicModuleReg),
			ModuleUnregistered:  build(cfg.TopicModuleUnreg),
		},
	}
}

// NewWithWriters builds a Publisher over caller-supplied writers, used by
// tests to inject a recording fake per kind.
func NewWithWriters(writers map[Kind]Writer, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{writers: writers, timeout: timeout}
}

// eventKey derives the stable per-instance partition key (spec §9): the
// service id verbatim if it is already a well-formed UUID, else a name-based
// (v5) UUID derived from its UTF-8 bytes.
func eventKey(serviceID string) string {
	if parsed, err := uuid.Parse(serviceID); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(registrantNamespace, []byte(serviceID)).String()
}

func (p *Publisher) emit(ctx context.Context, kind Kind, payload Payload) {
	writer, ok := p.writers[kind]
	if !ok {
		return
	}

	// Fire-and-forget (spec §4.1, §5): publishing happens on its own
	// detached context so a slow or unreachable broker never blocks the
	// Register/Unregister RPC it was derived from.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		bgCtx, span := telemetry.StartSpan(bgCtx, "events.emit",
			telemetry.WithAttributes())
		defer span.End()

		body, err := json.Marshal(payload)
		if err != nil {
			telemetry.SetError(bgCtx, err)
			logger.Error("failed to encode lifecycle event", "service_id", payload.ServiceID, "error", err)
			return
		}

		msg := kafka.Message{
			Key:   []byte(eventKey(payload.ServiceID)),
			Value: body,
			Time:  payload.OccurredAt,
		}
		if err := writer.WriteMessages(bgCtx, msg); err != nil {
			telemetry.SetError(bgCtx, err)
			logger.Warn("failed to publish lifecycle event", "service_id", payload.ServiceID, "kind", int(kind), "error", err)
		}
	}()
}

func payloadFrom(req domain.RegisterRequest, serviceID, kindLabel string) Payload {
	return Payload{
		ServiceID:   serviceID,
		ServiceName: req.Name,
		Host:        req.Connectivity.AdvertisedHost,
		Port:        req.Connectivity.AdvertisedPort,
		Version:     req.Version,
		Kind:        kindLabel,
		Metadata:    req.Metadata,
		OccurredAt:  time.Now(),
	}
}

// EmitServiceRegistered fires ServiceRegistered for a completed service
// registration (spec §4.1 step 4).
func (p *Publisher) EmitServiceRegistered(ctx context.Context, req domain.RegisterRequest, serviceID string) {
	p.emit(ctx, ServiceRegistered, payloadFrom(req, serviceID, "SERVICE"))
}

// EmitModuleRegistered fires ModuleRegistered for a completed module
// registration (spec §4.1 step 7).
func (p *Publisher) EmitModuleRegistered(ctx context.Context, req domain.RegisterRequest, serviceID string) {
	p.emit(ctx, ModuleRegistered, payloadFrom(req, serviceID, "MODULE"))
}

// EmitServiceUnregistered fires ServiceUnregistered.
func (p *Publisher) EmitServiceUnregistered(ctx context.Context, serviceID, name, host string, port int) {
	p.emit(ctx, ServiceUnregistered, Payload{
		ServiceID: serviceID, ServiceName: name, Host: host, Port: port, Kind: "SERVICE", OccurredAt: time.Now(),
	})
}

// EmitModuleUnregistered fires ModuleUnregistered.
func (p *Publisher) EmitModuleUnregistered(ctx context.Context, serviceID, name, host string, port int) {
	p.emit(ctx, ModuleUnregistered, Payload{
		ServiceID: serviceID, ServiceName: name, Host: host, Port: port, Kind: "MODULE", OccurredAt: time.Now(),
	})
}

// Close closes every underlying writer.
func (p *Publisher) Close() error {
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
