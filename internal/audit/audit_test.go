package audit

import (
	"context"
	"testing"
	"time"

	"regbroker/internal/config"
)

func TestNewEntry_BuilderSetsAllFields(t *testing.T) {
	entry := NewEntry(ActionRegisterService).
		Outcome(OutcomeSuccess).
		Service("svc-123", "orders-api").
		Client("127.0.0.1").
		RequestID("req-789").
		Duration(100 * time.Millisecond).
		Meta("region", "us-east-1").
		Build()

	if entry.Action != ActionRegisterService {
		t.Errorf("expected action REGISTER_SERVICE, got %s", entry.Action)
	}
	if entry.Outcome != OutcomeSuccess {
		t.Errorf("expected outcome SUCCESS, got %s", entry.Outcome)
	}
	if entry.ServiceID != "svc-123" || entry.ServiceName != "orders-api" {
		t.Errorf("expected service svc-123/orders-api, got %s/%s", entry.ServiceID, entry.ServiceName)
	}
	if entry.ClientIP != "127.0.0.1" {
		t.Errorf("expected client IP 127.0.0.1, got %s", entry.ClientIP)
	}
	if entry.RequestID != "req-789" {
		t.Errorf("expected request ID req-789, got %s", entry.RequestID)
	}
	if entry.DurationMs != 100 {
		t.Errorf("expected duration 100ms, got %d", entry.DurationMs)
	}
	if entry.Metadata["region"] != "us-east-1" {
		t.Errorf("expected metadata region=us-east-1, got %v", entry.Metadata["region"])
	}
	if entry.ID == "" {
		t.Error("expected a non-empty generated ID")
	}
}

func TestNewEntry_RollbackCarriesFailedStage(t *testing.T) {
	entry := NewEntry(ActionRegisterModule).
		Outcome(OutcomeRolledBack).
		RollbackStage("schema_archive_publish").
		Error("ARCHIVE_REJECTED", "artifact conflict").
		Build()

	if entry.Outcome != OutcomeRolledBack {
		t.Errorf("expected outcome ROLLED_BACK, got %s", entry.Outcome)
	}
	if entry.RollbackStage != "schema_archive_publish" {
		t.Errorf("expected rollback stage schema_archive_publish, got %s", entry.RollbackStage)
	}
	if entry.ErrorCode != "ARCHIVE_REJECTED" {
		t.Errorf("expected error code ARCHIVE_REJECTED, got %s", entry.ErrorCode)
	}
}

func TestNoopLogger_NeverErrors(t *testing.T) {
	l := &NoopLogger{}
	if err := l.Log(context.Background(), NewEntry(ActionRegisterService).Build()); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestNew_DisabledConfigReturnsNoop(t *testing.T) {
	l, err := New(config.AuditConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*NoopLogger); !ok {
		t.Errorf("expected NoopLogger, got %T", l)
	}
}

func TestNew_UnknownBackendFallsBackToStdout(t *testing.T) {
	l, err := New(config.AuditConfig{Enabled: true, Backend: "mongo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*StdoutLogger); !ok {
		t.Errorf("expected StdoutLogger fallback, got %T", l)
	}
}

func TestStdoutLogger_DisabledIsNoop(t *testing.T) {
	l := NewStdoutLogger(config.AuditConfig{Enabled: false})
	if err := l.Log(context.Background(), NewEntry(ActionUnregisterService).Build()); err != nil {
		t.Errorf("expected nil error when disabled, got %v", err)
	}
}

func TestGlobalLogger_DefaultsToNoop(t *testing.T) {
	if _, ok := Get().(*NoopLogger); !ok {
		t.Errorf("expected default global logger to be NoopLogger, got %T", Get())
	}

	fake := &NoopLogger{}
	SetGlobal(fake)
	defer SetGlobal(&NoopLogger{})

	if Get() != Logger(fake) {
		t.Error("expected Get() to return the logger set via SetGlobal")
	}
}
