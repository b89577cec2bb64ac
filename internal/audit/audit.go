// Package audit records the outcome of every Register/Unregister attempt
// the broker processes, independent of the structured application log, so
// that who-registered-what-when can be queried without grepping logs.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Action identifies the kind of registration-lifecycle event being audited.
type Action string

const (
	ActionRegisterService   Action = "REGISTER_SERVICE"
	ActionRegisterModule    Action = "REGISTER_MODULE"
	ActionUnregisterService Action = "UNREGISTER_SERVICE"
	ActionUnregisterModule  Action = "UNREGISTER_MODULE"
)

// Outcome records whether the action completed, rolled back, or was denied
// before it started (e.g. by the rate limiter).
type Outcome string

const (
	OutcomeSuccess    Outcome = "SUCCESS"
	OutcomeRolledBack Outcome = "ROLLED_BACK"
	OutcomeDenied     Outcome = "DENIED"
)

// Entry is one audit record. RollbackStage is only set when Outcome is
// OutcomeRolledBack, naming the pipeline stage whose failure triggered the
// compensating unwind (spec §4.4).
type Entry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Action        Action         `json:"action"`
	Outcome       Outcome        `json:"outcome"`
	ServiceID     string         `json:"service_id,omitempty"`
	ServiceName   string         `json:"service_name,omitempty"`
	ClientIP      string         `json:"client_ip,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	RollbackStage string         `json:"rollback_stage,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Logger is the interface every audit backend implements.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Close() error
}

// Builder provides a fluent API for constructing an Entry.
type Builder struct {
	entry *Entry
}

// NewEntry starts a Builder, stamping the current time and an empty
// metadata map.
func NewEntry(action Action) *Builder {
	return &Builder{
		entry: &Entry{
			ID:        generateID(),
			Timestamp: time.Now(),
			Action:    action,
			Metadata:  make(map[string]any),
		},
	}
}

func (b *Builder) Outcome(o Outcome) *Builder {
	b.entry.Outcome = o
	return b
}

func (b *Builder) Service(id, name string) *Builder {
	b.entry.ServiceID = id
	b.entry.ServiceName = name
	return b
}

func (b *Builder) Client(ip string) *Builder {
	b.entry.ClientIP = ip
	return b
}

func (b *Builder) RequestID(id string) *Builder {
	b.entry.RequestID = id
	return b
}

func (b *Builder) Duration(d time.Duration) *Builder {
	b.entry.DurationMs = d.Milliseconds()
	return b
}

func (b *Builder) RollbackStage(stage string) *Builder {
	b.entry.RollbackStage = stage
	return b
}

func (b *Builder) Error(code, message string) *Builder {
	b.entry.ErrorCode = code
	b.entry.ErrorMessage = message
	return b
}

func (b *Builder) Meta(key string, value any) *Builder {
	b.entry.Metadata[key] = value
	return b
}

func (b *Builder) Build() *Entry {
	return b.entry
}

// MarshalJSON keeps Entry's default field-for-field encoding explicit so a
// future field addition doesn't silently change shape.
func (e *Entry) MarshalJSON() ([]byte, error) {
	type Alias Entry
	return json.Marshal((*Alias)(e))
}

func generateID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return time.Now().Format("20060102150405") + "-" + hex.EncodeToString(buf)
}
