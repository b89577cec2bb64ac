package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regbroker/internal/domain"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func (w *recordingWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]kafka.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

func waitForMessage(t *testing.T, w *recordingWriter) kafka.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msgs := w.snapshot(); len(msgs) > 0 {
			return msgs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for published message")
	return kafka.Message{}
}

func TestEventKey_PreservesWellFormedUUID(t *testing.T) {
	id := uuid.New().String()
	assert.Equal(t, id, eventKey(id))
}

func TestEventKey_DerivesNameBasedUUIDForNonUUIDServiceID(t *testing.T) {
	key := eventKey("pdf-extract-10.0.0.5-9000")
	_, err := uuid.Parse(key)
	require.NoError(t, err)
	// deterministic: same input always yields same derived key
	assert.Equal(t, key, eventKey("pdf-extract-10.0.0.5-9000"))
}

func TestEmitServiceRegistered_PublishesToServiceRegisteredTopic(t *testing.T) {
	w := &recordingWriter{}
	pub := NewWithWriters(map[Kind]Writer{ServiceRegistered: w}, time.Second)

	req := domain.RegisterRequest{
		Name:    "ingest-api",
		Version: "1.0.0",
		Connectivity: domain.Connectivity{
			AdvertisedHost: "10.0.0.5", AdvertisedPort: 9000,
		},
	}
	pub.EmitServiceRegistered(context.Background(), req, "ingest-api-10.0.0.5-9000")

	msg := waitForMessage(t, w)
	var payload Payload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "ingest-api", payload.ServiceName)
	assert.Equal(t, "SERVICE", payload.Kind)
	assert.Equal(t, eventKey("ingest-api-10.0.0.5-9000"), string(msg.Key))
}

func TestEmit_SkipsUnknownKindWithoutPanicking(t *testing.T) {
	pub := NewWithWriters(map[Kind]Writer{}, time.Second)
	assert.NotPanics(t, func() {
		pub.EmitModuleUnregistered(context.Background(), "x-y-1", "x", "y", 1)
	})
}
