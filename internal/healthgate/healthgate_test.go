package healthgate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"regbroker/internal/config"
)

type fakeLister struct {
	calls      int32
	healthyAt  int32 // becomes healthy once calls >= healthyAt
	serviceID  string
	alwaysFail bool
}

func (f *fakeLister) ListHealthyInstances(_ context.Context, _ string) ([]Instance, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.alwaysFail {
		return nil, assert.AnError
	}
	if n >= f.healthyAt {
		return []Instance{{ServiceID: f.serviceID, Healthy: true}}, nil
	}
	return nil, nil
}

func TestWaitForHealthy_ImmediateSuccess(t *testing.T) {
	lister := &fakeLister{healthyAt: 1, serviceID: "svc-1"}
	gate := New(lister, config.HealthGateConfig{DefaultTimeout: time.Second})

	ok := gate.WaitForHealthy(context.Background(), "svc", "svc-1")
	assert.True(t, ok)
}

func TestWaitForHealthy_TimesOut(t *testing.T) {
	lister := &fakeLister{healthyAt: 1000, serviceID: "svc-1"}
	gate := New(lister, config.HealthGateConfig{DefaultTimeout: 50 * time.Millisecond})

	ok := gate.WaitForHealthy(context.Background(), "svc", "svc-1")
	assert.False(t, ok)
}

func TestWaitForHealthy_ContextCancellationAborts(t *testing.T) {
	lister := &fakeLister{healthyAt: 1000, serviceID: "svc-1"}
	gate := New(lister, config.HealthGateConfig{DefaultTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	ok := gate.WaitForHealthy(ctx, "svc", "svc-1")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForHealthy_TransientStoreErrorDoesNotAbort(t *testing.T) {
	lister := &fakeLister{alwaysFail: true}
	gate := New(lister, config.HealthGateConfig{DefaultTimeout: 60 * time.Millisecond})

	ok := gate.WaitForHealthy(context.Background(), "svc", "svc-1")
	assert.False(t, ok)
}
