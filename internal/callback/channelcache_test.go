package callback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

func dialStub(t *testing.T) (Dialer, *int32) {
	var calls int32
	return func(serviceName string) (*grpc.ClientConn, error) {
		calls++
		return grpc.NewClient("passthrough:///" + serviceName)
	}, &calls
}

func TestChannelCache_ReusesEntryPerServiceName(t *testing.T) {
	dial, calls := dialStub(t)
	cache := NewChannelCache(dial, time.Minute, 10, 100*time.Millisecond)
	defer cache.Shutdown(time.Second)

	conn1, err := cache.GetOrDial("ocr")
	require.NoError(t, err)
	conn2, err := cache.GetOrDial("ocr")
	require.NoError(t, err)

	assert.Same(t, conn1, conn2)
	assert.Equal(t, int32(1), *calls, "second GetOrDial for the same name must not redial")
}

func TestChannelCache_ShutdownRejectsFurtherDials(t *testing.T) {
	dial, _ := dialStub(t)
	cache := NewChannelCache(dial, time.Minute, 10, 100*time.Millisecond)

	_, err := cache.GetOrDial("ocr")
	require.NoError(t, err)

	cache.Shutdown(time.Second)

	_, err = cache.GetOrDial("pdf-extract")
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestChannelCache_CapacityTriggersEviction(t *testing.T) {
	dial, _ := dialStub(t)
	cache := NewChannelCache(dial, time.Minute, 2, 100*time.Millisecond)
	defer cache.Shutdown(time.Second)

	_, err := cache.GetOrDial("a")
	require.NoError(t, err)
	_, err = cache.GetOrDial("b")
	require.NoError(t, err)
	_, err = cache.GetOrDial("c")
	require.NoError(t, err)

	assert.LessOrEqual(t, cache.Stats().Size, 2)
}

func TestChannelCache_IdleEvictionClosesConnection(t *testing.T) {
	dial, _ := dialStub(t)
	cache := NewChannelCache(dial, time.Minute, 10, 100*time.Millisecond)
	defer cache.Shutdown(time.Second)

	conn, err := cache.GetOrDial("ocr")
	require.NoError(t, err)

	cache.mu.Lock()
	cache.items["ocr"].accessedAt = time.Now().Add(-time.Hour)
	cache.mu.Unlock()

	cache.evictIdle()

	assert.Equal(t, 0, cache.Stats().Size)
	assert.Equal(t, int64(1), cache.Stats().Evicts)
	assert.Equal(t, connectivity.Shutdown, conn.GetState(), "idle-evicted connection must be closed, not just dropped from the map")
}
