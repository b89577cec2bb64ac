package callback

import (
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"regbroker/internal/logger"
)

// ErrCacheClosed is returned by GetOrDial once the cache has entered
// teardown (spec §4.4: "in that state, get-channel returns an unavailable
// error").
var ErrCacheClosed = &cacheClosedError{}

type cacheClosedError struct{}

func (*cacheClosedError) Error() string { return "channel cache is shutting down" }

// Dialer opens a fresh gRPC channel to the named logical service. Channels
// are cached per logical service name, not per endpoint, so the discovery
// layer can rotate the underlying address without invalidating the cache
// entry (spec §9 "Channel lifetime").
type Dialer func(serviceName string) (*grpc.ClientConn, error)

type channelEntry struct {
	conn       *grpc.ClientConn
	accessedAt time.Time
}

// ChannelCache is the LRU+idle-TTL cache C4 maintains over module gRPC
// channels. Its shape mirrors the teacher's MemoryCache (cacheItem,
// background cleanupLoop, evictLRU, atomic closed flag) generalized from
// byte-slice values to live *grpc.ClientConn handles that must be closed,
// not merely dropped, on eviction.
type ChannelCache struct {
	mu       sync.RWMutex
	items    map[string]*channelEntry
	dial     Dialer
	idleTTL  time.Duration
	capacity int

	gracefulCloseTimeout time.Duration

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	hits   atomic.Int64
	misses atomic.Int64
	evicts atomic.Int64
}

// NewChannelCache builds a cache with a background idle-eviction loop already
// running.
func NewChannelCache(dial Dialer, idleTTL time.Duration, capacity int, gracefulCloseTimeout time.Duration) *ChannelCache {
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	if capacity <= 0 {
		capacity = 1000
	}
	if gracefulCloseTimeout <= 0 {
		gracefulCloseTimeout = 500 * time.Millisecond
	}

	c := &ChannelCache{
		items:                make(map[string]*channelEntry),
		dial:                 dial,
		idleTTL:              idleTTL,
		capacity:             capacity,
		gracefulCloseTimeout: gracefulCloseTimeout,
		stopCh:               make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanupLoop(idleTTL / 2)

	return c
}

// GetOrDial returns the cached channel for serviceName, dialing and caching
// a new one if absent or evicted.
func (c *ChannelCache) GetOrDial(serviceName string) (*grpc.ClientConn, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	c.mu.RLock()
	entry, ok := c.items[serviceName]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		c.mu.Lock()
		entry.accessedAt = time.Now()
		c.mu.Unlock()
		return entry.conn, nil
	}

	c.misses.Add(1)
	conn, err := c.dial(serviceName)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrCacheClosed
	}
	for len(c.items) >= c.capacity {
		c.evictLRULocked()
	}
	c.items[serviceName] = &channelEntry{conn: conn, accessedAt: time.Now()}
	c.mu.Unlock()

	return conn, nil
}

// Invalidate evicts and closes a single entry, used when C7/C4 learn a
// channel's endpoint has gone stale.
func (c *ChannelCache) Invalidate(serviceName string) {
	c.mu.Lock()
	entry, ok := c.items[serviceName]
	if ok {
		delete(c.items, serviceName)
	}
	c.mu.Unlock()

	if ok {
		c.closeGracefully(serviceName, entry.conn)
	}
}

// Shutdown sets the shutting-down flag and drains the cache synchronously
// within the configured overall budget, matching spec §5's teardown
// sequencing. Once Shutdown returns, GetOrDial always fails.
func (c *ChannelCache) Shutdown(overallBudget time.Duration) {
	if c.closed.Swap(true) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	items := c.items
	c.items = make(map[string]*channelEntry)
	c.mu.Unlock()

	if len(items) == 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for name, entry := range items {
			wg.Add(1)
			go func(name string, conn *grpc.ClientConn) {
				defer wg.Done()
				c.closeGracefully(name, conn)
			}(name, entry.conn)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(overallBudget):
		logger.Warn("channel cache teardown budget exceeded, remaining channels force-closed by GC")
	}
}

// closeGracefully closes a channel on a separate goroutine and waits at most
// gracefulCloseTimeout for that close to return. If it has not returned by
// then, a warning is logged and the wait ends; no second close is attempted.
func (c *ChannelCache) closeGracefully(serviceName string, conn *grpc.ClientConn) {
	done := make(chan struct{})
	go func() {
		_ = conn.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.gracefulCloseTimeout):
		logger.Warn("channel did not close within budget, no longer waiting", "service_name", serviceName)
	}
}

func (c *ChannelCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

func (c *ChannelCache) evictIdle() {
	now := time.Now()
	stale := make(map[string]*grpc.ClientConn)

	c.mu.Lock()
	for name, entry := range c.items {
		if now.Sub(entry.accessedAt) > c.idleTTL {
			stale[name] = entry.conn
			delete(c.items, name)
		}
	}
	c.mu.Unlock()

	for name, conn := range stale {
		c.evicts.Add(1)
		c.closeGracefully(name, conn)
	}
}

// evictLRULocked drops the least-recently-used entry. Callers must hold c.mu.
func (c *ChannelCache) evictLRULocked() {
	var oldestKey string
	var oldestAccess time.Time
	for key, entry := range c.items {
		if oldestKey == "" || entry.accessedAt.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = entry.accessedAt
		}
	}
	if oldestKey != "" {
		entry := c.items[oldestKey]
		delete(c.items, oldestKey)
		c.evicts.Add(1)
		go c.closeGracefully(oldestKey, entry.conn)
	}
}

// Stats exposes cache occupancy for the observability gauges SPEC_FULL.md
// §10.5/§12 adds on top of the teacher's hit/miss convention.
type Stats struct {
	Size    int
	Hits    int64
	Misses  int64
	Evicts  int64
}

// Stats returns a snapshot of the cache's current occupancy and counters.
func (c *ChannelCache) Stats() Stats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	return Stats{
		Size:   size,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Evicts: c.evicts.Load(),
	}
}
