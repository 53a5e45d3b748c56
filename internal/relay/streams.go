package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StreamManager caps concurrent relayed streams per agent and drains them on
// shutdown.
type StreamManager struct {
	mu       sync.Mutex
	counts   map[string]*atomic.Int64
	draining atomic.Bool
}

// NewStreamManager creates an empty stream manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{counts: make(map[string]*atomic.Int64)}
}

func (sm *StreamManager) counter(agent string) *atomic.Int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	c, ok := sm.counts[agent]
	if !ok {
		c = new(atomic.Int64)
		sm.counts[agent] = c
	}
	return c
}

// Acquire takes a stream slot for agent. It returns false when maxStreams
// slots are in use or the manager is draining.
func (sm *StreamManager) Acquire(agent string, maxStreams int) bool {
	if sm.draining.Load() {
		return false
	}
	c := sm.counter(agent)
	for {
		cur := c.Load()
		if cur >= int64(maxStreams) {
			return false
		}
		if c.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a slot taken by Acquire.
func (sm *StreamManager) Release(agent string) {
	sm.counter(agent).Add(-1)
}

// Active returns the number of streams open for agent.
func (sm *StreamManager) Active(agent string) int {
	return int(sm.counter(agent).Load())
}

// Total returns the number of open streams across all agents.
func (sm *StreamManager) Total() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var total int64
	for _, c := range sm.counts {
		total += c.Load()
	}
	return int(total)
}

// Draining reports whether DrainAll was called.
func (sm *StreamManager) Draining() bool {
	return sm.draining.Load()
}

// DrainAll refuses new streams and waits until open ones finish or ctx ends.
func (sm *StreamManager) DrainAll(ctx context.Context) error {
	sm.draining.Store(true)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if sm.Total() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
