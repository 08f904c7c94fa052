package aggregate

import (
	"context"
	"sort"
	"sync"

	"github.com/loadcurve/loadcurve/pkg/types"
)

// Cache is the engine's only input surface. Get returns nil (not an error)
// for a range that was never fetched; errors are reserved for real failures.
// Snapshot enumerates every payload cached for a usage point, ordered by
// range start, so the fold sees an explicit set rather than ambient state.
type Cache interface {
	Get(ctx context.Context, key types.PayloadKey) (*types.ReadingPayload, error)
	Set(ctx context.Context, payload types.ReadingPayload) error
	Snapshot(ctx context.Context, usagePointID string) ([]types.ReadingPayload, error)
}

// MemoryCache is a mutex-guarded in-memory Cache. The fetch loop writes and
// the engine reads, possibly from different goroutines.
type MemoryCache struct {
	mu       sync.RWMutex
	payloads map[string]map[types.PayloadKey]types.ReadingPayload
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		payloads: make(map[string]map[types.PayloadKey]types.ReadingPayload),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key types.PayloadKey) (*types.ReadingPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.payloads[key.UsagePointID][key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, payload types.ReadingPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.payloads[payload.UsagePointID]
	if !ok {
		m = make(map[types.PayloadKey]types.ReadingPayload)
		c.payloads[payload.UsagePointID] = m
	}
	m[payload.Key()] = payload
	return nil
}

// Snapshot implements Cache.
func (c *MemoryCache) Snapshot(_ context.Context, usagePointID string) ([]types.ReadingPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.payloads[usagePointID]
	out := make([]types.ReadingPayload, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RangeStart.Equal(out[j].RangeStart) {
			return out[i].RangeStart.Before(out[j].RangeStart)
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}
