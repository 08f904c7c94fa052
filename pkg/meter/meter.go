// Package meter fetches interval consumption readings from metering data
// providers. Providers return raw ReadingPayloads; all unit conversion and
// aggregation happens downstream in pkg/aggregate.
package meter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
)

// ErrNoData is returned when the provider has no readings at all for the
// requested range. This is an expected condition near the contract
// activation boundary and must not be surfaced as a failure.
var ErrNoData = errors.New("no data for requested range")

// Provider defines the interface for fetching readings from a metering data
// provider. Ranges are inclusive civil-date bounds.
type Provider interface {
	// Info returns display information about the provider.
	Info() types.MeterProviderInfo

	// GetLoadCurve returns the sub-daily interval readings for the range.
	GetLoadCurve(ctx context.Context, usagePointID string, creds types.Credentials, start, end time.Time) (types.ReadingPayload, error)

	// GetDailyConsumption returns one total per civil day for the range.
	GetDailyConsumption(ctx context.Context, usagePointID string, creds types.Credentials, start, end time.Time) (types.ReadingPayload, error)
}

// Configured sets up the metering providers and returns a Map.
func Configured() *Map {
	m := NewMap()
	m.SetProvider("enedis", configuredEnedis())
	m.SetProvider("mock", newMock())
	return m
}

// Map manages metering providers by ID.
type Map struct {
	mu        sync.Mutex
	providers map[string]Provider
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{
		providers: make(map[string]Provider),
	}
}

// Provider returns the provider with the given ID.
func (m *Map) Provider(id string) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, fmt.Errorf("unknown metering provider: %s", id)
	}
	return p, nil
}

// SetProvider registers a provider under an ID. This is also the test seam
// for injecting mocks.
func (m *Map) SetProvider(id string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[id] = p
}

// List returns the registered providers ordered by ID.
func (m *Map) List() []types.MeterProviderInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MeterProviderInfo, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
