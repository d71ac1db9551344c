package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ProviderHealth is a snapshot of one upstream: the prediction API, the IP
// geolocation service or the reverse geocoder.
type ProviderHealth struct {
	Name                string
	Circuit             CircuitState
	Requests            uint32
	ConsecutiveFailures uint32
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	LastError           string
}

// Available reports whether calls are currently let through.
func (h ProviderHealth) Available() bool {
	return h.Circuit != CircuitOpen
}

// Registry tracks the outcome of the last call to each upstream.
type Registry struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	providers map[string]*providerEntry
}

type providerEntry struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(clockwork.NewRealClock())
}

// NewRegistryWithClock is NewRegistry with an injectable clock for tests.
func NewRegistryWithClock(clock clockwork.Clock) *Registry {
	return &Registry{clock: clock, providers: make(map[string]*providerEntry)}
}

// Register adds client under name. Registering a name again replaces the
// client and forgets its history.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	r.providers[name] = &providerEntry{client: client}
	r.mu.Unlock()
}

func (r *Registry) RecordSuccess(name string) {
	r.record(name, func(p *providerEntry, now time.Time) {
		p.lastSuccessAt = &now
	})
}

func (r *Registry) RecordFailure(name string, err error) {
	r.record(name, func(p *providerEntry, now time.Time) {
		p.lastFailureAt = &now
		if err != nil {
			p.lastError = err.Error()
		}
	})
}

// record is a no-op for unregistered names.
func (r *Registry) record(name string, fn func(*providerEntry, time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		fn(p, r.clock.Now())
	}
}

// Health returns the snapshot for one provider.
func (r *Registry) Health(name string) (ProviderHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return p.snapshot(name), true
}

// Snapshot returns every registered provider sorted by name.
func (r *Registry) Snapshot() []ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderHealth, 0, len(r.providers))
	for name, p := range r.providers {
		out = append(out, p.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *providerEntry) snapshot(name string) ProviderHealth {
	state, counts := p.client.Circuit()
	return ProviderHealth{
		Name:                name,
		Circuit:             state,
		Requests:            counts.Requests,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		LastSuccessAt:       p.lastSuccessAt,
		LastFailureAt:       p.lastFailureAt,
		LastError:           p.lastError,
	}
}
