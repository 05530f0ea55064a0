// Package registry maps model names to the providers that serve them and
// picks one according to a selection strategy.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/featherdev/feather/internal/llm"
)

// Strategy selects among multiple providers serving the same model.
type Strategy string

const (
	// StrategyFirst picks the earliest registered match.
	StrategyFirst Strategy = "first"
	// StrategyRoundRobin rotates across matches per model.
	StrategyRoundRobin Strategy = "roundrobin"
	// StrategyCheapest picks the lowest combined per-1K token price,
	// breaking ties by registration order.
	StrategyCheapest Strategy = "cheapest"
)

// Match pairs a provider entry with the model spec that matched.
type Match struct {
	Entry llm.ProviderEntry
	Model llm.ModelSpec
}

// Registry holds registered providers. Registration order is significant:
// it is the tiebreaker for "first" and "cheapest" and the rotation base for
// round-robin.
type Registry struct {
	mu      sync.RWMutex
	entries []llm.ProviderEntry
	cursors map[string]*atomic.Uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{cursors: make(map[string]*atomic.Uint64)}
}

// Add registers a provider. Re-registering the same key replaces the entry
// in place, keeping its original position.
func (r *Registry) Add(entry llm.ProviderEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].Key == entry.Key {
			r.entries[i] = entry
			return
		}
	}
	r.entries = append(r.entries, entry)
}

// Providers returns the registered entries in order.
func (r *Registry) Providers() []llm.ProviderEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ProviderEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Matches lists every provider serving model, in registration order. An
// empty model matches everything: one entry per declared model of every
// provider.
func (r *Registry) Matches(model string) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Match
	for _, e := range r.entries {
		if model == "" {
			for _, spec := range e.Models {
				out = append(out, Match{Entry: e, Model: spec})
			}
			continue
		}
		if spec, ok := e.FindModel(model); ok {
			out = append(out, Match{Entry: e, Model: spec})
		}
	}
	return out
}

// Lookup resolves a pinned provider key and model directly, with no
// strategy involved.
func (r *Registry) Lookup(providerKey, model string) (Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Key != providerKey {
			continue
		}
		if spec, ok := e.FindModel(model); ok {
			return Match{Entry: e, Model: spec}, nil
		}
		break
	}
	return Match{}, &llm.NoProviderError{Provider: providerKey, Model: model}
}

// Choose picks a provider for model using the given strategy. Unknown
// strategies fall back to "first".
func (r *Registry) Choose(model string, strategy Strategy) (Match, error) {
	matches := r.Matches(model)
	if len(matches) == 0 {
		return Match{}, &llm.NoProviderError{Model: model}
	}

	switch strategy {
	case StrategyRoundRobin:
		n := r.cursor(model).Add(1) - 1
		return matches[int(n%uint64(len(matches)))], nil
	case StrategyCheapest:
		best := 0
		for i := 1; i < len(matches); i++ {
			if price(matches[i].Model) < price(matches[best].Model) {
				best = i
			}
		}
		return matches[best], nil
	default:
		return matches[0], nil
	}
}

func (r *Registry) cursor(model string) *atomic.Uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[model]
	if !ok {
		c = &atomic.Uint64{}
		r.cursors[model] = c
	}
	return c
}

func price(m llm.ModelSpec) float64 {
	return m.InputPer1K + m.OutputPer1K
}
