package strategy

import (
	"fmt"
	"sync"

	"candlebot/internal/model"
)

// Registry holds the live strategy set. Reads snapshot the matching
// strategies before dispatching so additions and removals never race a
// fan-out in progress.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Add registers a strategy under its name. Duplicate names are rejected so
// two instances can never trade the same slot.
func (r *Registry) Add(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.Name()]; ok {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

// Remove deregisters a strategy by name. Its open positions keep being
// marked only if the caller retains them elsewhere; removal stops new
// signals, not the lifecycle.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[name]; !ok {
		return false
	}
	delete(r.strategies, name)
	return true
}

// Get looks a strategy up by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// All returns a snapshot of every registered strategy.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

// ForSymbol returns the strategies watching the given symbol.
func (r *Registry) ForSymbol(symbol string) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Strategy
	for _, s := range r.strategies {
		if s.Asset().Symbol == symbol {
			out = append(out, s)
		}
	}
	return out
}

// For returns the strategies watching the given symbol and timeframe.
func (r *Registry) For(symbol string, tf model.Timeframe) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Strategy
	for _, s := range r.strategies {
		if s.Asset().Symbol == symbol && s.Timeframe() == tf {
			out = append(out, s)
		}
	}
	return out
}

// Len reports the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}
