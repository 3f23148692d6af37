// Package prices holds the process-wide bid/ask snapshot per asset.
// Single writer per key (the tick-ingestion path); PnL computation, position
// sizing and the reporting pass only read. Last writer wins.
package prices

import (
	"sync"

	"candlebot/internal/model"
)

// Board is a mutex-guarded symbol → quote map.
type Board struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
}

// NewBoard creates an empty price board.
func NewBoard() *Board {
	return &Board{quotes: make(map[string]model.Quote)}
}

// Update stores the latest quote for a symbol.
func (b *Board) Update(symbol string, q model.Quote) {
	b.mu.Lock()
	b.quotes[symbol] = q
	b.mu.Unlock()
}

// Get returns the latest quote for a symbol.
func (b *Board) Get(symbol string) (model.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	return q, ok
}

// Snapshot returns a copy of the whole board.
func (b *Board) Snapshot() map[string]model.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]model.Quote, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = v
	}
	return out
}
