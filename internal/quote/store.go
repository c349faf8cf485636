// Package quote holds the latest top-of-book quote per (symbol, exchange).
package quote

import (
	"sync"
	"time"

	"arbscope/internal/model"
)

// Store is the concurrency-safe quote table shared by all exchange feeds.
// Quotes are stored by value, so a reader never observes a partially applied update.
type Store struct {
	mu     sync.RWMutex
	quotes map[string]map[string]model.Quote

	subMu sync.Mutex
	subs  []chan struct{}
}

// NewStore creates an empty quote store.
func NewStore() *Store {
	return &Store{quotes: make(map[string]map[string]model.Quote)}
}

// Update overwrites the quote for (symbol, exchange).
func (s *Store) Update(symbol, exchange string, bid, ask model.Price, observedAt time.Time) {
	q := model.Quote{
		Symbol:     symbol,
		Exchange:   exchange,
		Bid:        bid,
		Ask:        ask,
		ObservedAt: observedAt,
	}

	s.mu.Lock()
	byExchange, ok := s.quotes[symbol]
	if !ok {
		byExchange = make(map[string]model.Quote)
		s.quotes[symbol] = byExchange
	}
	byExchange[exchange] = q
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a point-in-time copy of the quotes for symbol, keyed by exchange.
// Exchanges that never quoted the symbol are absent.
func (s *Store) Snapshot(symbol string) map[string]model.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byExchange := s.quotes[symbol]
	out := make(map[string]model.Quote, len(byExchange))
	for ex, q := range byExchange {
		out[ex] = q
	}
	return out
}

// Subscribe returns a channel that receives a signal after updates.
// Signals coalesce: a burst of updates yields at least one pending signal.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
