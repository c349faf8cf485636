package dashboard

import (
	"context"
	"sync"
	"time"

	"arbscope/internal/model"
)

// QuotePoint is one observed bid/ask pair in a quote series.
type QuotePoint struct {
	At  time.Time
	Bid model.Price
	Ask model.Price
}

// History keeps a rolling window of quotes per (symbol, exchange), sampled from the quote
// store. A point is added only when the observed time changes, so a stalled feed stops
// growing its series and ages out of the window.
type History struct {
	quotes  QuoteReader
	symbols []string
	span    time.Duration
	every   time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	series map[string]map[string][]QuotePoint
}

func NewHistory(quotes QuoteReader, symbols []string, span, every time.Duration) *History {
	return &History{
		quotes:  quotes,
		symbols: append([]string(nil), symbols...),
		span:    span,
		every:   every,
		now:     time.Now,
		series:  make(map[string]map[string][]QuotePoint, len(symbols)),
	}
}

// Sample reads the current quotes once and drops points older than the span.
func (h *History) Sample() {
	cutoff := h.now().Add(-h.span)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sym := range h.symbols {
		byExchange := h.series[sym]
		if byExchange == nil {
			byExchange = make(map[string][]QuotePoint)
			h.series[sym] = byExchange
		}
		for ex, q := range h.quotes.Snapshot(sym) {
			points := byExchange[ex]
			if n := len(points); n == 0 || !points[n-1].At.Equal(q.ObservedAt) {
				points = append(points, QuotePoint{At: q.ObservedAt, Bid: q.Bid, Ask: q.Ask})
			}
			byExchange[ex] = trim(points, cutoff)
		}
		for ex, points := range byExchange {
			if points = trim(points, cutoff); len(points) == 0 {
				delete(byExchange, ex)
			} else {
				byExchange[ex] = points
			}
		}
	}
}

func trim(points []QuotePoint, cutoff time.Time) []QuotePoint {
	i := 0
	for i < len(points) && points[i].At.Before(cutoff) {
		i++
	}
	if i == 0 {
		return points
	}
	return append(points[:0], points[i:]...)
}

// Series returns a copy of the window for symbol keyed by exchange, oldest first.
func (h *History) Series(symbol string) map[string][]QuotePoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]QuotePoint, len(h.series[symbol]))
	for ex, points := range h.series[symbol] {
		out[ex] = append([]QuotePoint(nil), points...)
	}
	return out
}

// Run samples every interval until ctx is cancelled.
func (h *History) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()
	for {
		h.Sample()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
