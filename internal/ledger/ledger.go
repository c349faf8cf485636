// Package ledger keeps the profit history per symbol and the cumulative wallet series.
//
// Ticks are driven by a single evaluation loop. Samples appended between two closes belong
// to the same tick. A tick closes as soon as every configured symbol has a sample, or when
// CloseTick is called at the end of an evaluation pass. Closing adds the sum of the positive
// net profits of that tick to the previous wallet value. Closed wallet samples are never
// revisited.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbscope/internal/model"
)

// ErrUnknownSymbol is returned when a sample references a symbol the ledger does not track.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Ledger is written by the evaluation task and read concurrently by presentation and export.
type Ledger struct {
	mu      sync.RWMutex
	symbols []string
	profits map[string][]model.ProfitSample
	wallet  []model.WalletSample
	open    map[string]model.ProfitSample
}

// New creates a ledger for symbols.
func New(symbols []string) *Ledger {
	l := &Ledger{
		symbols: append([]string(nil), symbols...),
		profits: make(map[string][]model.ProfitSample, len(symbols)),
		open:    make(map[string]model.ProfitSample, len(symbols)),
	}
	for _, s := range symbols {
		l.profits[s] = nil
	}
	return l
}

// Symbols returns the tracked symbols in configuration order.
func (l *Ledger) Symbols() []string {
	return append([]string(nil), l.symbols...)
}

// Append records sample and, if it completes the current tick, closes it.
// The returned bool reports whether a wallet sample was produced.
func (l *Ledger) Append(sample model.ProfitSample) (model.WalletSample, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.profits[sample.Symbol]; !ok {
		return model.WalletSample{}, false, fmt.Errorf("%w: %s", ErrUnknownSymbol, sample.Symbol)
	}
	l.profits[sample.Symbol] = append(l.profits[sample.Symbol], sample)
	l.open[sample.Symbol] = sample

	if len(l.open) < len(l.symbols) {
		return model.WalletSample{}, false, nil
	}
	ts := sample.Timestamp
	for _, s := range l.open {
		if s.Timestamp.After(ts) {
			ts = s.Timestamp
		}
	}
	w, ok := l.closeLocked(ts)
	return w, ok, nil
}

// CloseTick closes the current tick with whatever samples it has. Symbols without a sample
// contribute nothing. A tick without samples produces no wallet sample.
func (l *Ledger) CloseTick(ts time.Time) (model.WalletSample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(ts)
}

func (l *Ledger) closeLocked(ts time.Time) (model.WalletSample, bool) {
	if len(l.open) == 0 {
		return model.WalletSample{}, false
	}

	value := 0.0
	if n := len(l.wallet); n > 0 {
		value = l.wallet[n-1].Value
	}
	for _, s := range l.open {
		if s.NetProfit > 0 {
			value += s.NetProfit
		}
	}

	w := model.WalletSample{Timestamp: ts, Value: value}
	l.wallet = append(l.wallet, w)
	l.open = make(map[string]model.ProfitSample, len(l.symbols))
	return w, true
}

// RecentWindow returns at most the last n samples for symbol, oldest first.
func (l *Ledger) RecentWindow(symbol string, n int) []model.ProfitSample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.profits[symbol], n)
}

// RecentWallet returns at most the last n wallet samples, oldest first.
func (l *Ledger) RecentWallet(n int) []model.WalletSample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.wallet, n)
}

// Latest returns the newest sample for symbol.
func (l *Ledger) Latest(symbol string) (model.ProfitSample, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.profits[symbol]
	if len(s) == 0 {
		return model.ProfitSample{}, false
	}
	return s[len(s)-1], true
}

// WalletValue returns the current cumulative value, 0 before the first tick closes.
func (l *Ledger) WalletValue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.wallet) == 0 {
		return 0
	}
	return l.wallet[len(l.wallet)-1].Value
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || len(s) == 0 {
		return []T{}
	}
	if n > len(s) {
		n = len(s)
	}
	out := make([]T, n)
	copy(out, s[len(s)-n:])
	return out
}

// Dump returns every profit and wallet sample as flat rows. Profit rows are grouped by
// symbol in configuration order, each group in insertion order.
func (l *Ledger) Dump() model.Export {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var exp model.Export
	for _, sym := range l.symbols {
		for _, p := range l.profits[sym] {
			exp.Profits = append(exp.Profits, model.ProfitRow{Symbol: p.Symbol, Timestamp: p.Timestamp, Profit: p.NetProfit})
		}
	}
	for _, w := range l.wallet {
		exp.Wallet = append(exp.Wallet, model.WalletRow{Timestamp: w.Timestamp, Value: w.Value})
	}
	return exp
}

// Restore replaces the ledger history with the rows of exp. Rows for untracked symbols are
// rejected. Profit rows are ordered by timestamp within each symbol.
func (l *Ledger) Restore(exp model.Export) error {
	profits := make(map[string][]model.ProfitSample, len(l.symbols))
	for _, s := range l.symbols {
		profits[s] = nil
	}
	for _, r := range exp.Profits {
		if _, ok := profits[r.Symbol]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSymbol, r.Symbol)
		}
		profits[r.Symbol] = append(profits[r.Symbol], model.ProfitSample{
			Symbol:    r.Symbol,
			Timestamp: r.Timestamp,
			NetProfit: r.Profit,
		})
	}
	for _, s := range profits {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
	}

	wallet := make([]model.WalletSample, 0, len(exp.Wallet))
	for _, r := range exp.Wallet {
		wallet = append(wallet, model.WalletSample{Timestamp: r.Timestamp, Value: r.Value})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.profits = profits
	l.wallet = wallet
	l.open = make(map[string]model.ProfitSample, len(l.symbols))
	return nil
}
