package fee

import (
	"errors"
	"fmt"

	"arbscope/internal/config"
)

// ErrNotFound is returned when an exchange/symbol pair has no known fee schedule.
var ErrNotFound = errors.New("fee schedule not found")

// Provider looks up taker fee rates as fractions in [0, 1).
type Provider interface {
	FeeRate(exchange, symbol string) (float64, error)
}

type key struct {
	exchange string
	symbol   string
}

// Schedule is a static fee table built from configuration.
type Schedule struct {
	exchange map[string]float64
	symbol   map[key]float64
}

// NewSchedule builds a fee schedule from the enabled exchanges' taker fee percentages.
func NewSchedule(exchanges map[string]config.ExchangeConfig) *Schedule {
	s := &Schedule{
		exchange: make(map[string]float64),
		symbol:   make(map[key]float64),
	}
	for name, ex := range exchanges {
		if !ex.Enabled {
			continue
		}
		s.exchange[name] = ex.TakerFeePercent / 100
		for _, sf := range ex.SymbolFees {
			s.symbol[key{name, sf.Symbol}] = sf.TakerFeePercent / 100
		}
	}
	return s
}

// FeeRate returns the symbol override if present, else the exchange-wide rate.
func (s *Schedule) FeeRate(exchange, symbol string) (float64, error) {
	if r, ok := s.symbol[key{exchange, symbol}]; ok {
		return r, nil
	}
	if r, ok := s.exchange[exchange]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("%s %s: %w", exchange, symbol, ErrNotFound)
}
