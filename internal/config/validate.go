package config

import (
	"fmt"
	"slices"
	"strings"
)

// FatalConfigError reports a configuration problem that prevents the engine from starting.
type FatalConfigError struct {
	Field  string
	Reason string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func fatal(field, format string, args ...any) error {
	return &FatalConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and normalizes symbol and exchange names.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fatal("symbols", "no symbols configured")
	}
	seen := make(map[string]struct{}, len(c.Symbols))
	for i := range c.Symbols {
		s := &c.Symbols[i]
		s.Name = strings.ToUpper(strings.TrimSpace(s.Name))
		if s.Name == "" {
			return fatal(fmt.Sprintf("symbols[%d].name", i), "empty symbol")
		}
		if _, dup := seen[s.Name]; dup {
			return fatal(fmt.Sprintf("symbols[%d].name", i), "duplicate symbol %s", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.OrderSize <= 0 {
			return fatal(fmt.Sprintf("symbols[%d].order_size", i), "symbol %s has no positive order size", s.Name)
		}
	}

	for name := range c.Exchanges {
		if !slices.Contains(SupportedExchanges, name) {
			return fatal("exchanges."+name, "unknown exchange %q, supported: %s", name, strings.Join(SupportedExchanges, ", "))
		}
	}
	if len(c.EnabledExchanges()) == 0 {
		return fatal("exchanges", "no enabled exchanges")
	}
	for name, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		if ex.TakerFeePercent < 0 || ex.TakerFeePercent >= 100 {
			return fatal("exchanges."+name+".taker_fee_percent", "must be in [0, 100), got %v", ex.TakerFeePercent)
		}
		for j := range ex.SymbolFees {
			sf := &ex.SymbolFees[j]
			sf.Symbol = strings.ToUpper(strings.TrimSpace(sf.Symbol))
			if _, ok := seen[sf.Symbol]; !ok {
				return fatal(fmt.Sprintf("exchanges.%s.symbol_fees[%d]", name, j), "unknown symbol %q", sf.Symbol)
			}
			if sf.TakerFeePercent < 0 || sf.TakerFeePercent >= 100 {
				return fatal(fmt.Sprintf("exchanges.%s.symbol_fees[%d]", name, j), "must be in [0, 100), got %v", sf.TakerFeePercent)
			}
		}
		if ex.ReadTimeout < 0 {
			return fatal("exchanges."+name+".read_timeout", "must not be negative")
		}
	}

	a := c.Arbitrage
	if a.EvaluationInterval <= 0 {
		return fatal("arbitrage.evaluation_interval", "must be positive")
	}
	switch a.Trigger {
	case TriggerInterval, TriggerEvent:
	default:
		return fatal("arbitrage.trigger", "unknown trigger %q", a.Trigger)
	}
	if a.Trigger == TriggerEvent && a.CoalesceWindow <= 0 {
		return fatal("arbitrage.coalesce_window", "must be positive for event trigger")
	}
	if a.RecentWindow <= 0 {
		return fatal("arbitrage.recent_window", "must be positive")
	}
	if a.PersistEvery <= 0 {
		return fatal("arbitrage.persist_every", "must be positive")
	}

	f := c.Feed
	if f.InitialBackoff <= 0 || f.MaxBackoff < f.InitialBackoff {
		return fatal("feed", "backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if f.MaxRetries < 0 {
		return fatal("feed.max_retries", "must not be negative")
	}

	if d := c.Dashboard; d.Enabled && (d.HistorySpan <= 0 || d.HistoryInterval <= 0) {
		return fatal("dashboard", "history_span and history_interval must be positive")
	}
	return nil
}
