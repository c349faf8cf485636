package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"arbscope/internal/config"
	"arbscope/internal/database"
	"arbscope/internal/fee"
	"arbscope/internal/metrics"
	"arbscope/internal/model"
)

var (
	// ErrInsufficientQuotes means no two distinct exchanges offer an ask and a bid for the symbol.
	ErrInsufficientQuotes = errors.New("insufficient quotes")
	// ErrNoEligiblePair means every candidate pair was excluded by a missing fee schedule.
	ErrNoEligiblePair = errors.New("no eligible pair")
)

const flushTimeout = 5 * time.Second

// QuoteSource provides point-in-time quote snapshots.
type QuoteSource interface {
	Snapshot(symbol string) map[string]model.Quote
}

// Ledger records samples and closes ticks.
type Ledger interface {
	Append(sample model.ProfitSample) (model.WalletSample, bool, error)
	CloseTick(ts time.Time) (model.WalletSample, bool)
	Dump() model.Export
}

// Publisher is notified after every evaluation pass.
type Publisher interface {
	PublishTick(ctx context.Context, report model.TickReport) error
}

// ArbitrageEngine holds the logic for identifying arbitrage opportunities across exchanges.
type ArbitrageEngine struct {
	logger  *slog.Logger
	cfg     config.ArbitrageConfig
	symbols []config.SymbolConfig
	quotes  QuoteSource
	fees    fee.Provider
	ledger  Ledger
	metrics *metrics.Metrics

	repo      database.Repository
	exporter  database.SnapshotExporter
	publisher Publisher
	updates   <-chan struct{}

	now   func() time.Time
	ticks int
}

// NewArbitrageEngine creates a new instance of the ArbitrageEngine.
func NewArbitrageEngine(logger *slog.Logger, cfg *config.Config, quotes QuoteSource, fees fee.Provider, ledger Ledger, m *metrics.Metrics) *ArbitrageEngine {
	return &ArbitrageEngine{
		logger:  logger,
		cfg:     cfg.Arbitrage,
		symbols: cfg.Symbols,
		quotes:  quotes,
		fees:    fees,
		ledger:  ledger,
		metrics: m,
		now:     time.Now,
	}
}

// WithRepository logs every profitable sample to repo.
func (e *ArbitrageEngine) WithRepository(repo database.Repository) *ArbitrageEngine {
	e.repo = repo
	return e
}

// WithExporter sends a full ledger dump to exporter every persist_every ticks and on shutdown.
func (e *ArbitrageEngine) WithExporter(exporter database.SnapshotExporter) *ArbitrageEngine {
	e.exporter = exporter
	return e
}

// WithPublisher publishes every tick report.
func (e *ArbitrageEngine) WithPublisher(p Publisher) *ArbitrageEngine {
	e.publisher = p
	return e
}

// WithUpdates sets the quote update signal used by the event trigger.
func (e *ArbitrageEngine) WithUpdates(updates <-chan struct{}) *ArbitrageEngine {
	e.updates = updates
	return e
}

// Evaluate returns the best directed pair for symbol from the current quotes.
func (e *ArbitrageEngine) Evaluate(symbol string) (model.ArbitragePair, error) {
	return e.bestPair(symbol, e.quotes.Snapshot(symbol))
}

// bestPair enumerates every (buy, sell) pair of distinct exchanges with an ask on the buy side
// and a bid on the sell side, and keeps the largest spread. Negative spreads are valid results.
// Exchanges are visited in lexicographic order and only a strictly larger spread replaces the
// current best, so ties resolve to the smallest (buy, sell) names. Pairs with an exchange that
// has no fee schedule are skipped.
func (e *ArbitrageEngine) bestPair(symbol string, quotes map[string]model.Quote) (model.ArbitragePair, error) {
	exchanges := make([]string, 0, len(quotes))
	for ex := range quotes {
		exchanges = append(exchanges, ex)
	}
	sort.Strings(exchanges)

	type rate struct {
		value float64
		err   error
	}
	rates := make(map[string]rate, len(exchanges))
	feeRate := func(ex string) (float64, error) {
		r, ok := rates[ex]
		if !ok {
			r.value, r.err = e.fees.FeeRate(ex, symbol)
			rates[ex] = r
			if r.err != nil {
				e.logger.Debug("excluding exchange without fee schedule", "symbol", symbol, "exchange", ex, "error", r.err)
			}
		}
		return r.value, r.err
	}

	var best model.ArbitragePair
	found := false
	candidates := 0
	for _, buy := range exchanges {
		bq := quotes[buy]
		if !bq.Ask.Valid {
			continue
		}
		for _, sell := range exchanges {
			if sell == buy {
				continue
			}
			sq := quotes[sell]
			if !sq.Bid.Valid {
				continue
			}
			candidates++

			buyRate, err := feeRate(buy)
			if err != nil {
				continue
			}
			sellRate, err := feeRate(sell)
			if err != nil {
				continue
			}

			spread := sq.Bid.Value - bq.Ask.Value
			if math.IsNaN(spread) || math.IsInf(spread, 0) {
				continue
			}
			if found && spread <= best.Spread {
				continue
			}
			best = model.ArbitragePair{
				BuyExchange:  buy,
				BuyPrice:     bq.Ask.Value,
				BuyFeeRate:   buyRate,
				SellExchange: sell,
				SellPrice:    sq.Bid.Value,
				SellFeeRate:  sellRate,
				Spread:       spread,
			}
			found = true
		}
	}

	switch {
	case candidates == 0:
		return model.ArbitragePair{}, ErrInsufficientQuotes
	case !found:
		return model.ArbitragePair{}, ErrNoEligiblePair
	}
	return best, nil
}

// Profit applies taker fees on both legs to pair at orderSize.
func Profit(symbol string, pair model.ArbitragePair, orderSize float64, at time.Time) model.ProfitSample {
	buyFee := orderSize * pair.BuyPrice * pair.BuyFeeRate
	sellFee := orderSize * pair.SellPrice * pair.SellFeeRate
	return model.ProfitSample{
		Symbol:       symbol,
		Timestamp:    at,
		BuyExchange:  pair.BuyExchange,
		SellExchange: pair.SellExchange,
		BuyPrice:     pair.BuyPrice,
		SellPrice:    pair.SellPrice,
		OrderSize:    orderSize,
		GrossSpread:  pair.Spread,
		BuyFee:       buyFee,
		SellFee:      sellFee,
		NetProfit:    pair.Spread*orderSize - buyFee - sellFee,
	}
}

// Tick runs one evaluation pass over every configured symbol and closes the ledger tick.
func (e *ArbitrageEngine) Tick(ctx context.Context) model.TickReport {
	at := e.now()
	report := model.TickReport{Seq: e.ticks, At: at}

	for _, s := range e.symbols {
		quotes := e.quotes.Snapshot(s.Name)
		for _, q := range quotes {
			report.Quotes = append(report.Quotes, q)
		}

		pair, err := e.bestPair(s.Name, quotes)
		switch {
		case errors.Is(err, ErrInsufficientQuotes):
			e.metrics.Evaluations.WithLabelValues(s.Name, metrics.ResultInsufficient).Inc()
			e.logger.Debug("no sample this tick", "symbol", s.Name, "reason", err, "exchanges", len(quotes))
			continue
		case errors.Is(err, ErrNoEligiblePair):
			e.metrics.Evaluations.WithLabelValues(s.Name, metrics.ResultNoPair).Inc()
			e.logger.Warn("no sample this tick", "symbol", s.Name, "reason", err)
			continue
		}

		sample := Profit(s.Name, pair, s.OrderSize, at)
		w, closed, err := e.ledger.Append(sample)
		if err != nil {
			e.logger.Error("Failed to record sample", "symbol", s.Name, "error", err)
			continue
		}
		if closed {
			report.Wallet = &w
		}
		report.Samples = append(report.Samples, sample)
		e.metrics.Evaluations.WithLabelValues(s.Name, metrics.ResultSample).Inc()
		e.metrics.NetProfit.WithLabelValues(s.Name).Set(sample.NetProfit)

		if sample.NetProfit > 0 {
			e.logger.Info("Profitable arbitrage opportunity found",
				"symbol", s.Name,
				"buyExchange", pair.BuyExchange,
				"sellExchange", pair.SellExchange,
				"buyPrice", pair.BuyPrice,
				"sellPrice", pair.SellPrice,
				"netProfit", sample.NetProfit,
			)
			if e.repo != nil {
				if err := e.repo.LogOpportunity(ctx, sample); err != nil {
					e.logger.Error("Failed to log opportunity", "error", err)
				}
			}
		}
	}

	if w, ok := e.ledger.CloseTick(at); ok {
		report.Wallet = &w
	}
	if report.Wallet != nil {
		e.metrics.WalletValue.Set(report.Wallet.Value)
	}

	if e.publisher != nil {
		if err := e.publisher.PublishTick(ctx, report); err != nil {
			e.logger.Warn("Failed to publish tick", "error", err)
		}
	}

	if e.ticks%e.cfg.PersistEvery == 0 {
		e.persist(ctx)
	}
	e.ticks++
	return report
}

func (e *ArbitrageEngine) persist(ctx context.Context) {
	if e.exporter == nil {
		return
	}
	snapshot := e.ledger.Dump()
	if err := e.exporter.SaveSnapshot(ctx, snapshot); err != nil {
		e.metrics.Snapshots.WithLabelValues("error").Inc()
		e.logger.Error("Failed to save snapshot", "error", err)
		return
	}
	e.metrics.Snapshots.WithLabelValues("ok").Inc()
	e.logger.Info("Snapshot saved", "profits", len(snapshot.Profits), "wallet", len(snapshot.Wallet))
}

// Run evaluates on every interval tick until ctx is cancelled, then flushes a final snapshot.
// With the event trigger, quote updates also schedule an evaluation after the coalesce
// window, so a burst of updates costs a single pass.
func (e *ArbitrageEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.EvaluationInterval)
	defer ticker.Stop()

	var updates <-chan struct{}
	if e.cfg.Trigger == config.TriggerEvent {
		updates = e.updates
	}
	var coalesce <-chan time.Time

	e.logger.Info("Arbitrage engine started", "interval", e.cfg.EvaluationInterval, "trigger", e.cfg.Trigger)
	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			e.persist(flushCtx)
			cancel()
			e.logger.Info("Arbitrage engine stopped", "ticks", e.ticks)
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		case <-updates:
			if coalesce == nil {
				coalesce = time.After(e.cfg.CoalesceWindow)
			}
		case <-coalesce:
			coalesce = nil
			e.Tick(ctx)
		}
	}
}
