package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"arbscope/internal/config"
	"arbscope/internal/metrics"
	"arbscope/internal/model"
)

// ErrRetriesExhausted is returned by Feed.Run when consecutive failures exceed the retry limit.
var ErrRetriesExhausted = errors.New("feed retries exhausted")

// State is the lifecycle state of a feed.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateStreaming:
		return "Streaming"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// QuoteWriter receives resolved quotes.
type QuoteWriter interface {
	Update(symbol, exchange string, bid, ask model.Price, observedAt time.Time)
}

// RetryPolicy bounds reconnect behaviour. MaxRetries of 0 retries forever.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int
}

// PolicyFromConfig converts the feed configuration section.
func PolicyFromConfig(cfg config.FeedConfig) RetryPolicy {
	return RetryPolicy{
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		MaxRetries:     cfg.MaxRetries,
	}
}

// Feed is the long-running task that streams one exchange into the quote store.
type Feed struct {
	connector Connector
	symbols   []string
	quotes    QuoteWriter
	policy    RetryPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	state atomic.Int32

	// only touched by the Run goroutine
	wallClockWarned map[string]bool
}

// NewFeed creates a feed for connector over symbols.
func NewFeed(connector Connector, symbols []string, quotes QuoteWriter, policy RetryPolicy, logger *slog.Logger, m *metrics.Metrics) *Feed {
	f := &Feed{
		connector:       connector,
		symbols:         symbols,
		quotes:          quotes,
		policy:          policy,
		logger:          logger.With("exchange", connector.Name()),
		metrics:         m,
		now:             time.Now,
		wallClockWarned: make(map[string]bool),
	}
	f.setState(StateConnecting)
	return f
}

func (f *Feed) Name() string {
	return f.connector.Name()
}

// State returns the current lifecycle state.
func (f *Feed) State() State {
	return State(f.state.Load())
}

func (f *Feed) setState(s State) {
	f.state.Store(int32(s))
	f.metrics.FeedState.WithLabelValues(f.Name()).Set(float64(s))
}

// Run streams until ctx is cancelled. Errors reconnect with exponential backoff; Run only
// returns an error when the retry limit is exceeded. Cancellation returns nil.
func (f *Feed) Run(ctx context.Context) error {
	defer f.setState(StateClosed)

	backoff := f.policy.InitialBackoff
	failures := 0
	for {
		received, err := f.session(ctx)
		if ctx.Err() != nil {
			f.logger.Info("feed stopped")
			return nil
		}

		if received > 0 {
			failures = 0
			backoff = f.policy.InitialBackoff
		}
		failures++
		f.metrics.FeedErrors.WithLabelValues(f.Name()).Inc()

		if f.policy.MaxRetries > 0 && failures > f.policy.MaxRetries {
			f.logger.Error("feed giving up", "error", err, "failures", failures)
			return fmt.Errorf("%s: %w: %v", f.Name(), ErrRetriesExhausted, err)
		}

		f.setState(StateReconnecting)
		f.logger.Warn("feed error, reconnecting", "error", err, "attempt", failures, "backoff", backoff)
		select {
		case <-ctx.Done():
			f.logger.Info("feed stopped")
			return nil
		case <-time.After(backoff):
		}
		f.metrics.FeedReconnects.WithLabelValues(f.Name()).Inc()

		backoff *= 2
		if backoff > f.policy.MaxBackoff {
			backoff = f.policy.MaxBackoff
		}
	}
}

// session runs one connection until it fails. The stream is closed on every exit path,
// and cancelling ctx closes it to unblock a pending read.
func (f *Feed) session(ctx context.Context) (int, error) {
	stream, err := f.connector.Connect(ctx, f.symbols)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	f.setState(StateStreaming)
	f.logger.Info("feed streaming", "symbols", f.symbols)

	received := 0
	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			return received, err
		}
		received++
		f.apply(batch)
	}
}

func (f *Feed) apply(batch map[string]model.Ticker) {
	for _, symbol := range f.symbols {
		t, ok := batch[symbol]
		if !ok {
			continue
		}
		ts := f.resolveTimestamp(symbol, t)
		f.quotes.Update(symbol, f.Name(), t.Bid, t.Ask, ts)
		f.metrics.QuoteUpdates.WithLabelValues(f.Name(), symbol).Inc()
	}
}

// resolveTimestamp prefers the exchange timestamp, then updated_at metadata, then local
// receipt time. The last case understates staleness, so it is logged and counted.
func (f *Feed) resolveTimestamp(symbol string, t model.Ticker) time.Time {
	if !t.Timestamp.IsZero() {
		return t.Timestamp
	}
	if raw := t.Info["updated_at"]; raw != "" {
		ts, err := parseUpdatedAt(raw)
		if err == nil {
			return ts
		}
		f.logger.Debug("unparseable updated_at", "symbol", symbol, "value", raw, "error", err)
	}

	f.metrics.TimestampFallbacks.WithLabelValues(f.Name(), symbol).Inc()
	if !f.wallClockWarned[symbol] {
		f.wallClockWarned[symbol] = true
		f.logger.Warn("exchange provides no quote timestamp, using local receipt time", "symbol", symbol)
	} else {
		f.logger.Debug("quote stamped with local receipt time", "symbol", symbol)
	}
	return f.now()
}

// parseUpdatedAt accepts unix milliseconds or RFC 3339.
func parseUpdatedAt(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
