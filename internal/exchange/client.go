package exchange

import (
	"context"
	"fmt"

	"arbscope/internal/model"
)

// Connector opens ticker streams against one exchange.
type Connector interface {
	Name() string
	Connect(ctx context.Context, symbols []string) (Stream, error)
}

// Stream yields batches of ticker updates keyed by symbol.
// Close releases the underlying connection and is safe to call more than once.
type Stream interface {
	Next(ctx context.Context) (map[string]model.Ticker, error)
	Close() error
}

// TransientError is a recoverable failure on a single exchange feed.
type TransientError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
