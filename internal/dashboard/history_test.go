package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbscope/internal/model"
	"arbscope/internal/quote"
)

func TestHistory_Sample(t *testing.T) {
	store := quote.NewStore()
	h := NewHistory(store, []string{"ETH/USD"}, time.Minute, time.Second)
	clock := now
	h.now = func() time.Time { return clock }

	store.Update("ETH/USD", "kraken", model.Some(100), model.Some(101), clock)
	store.Update("ETH/USD", "okx", model.Some(99), model.Some(100), clock)
	h.Sample()
	h.Sample()

	series := h.Series("ETH/USD")
	require.Len(t, series["kraken"], 1, "an unchanged quote adds no point")

	clock = clock.Add(30 * time.Second)
	store.Update("ETH/USD", "kraken", model.Some(101), model.Some(102), clock)
	h.Sample()
	assert.Len(t, h.Series("ETH/USD")["kraken"], 2)

	// okx stops updating and ages out; kraken keeps only points inside the window.
	clock = clock.Add(45 * time.Second)
	h.Sample()
	series = h.Series("ETH/USD")
	assert.NotContains(t, series, "okx")
	require.Len(t, series["kraken"], 1)
	assert.Equal(t, model.Some(101), series["kraken"][0].Bid)

	assert.Empty(t, h.Series("BTC/USD"))
}

func TestHistory_SeriesIsACopy(t *testing.T) {
	store := quote.NewStore()
	h := NewHistory(store, []string{"ETH/USD"}, time.Minute, time.Second)
	h.now = func() time.Time { return now }
	store.Update("ETH/USD", "kraken", model.Some(100), model.Some(101), now)
	h.Sample()

	series := h.Series("ETH/USD")
	series["kraken"][0].Bid = model.Some(1)
	assert.Equal(t, model.Some(100), h.Series("ETH/USD")["kraken"][0].Bid)
}

func TestHistory_RunStopsOnCancel(t *testing.T) {
	store := quote.NewStore()
	store.Update("ETH/USD", "kraken", model.Some(100), model.Some(101), time.Now())
	h := NewHistory(store, []string{"ETH/USD"}, time.Minute, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.Series("ETH/USD")["kraken"]) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
