package cache

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"arbscope/internal/model"
)

var rdb *redis.Client

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Printf("could not start redis container, skipping: %s", err)
		return m.Run()
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("could not stop redis container: %s", err)
		}
	}()

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		log.Fatalf("could not get redis endpoint: %s", err)
	}
	rdb = redis.NewClient(&redis.Options{Addr: endpoint})
	defer rdb.Close()

	return m.Run()
}

func newPublisher(t *testing.T) *Publisher {
	t.Helper()
	if rdb == nil {
		t.Skip("redis container unavailable")
	}
	require.NoError(t, rdb.FlushAll(context.Background()).Err())
	return NewPublisher(rdb, "test", time.Minute)
}

func TestPublisher_PublishTick(t *testing.T) {
	p := newPublisher(t)
	ctx := context.Background()
	at := time.UnixMilli(1700000000000)

	sub := rdb.Subscribe(ctx, "test:ticks")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	report := model.TickReport{
		Seq: 7,
		At:  at,
		Quotes: []model.Quote{
			{Symbol: "ETH/USD", Exchange: "kraken", Bid: model.Some(100), Ask: model.Some(101), ObservedAt: at},
			{Symbol: "ETH/USD", Exchange: "okx", Bid: model.Some(103), ObservedAt: at},
		},
		Samples: []model.ProfitSample{{Symbol: "ETH/USD", Timestamp: at, BuyExchange: "kraken", SellExchange: "okx", NetProfit: 2}},
		Wallet:  &model.WalletSample{Timestamp: at, Value: 2},
	}
	require.NoError(t, p.PublishTick(ctx, report))

	quotes, err := latestQuotes(ctx, p)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, model.Some(101), quotes["kraken:ETH/USD"].Ask)
	assert.False(t, quotes["okx:ETH/USD"].Ask.Valid)
	assert.True(t, quotes["okx:ETH/USD"].ObservedAt.Equal(at))

	n, err := rdb.XLen(ctx, "test:samples").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl, err := rdb.TTL(ctx, "test:quotes").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var tick tickJSON
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &tick))
	assert.Equal(t, 7, tick.Seq)
	require.NotNil(t, tick.Wallet)
	assert.Equal(t, 2.0, *tick.Wallet)
	assert.Equal(t, []profits{{Symbol: "ETH/USD", NetProfit: 2}}, tick.Profits)
}

func TestPublisher_LogOpportunity(t *testing.T) {
	p := newPublisher(t)
	ctx := context.Background()

	require.NoError(t, p.LogOpportunity(ctx, model.ProfitSample{Symbol: "BTC/USD", NetProfit: 0.5, Timestamp: time.Now()}))

	entries, err := rdb.XRange(ctx, "test:opportunities", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BTC/USD", entries[0].Values["symbol"])
	assert.Equal(t, "0.5", entries[0].Values["net_profit"])
}

// latestQuotes reads the mirrored quotes back, keyed by "exchange:symbol".
func latestQuotes(ctx context.Context, p *Publisher) (map[string]model.Quote, error) {
	raw, err := p.rdb.HGetAll(ctx, p.keyQuotes).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Quote, len(raw))
	for field, v := range raw {
		var q quoteJSON
		if err := json.Unmarshal([]byte(v), &q); err != nil {
			return nil, err
		}
		quote := model.Quote{Exchange: q.Exchange, Symbol: q.Symbol, ObservedAt: time.UnixMilli(q.ObservedAt)}
		if q.Bid != nil {
			quote.Bid = model.Some(*q.Bid)
		}
		if q.Ask != nil {
			quote.Ask = model.Some(*q.Ask)
		}
		out[field] = quote
	}
	return out, nil
}
