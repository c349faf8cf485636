package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"arbscope/internal/model"
)

const binanceDefaultURL = "wss://stream.binance.com:9443"

// BinanceClient streams 24h ticker updates from the Binance combined stream endpoint.
type BinanceClient struct {
	logger      *slog.Logger
	baseURL     string
	readTimeout time.Duration
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger, baseURL string, readTimeout time.Duration) *BinanceClient {
	if baseURL == "" {
		baseURL = binanceDefaultURL
	}
	return &BinanceClient{logger: logger, baseURL: strings.TrimRight(baseURL, "/"), readTimeout: readTimeout}
}

func (b *BinanceClient) Name() string {
	return "binance"
}

type binanceEnvelope struct {
	Stream string        `json:"stream"`
	Data   binanceTicker `json:"data"`
}

type binanceTicker struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Bid       string `json:"b"`
	Ask       string `json:"a"`
}

// binanceMarket converts "ETH/USDT" to "ETHUSDT".
func binanceMarket(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// Connect subscribes to <market>@ticker for every symbol through the combined stream URL.
func (b *BinanceClient) Connect(ctx context.Context, symbols []string) (Stream, error) {
	markets := make(map[string]string, len(symbols))
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		m := binanceMarket(s)
		markets[m] = s
		streams = append(streams, strings.ToLower(m)+"@ticker")
	}
	url := b.baseURL + "/stream?streams=" + strings.Join(streams, "/")

	b.logger.Info("BinanceClient: connecting to WebSocket", "url", url)
	c, err := dial(ctx, b.Name(), url)
	if err != nil {
		return nil, err
	}
	b.logger.Info("BinanceClient: connected successfully")

	return newStream(b.Name(), c, b.readTimeout, func(msg []byte) (map[string]model.Ticker, error) {
		return decodeBinance(msg, markets)
	}), nil
}

// decodeBinance maps a combined-stream ticker message to a batch. Binance has no quote
// timestamp on this stream, so the event time is passed on as updated_at metadata.
func decodeBinance(msg []byte, markets map[string]string) (map[string]model.Ticker, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, err
	}
	if env.Data.Symbol == "" {
		return nil, nil
	}
	symbol, ok := markets[strings.ToUpper(env.Data.Symbol)]
	if !ok {
		return nil, nil
	}

	bid, err := parsePrice(env.Data.Bid)
	if err != nil {
		return nil, fmt.Errorf("bid: %w", err)
	}
	ask, err := parsePrice(env.Data.Ask)
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}

	t := model.Ticker{Symbol: symbol, Bid: bid, Ask: ask}
	if env.Data.EventTime > 0 {
		t.Info = map[string]string{"updated_at": strconv.FormatInt(env.Data.EventTime, 10)}
	}
	return map[string]model.Ticker{symbol: t}, nil
}
