package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"arbscope/internal/model"
)

const krakenDefaultURL = "wss://ws.kraken.com/v2"

// KrakenClient streams ticker updates from the Kraken v2 WebSocket API.
type KrakenClient struct {
	logger      *slog.Logger
	url         string
	readTimeout time.Duration
}

// NewKrakenClient creates a new KrakenClient.
func NewKrakenClient(logger *slog.Logger, url string, readTimeout time.Duration) *KrakenClient {
	if url == "" {
		url = krakenDefaultURL
	}
	return &KrakenClient{logger: logger, url: url, readTimeout: readTimeout}
}

func (k *KrakenClient) Name() string {
	return "kraken"
}

type krakenSubscribe struct {
	Method string             `json:"method"`
	Params krakenSubscription `json:"params"`
}

type krakenSubscription struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

type krakenMessage struct {
	Channel string         `json:"channel"`
	Type    string         `json:"type"`
	Method  string         `json:"method"`
	Success *bool          `json:"success"`
	Error   string         `json:"error"`
	Data    []krakenTicker `json:"data"`
}

type krakenTicker struct {
	Symbol string   `json:"symbol"`
	Bid    *float64 `json:"bid"`
	Ask    *float64 `json:"ask"`
}

// Connect dials Kraken and subscribes to the ticker channel for symbols.
func (k *KrakenClient) Connect(ctx context.Context, symbols []string) (Stream, error) {
	k.logger.Info("KrakenClient: connecting to WebSocket", "url", k.url)
	c, err := dial(ctx, k.Name(), k.url)
	if err != nil {
		return nil, err
	}

	subscription := krakenSubscribe{
		Method: "subscribe",
		Params: krakenSubscription{Channel: "ticker", Symbol: symbols},
	}
	if err := c.WriteJSON(subscription); err != nil {
		c.Close()
		return nil, &TransientError{Exchange: k.Name(), Op: "subscribe", Err: err}
	}
	k.logger.Info("KrakenClient: subscription sent successfully", "symbols", symbols)

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	return newStream(k.Name(), c, k.readTimeout, func(msg []byte) (map[string]model.Ticker, error) {
		return decodeKraken(msg, wanted)
	}), nil
}

// decodeKraken maps a v2 ticker message to a batch. Kraken tickers carry no timestamp.
func decodeKraken(msg []byte, wanted map[string]struct{}) (map[string]model.Ticker, error) {
	var m krakenMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, err
	}
	if m.Method == "subscribe" && m.Success != nil && !*m.Success {
		return nil, errors.New("subscription rejected: " + m.Error)
	}
	if m.Channel != "ticker" {
		return nil, nil
	}

	batch := make(map[string]model.Ticker, len(m.Data))
	for _, d := range m.Data {
		if _, ok := wanted[d.Symbol]; !ok {
			continue
		}
		t := model.Ticker{Symbol: d.Symbol}
		if d.Bid != nil {
			p, err := checkedPrice(*d.Bid)
			if err != nil {
				return nil, err
			}
			t.Bid = p
		}
		if d.Ask != nil {
			p, err := checkedPrice(*d.Ask)
			if err != nil {
				return nil, err
			}
			t.Ask = p
		}
		batch[d.Symbol] = t
	}
	return batch, nil
}
