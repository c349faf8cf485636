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

const okxDefaultURL = "wss://ws.okx.com:8443/ws/v5/public"

// OKXClient streams the public tickers channel from OKX.
type OKXClient struct {
	logger      *slog.Logger
	url         string
	readTimeout time.Duration
}

// NewOKXClient creates a new OKXClient.
func NewOKXClient(logger *slog.Logger, url string, readTimeout time.Duration) *OKXClient {
	if url == "" {
		url = okxDefaultURL
	}
	return &OKXClient{logger: logger, url: url, readTimeout: readTimeout}
}

func (o *OKXClient) Name() string {
	return "okx"
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubscribe struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args"`
}

type okxMessage struct {
	Event string      `json:"event"`
	Code  string      `json:"code"`
	Msg   string      `json:"msg"`
	Arg   okxArg      `json:"arg"`
	Data  []okxTicker `json:"data"`
}

type okxTicker struct {
	InstID string `json:"instId"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Ts     string `json:"ts"`
}

// okxInstrument converts "ETH/USD" to "ETH-USD".
func okxInstrument(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "-"))
}

// Connect dials OKX and subscribes to tickers for every symbol.
func (o *OKXClient) Connect(ctx context.Context, symbols []string) (Stream, error) {
	o.logger.Info("OKXClient: connecting to WebSocket", "url", o.url)
	c, err := dial(ctx, o.Name(), o.url)
	if err != nil {
		return nil, err
	}

	instruments := make(map[string]string, len(symbols))
	sub := okxSubscribe{Op: "subscribe"}
	for _, s := range symbols {
		id := okxInstrument(s)
		instruments[id] = s
		sub.Args = append(sub.Args, okxArg{Channel: "tickers", InstID: id})
	}
	if err := c.WriteJSON(sub); err != nil {
		c.Close()
		return nil, &TransientError{Exchange: o.Name(), Op: "subscribe", Err: err}
	}
	o.logger.Info("OKXClient: subscription sent successfully", "symbols", symbols)

	return newStream(o.Name(), c, o.readTimeout, func(msg []byte) (map[string]model.Ticker, error) {
		return decodeOKX(msg, instruments)
	}), nil
}

// decodeOKX maps a tickers push to a batch, using the exchange ts as the quote timestamp.
func decodeOKX(msg []byte, instruments map[string]string) (map[string]model.Ticker, error) {
	if string(msg) == "pong" {
		return nil, nil
	}
	var m okxMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, err
	}
	if m.Event == "error" {
		return nil, fmt.Errorf("okx error %s: %s", m.Code, m.Msg)
	}
	if m.Event != "" || m.Arg.Channel != "tickers" {
		return nil, nil
	}

	batch := make(map[string]model.Ticker, len(m.Data))
	for _, d := range m.Data {
		symbol, ok := instruments[d.InstID]
		if !ok {
			continue
		}
		bid, err := parsePrice(d.BidPx)
		if err != nil {
			return nil, fmt.Errorf("bidPx: %w", err)
		}
		ask, err := parsePrice(d.AskPx)
		if err != nil {
			return nil, fmt.Errorf("askPx: %w", err)
		}
		t := model.Ticker{Symbol: symbol, Bid: bid, Ask: ask}
		if d.Ts != "" {
			ms, err := strconv.ParseInt(d.Ts, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ts: %w", err)
			}
			t.Timestamp = time.UnixMilli(ms)
		}
		batch[symbol] = t
	}
	return batch, nil
}
