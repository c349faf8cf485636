package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"arbscope/internal/model"
)

const cryptocomDefaultURL = "wss://stream.crypto.com/exchange/v1/market"

// CryptoComClient streams the ticker channel from the Crypto.com Exchange market data API.
type CryptoComClient struct {
	logger      *slog.Logger
	url         string
	readTimeout time.Duration
}

// NewCryptoComClient creates a new CryptoComClient.
func NewCryptoComClient(logger *slog.Logger, url string, readTimeout time.Duration) *CryptoComClient {
	if url == "" {
		url = cryptocomDefaultURL
	}
	return &CryptoComClient{logger: logger, url: url, readTimeout: readTimeout}
}

func (c *CryptoComClient) Name() string {
	return "cryptocom"
}

type cryptocomRequest struct {
	ID     int64            `json:"id"`
	Method string           `json:"method"`
	Params *cryptocomParams `json:"params,omitempty"`
	Nonce  int64            `json:"nonce,omitempty"`
}

type cryptocomParams struct {
	Channels []string `json:"channels"`
}

type cryptocomMessage struct {
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Channel        string            `json:"channel"`
		InstrumentName string            `json:"instrument_name"`
		Data           []cryptocomTicker `json:"data"`
	} `json:"result"`
}

type cryptocomTicker struct {
	Instrument string `json:"i"`
	Bid        string `json:"b"`
	Ask        string `json:"k"`
	Ts         int64  `json:"t"`
}

// cryptocomInstrument converts "ETH/USD" to "ETH_USD".
func cryptocomInstrument(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "_"))
}

// Connect dials Crypto.com and subscribes to ticker.<instrument> for every symbol.
func (c *CryptoComClient) Connect(ctx context.Context, symbols []string) (Stream, error) {
	c.logger.Info("CryptoComClient: connecting to WebSocket", "url", c.url)
	conn, err := dial(ctx, c.Name(), c.url)
	if err != nil {
		return nil, err
	}

	instruments := make(map[string]string, len(symbols))
	params := &cryptocomParams{}
	for _, s := range symbols {
		id := cryptocomInstrument(s)
		instruments[id] = s
		params.Channels = append(params.Channels, "ticker."+id)
	}
	now := time.Now().UnixMilli()
	if err := conn.WriteJSON(cryptocomRequest{ID: 1, Method: "subscribe", Params: params, Nonce: now}); err != nil {
		conn.Close()
		return nil, &TransientError{Exchange: c.Name(), Op: "subscribe", Err: err}
	}
	c.logger.Info("CryptoComClient: subscription sent successfully", "symbols", symbols)

	stream := newStream(c.Name(), conn, c.readTimeout, func(msg []byte) (map[string]model.Ticker, error) {
		return decodeCryptoCom(msg, instruments)
	})
	stream.reply = cryptocomHeartbeat
	return stream, nil
}

// cryptocomHeartbeat answers public/heartbeat; the server disconnects clients that do not.
func cryptocomHeartbeat(msg []byte) []byte {
	if !strings.Contains(string(msg), "public/heartbeat") {
		return nil
	}
	var m cryptocomMessage
	if err := json.Unmarshal(msg, &m); err != nil || m.Method != "public/heartbeat" {
		return nil
	}
	out, err := json.Marshal(cryptocomRequest{ID: m.ID, Method: "public/respond-heartbeat"})
	if err != nil {
		return nil
	}
	return out
}

// decodeCryptoCom maps a ticker push to a batch, using the exchange t as the quote timestamp.
func decodeCryptoCom(msg []byte, instruments map[string]string) (map[string]model.Ticker, error) {
	var m cryptocomMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, err
	}
	if m.Code != 0 {
		return nil, fmt.Errorf("cryptocom error %d: %s", m.Code, m.Message)
	}
	if m.Method != "subscribe" || m.Result.Channel != "ticker" {
		return nil, nil
	}

	batch := make(map[string]model.Ticker, len(m.Result.Data))
	for _, d := range m.Result.Data {
		inst := d.Instrument
		if inst == "" {
			inst = m.Result.InstrumentName
		}
		symbol, ok := instruments[inst]
		if !ok {
			continue
		}
		bid, err := parsePrice(d.Bid)
		if err != nil {
			return nil, fmt.Errorf("b: %w", err)
		}
		ask, err := parsePrice(d.Ask)
		if err != nil {
			return nil, fmt.Errorf("k: %w", err)
		}
		t := model.Ticker{Symbol: symbol, Bid: bid, Ask: ask}
		if d.Ts > 0 {
			t.Timestamp = time.UnixMilli(d.Ts)
		}
		batch[symbol] = t
	}
	return batch, nil
}
