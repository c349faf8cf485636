package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbscope/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsServer runs handler for every websocket connection and returns a ws:// URL.
func wsServer(t *testing.T, handler func(c *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func TestOKXClient_Stream(t *testing.T) {
	subscribed := make(chan okxSubscribe, 1)
	url := wsServer(t, func(c *websocket.Conn) {
		var sub okxSubscribe
		if err := c.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"ETH-USD"}}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"tickers","instId":"ETH-USD"},"data":[{"instId":"ETH-USD","bidPx":"100","askPx":"101","ts":"1700000000000"}]}`))
		drain(c)
	})

	client := NewOKXClient(discardLogger(), url, time.Second)
	ctx := context.Background()
	stream, err := client.Connect(ctx, []string{"ETH/USD"})
	require.NoError(t, err)
	defer stream.Close()

	sub := <-subscribed
	assert.Equal(t, "subscribe", sub.Op)
	assert.Equal(t, []okxArg{{Channel: "tickers", InstID: "ETH-USD"}}, sub.Args)

	batch, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, batch["ETH/USD"].Bid.Value)

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close(), "close is idempotent")
}

func TestCryptoComClient_AnswersHeartbeat(t *testing.T) {
	replies := make(chan cryptocomRequest, 1)
	url := wsServer(t, func(c *websocket.Conn) {
		var sub cryptocomRequest
		if err := c.ReadJSON(&sub); err != nil || sub.Method != "subscribe" {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"id":42,"method":"public/heartbeat","code":0}`))
		var reply cryptocomRequest
		if err := c.ReadJSON(&reply); err != nil {
			return
		}
		replies <- reply
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"id":-1,"method":"subscribe","code":0,"result":{"channel":"ticker","instrument_name":"BTC_USD","data":[{"i":"BTC_USD","b":"60000","k":"60001","t":1700000000000}]}}`))
		drain(c)
	})

	client := NewCryptoComClient(discardLogger(), url, time.Second)
	stream, err := client.Connect(context.Background(), []string{"BTC/USD"})
	require.NoError(t, err)
	defer stream.Close()

	batch, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60001.0, batch["BTC/USD"].Ask.Value)

	reply := <-replies
	assert.Equal(t, int64(42), reply.ID)
	assert.Equal(t, "public/respond-heartbeat", reply.Method)
}

func TestBinanceClient_StreamURL(t *testing.T) {
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.String()
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"stream":"ethusdt@ticker","data":{"E":1700000000000,"s":"ETHUSDT","b":"1","a":"2"}}`))
		drain(c)
	}))
	defer srv.Close()

	client := NewBinanceClient(discardLogger(), "ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	stream, err := client.Connect(context.Background(), []string{"ETH/USDT", "BTC/USDT"})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "/stream?streams=ethusdt@ticker/btcusdt@ticker", <-paths)
	batch, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", batch["ETH/USDT"].Info["updated_at"])
}

func TestStream_ReadTimeout(t *testing.T) {
	url := wsServer(t, drain)

	client := NewKrakenClient(discardLogger(), url, 50*time.Millisecond)
	stream, err := client.Connect(context.Background(), []string{"BTC/USD"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next(context.Background())
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "kraken", te.Exchange)
	assert.Equal(t, "read", te.Op)
}

func TestStream_DecodeErrorIsTransient(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn) {
		_, _, _ = c.ReadMessage()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{garbage`))
		drain(c)
	})

	client := NewKrakenClient(discardLogger(), url, time.Second)
	stream, err := client.Connect(context.Background(), []string{"BTC/USD"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next(context.Background())
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "decode", te.Op)
}

func TestDial_Unreachable(t *testing.T) {
	client := NewKrakenClient(discardLogger(), "ws://127.0.0.1:1", time.Second)
	_, err := client.Connect(context.Background(), []string{"BTC/USD"})
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
}

func TestNewClient(t *testing.T) {
	for _, name := range config.SupportedExchanges {
		c, err := NewClient(name, discardLogger(), config.ExchangeConfig{})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}

	_, err := NewClient("mtgox", discardLogger(), config.ExchangeConfig{})
	assert.Error(t, err)
}
