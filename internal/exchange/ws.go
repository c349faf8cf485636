package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbscope/internal/model"
)

const (
	dialTimeout        = 10 * time.Second
	defaultReadTimeout = 30 * time.Second
)

// decodeFunc turns one websocket message into a ticker batch. Control messages
// (acks, heartbeats) decode to an empty batch.
type decodeFunc func(msg []byte) (map[string]model.Ticker, error)

// replyFunc returns a message to send back for msg, or nil. Used for application-level heartbeats.
type replyFunc func(msg []byte) []byte

type wsStream struct {
	exchange    string
	conn        *websocket.Conn
	readTimeout time.Duration
	decode      decodeFunc
	reply       replyFunc

	closeOnce sync.Once
	closeErr  error
}

func dial(ctx context.Context, exchange, url string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	c, _, err := websocket.DefaultDialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, &TransientError{Exchange: exchange, Op: "dial", Err: err}
	}
	return c, nil
}

func newStream(exchange string, conn *websocket.Conn, readTimeout time.Duration, decode decodeFunc) *wsStream {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &wsStream{
		exchange:    exchange,
		conn:        conn,
		readTimeout: readTimeout,
		decode:      decode,
	}
}

// Next blocks until a non-empty batch arrives, the read deadline passes or the connection fails.
func (s *wsStream) Next(ctx context.Context) (map[string]model.Ticker, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, &TransientError{Exchange: s.exchange, Op: "read", Err: err}
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return nil, &TransientError{Exchange: s.exchange, Op: "read", Err: err}
		}

		if s.reply != nil {
			if out := s.reply(message); out != nil {
				if err := s.conn.WriteMessage(websocket.TextMessage, out); err != nil {
					return nil, &TransientError{Exchange: s.exchange, Op: "heartbeat", Err: err}
				}
				continue
			}
		}

		batch, err := s.decode(message)
		if err != nil {
			return nil, &TransientError{Exchange: s.exchange, Op: "decode", Err: err}
		}
		if len(batch) > 0 {
			return batch, nil
		}
	}
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// parsePrice parses a decimal string price. Empty means absent.
func parsePrice(s string) (model.Price, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Price{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return model.Price{}, err
	}
	return checkedPrice(v)
}

func checkedPrice(v float64) (model.Price, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.Price{}, fmt.Errorf("non-finite price %v", v)
	}
	if v < 0 {
		return model.Price{}, fmt.Errorf("negative price %v", v)
	}
	return model.Some(v), nil
}
