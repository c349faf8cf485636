// Package cache mirrors the latest quotes into Redis and streams profit samples to consumers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"arbscope/internal/model"
)

// Publisher writes to the following keys under prefix:
//
//	<prefix>:quotes              hash "exchange:symbol" -> quote json
//	<prefix>:samples             stream of profit samples
//	<prefix>:opportunities       stream of profitable samples
//	<prefix>:ticks               pub/sub channel carrying one message per tick
type Publisher struct {
	rdb           *redis.Client
	ttl           time.Duration
	keyQuotes     string
	samples       string
	opportunities string
	ticks         string
}

type quoteJSON struct {
	Exchange   string   `json:"exchange"`
	Symbol     string   `json:"symbol"`
	Bid        *float64 `json:"bid"`
	Ask        *float64 `json:"ask"`
	ObservedAt int64    `json:"ts_ms"`
}

type tickJSON struct {
	Seq     int       `json:"seq"`
	At      int64     `json:"ts_ms"`
	Samples int       `json:"samples"`
	Wallet  *float64  `json:"wallet,omitempty"`
	Profits []profits `json:"profits"`
}

type profits struct {
	Symbol    string  `json:"symbol"`
	NetProfit float64 `json:"net_profit"`
}

func NewPublisher(rdb *redis.Client, prefix string, ttl time.Duration) *Publisher {
	return &Publisher{
		rdb:           rdb,
		ttl:           ttl,
		keyQuotes:     prefix + ":quotes",
		samples:       prefix + ":samples",
		opportunities: prefix + ":opportunities",
		ticks:         prefix + ":ticks",
	}
}

func price(p model.Price) *float64 {
	if !p.Valid {
		return nil
	}
	v := p.Value
	return &v
}

// PublishTick mirrors the quotes seen by the tick, appends its samples to the samples
// stream and announces the tick on the ticks channel.
func (p *Publisher) PublishTick(ctx context.Context, report model.TickReport) error {
	pipe := p.rdb.Pipeline()

	if len(report.Quotes) > 0 {
		fields := make([]any, 0, 2*len(report.Quotes))
		for _, q := range report.Quotes {
			b, err := json.Marshal(quoteJSON{
				Exchange:   q.Exchange,
				Symbol:     q.Symbol,
				Bid:        price(q.Bid),
				Ask:        price(q.Ask),
				ObservedAt: q.ObservedAt.UnixMilli(),
			})
			if err != nil {
				return err
			}
			fields = append(fields, q.Exchange+":"+q.Symbol, string(b))
		}
		pipe.HSet(ctx, p.keyQuotes, fields...)
		if p.ttl > 0 {
			pipe.Expire(ctx, p.keyQuotes, p.ttl)
		}
	}

	msg := tickJSON{Seq: report.Seq, At: report.At.UnixMilli(), Samples: len(report.Samples)}
	for _, s := range report.Samples {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: p.samples, Values: sampleValues(s)})
		msg.Profits = append(msg.Profits, profits{Symbol: s.Symbol, NetProfit: s.NetProfit})
	}
	if report.Wallet != nil {
		v := report.Wallet.Value
		msg.Wallet = &v
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe.Publish(ctx, p.ticks, string(b))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish tick: %w", err)
	}
	return nil
}

// LogOpportunity appends a profitable sample to the opportunities stream.
func (p *Publisher) LogOpportunity(ctx context.Context, s model.ProfitSample) error {
	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{Stream: p.opportunities, Values: sampleValues(s)}).Result()
	if err != nil {
		return fmt.Errorf("redis log opportunity: %w", err)
	}
	return nil
}

func sampleValues(s model.ProfitSample) map[string]any {
	return map[string]any{
		"ts_ms":         s.Timestamp.UnixMilli(),
		"symbol":        s.Symbol,
		"buy_exchange":  s.BuyExchange,
		"sell_exchange": s.SellExchange,
		"buy_price":     s.BuyPrice,
		"sell_price":    s.SellPrice,
		"gross_spread":  s.GrossSpread,
		"net_profit":    s.NetProfit,
	}
}
