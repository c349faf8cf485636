package model

import "time"

// Price is a top-of-book price that may be absent. An absent price is never zero.
type Price struct {
	Value float64
	Valid bool
}

// Some returns a present price.
func Some(v float64) Price {
	return Price{Value: v, Valid: true}
}

// Quote is the latest top-of-book state for one (symbol, exchange) pair.
type Quote struct {
	Symbol     string
	Exchange   string
	Bid        Price
	Ask        Price
	ObservedAt time.Time
}

// Ticker is a single symbol entry of a batch received from an exchange stream.
// Timestamp is zero when the exchange did not provide one; Info carries raw
// metadata such as "updated_at".
type Ticker struct {
	Symbol    string
	Bid       Price
	Ask       Price
	Timestamp time.Time
	Info      map[string]string
}

// ArbitragePair is the best directed (buy, sell) pair for a symbol.
type ArbitragePair struct {
	BuyExchange  string
	BuyPrice     float64
	BuyFeeRate   float64
	SellExchange string
	SellPrice    float64
	SellFeeRate  float64
	Spread       float64
}

// ProfitSample is the fee-adjusted result of evaluating one symbol at one tick.
type ProfitSample struct {
	Symbol       string    `db:"symbol"`
	Timestamp    time.Time `db:"timestamp"`
	BuyExchange  string    `db:"buy_exchange"`
	SellExchange string    `db:"sell_exchange"`
	BuyPrice     float64   `db:"buy_price"`
	SellPrice    float64   `db:"sell_price"`
	OrderSize    float64   `db:"order_size"`
	GrossSpread  float64   `db:"gross_spread"`
	BuyFee       float64   `db:"buy_fee"`
	SellFee      float64   `db:"sell_fee"`
	NetProfit    float64   `db:"net_profit"`
}

// WalletSample is one point of the cumulative simulated wallet series.
type WalletSample struct {
	Timestamp time.Time `db:"timestamp"`
	Value     float64   `db:"value"`
}

// ProfitRow is the flat persistence form of a ProfitSample.
type ProfitRow struct {
	Symbol    string
	Timestamp time.Time
	Profit    float64
}

// WalletRow is the flat persistence form of a WalletSample.
type WalletRow struct {
	Timestamp time.Time
	Value     float64
}

// Export is a full dump of the ledger.
type Export struct {
	Profits []ProfitRow
	Wallet  []WalletRow
}

// TickReport summarizes one evaluation pass.
type TickReport struct {
	Seq     int
	At      time.Time
	Quotes  []Quote
	Samples []ProfitSample
	Wallet  *WalletSample
}
