package exchange

import (
	"fmt"
	"log/slog"

	"arbscope/internal/config"
)

// NewClient creates a new exchange connector based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg config.ExchangeConfig) (Connector, error) {
	switch name {
	case "kraken":
		return NewKrakenClient(logger, cfg.WsURL, cfg.ReadTimeout), nil
	case "binance":
		return NewBinanceClient(logger, cfg.WsURL, cfg.ReadTimeout), nil
	case "okx":
		return NewOKXClient(logger, cfg.WsURL, cfg.ReadTimeout), nil
	case "cryptocom":
		return NewCryptoComClient(logger, cfg.WsURL, cfg.ReadTimeout), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}
