package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Log       LogConfig
	Arbitrage ArbitrageConfig
	Symbols   []SymbolConfig
	Exchanges map[string]ExchangeConfig
	Feed      FeedConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	CSV       CSVConfig
	Dashboard DashboardConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// ArbitrageConfig defines the evaluation loop settings.
type ArbitrageConfig struct {
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval"`
	Trigger            string
	CoalesceWindow     time.Duration `mapstructure:"coalesce_window"`
	RecentWindow       int           `mapstructure:"recent_window"`
	PersistEvery       int           `mapstructure:"persist_every"`
}

// SymbolConfig is a traded pair and the simulated order size used for it.
type SymbolConfig struct {
	Name      string
	OrderSize float64 `mapstructure:"order_size"`
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	Enabled         bool
	WsURL           string          `mapstructure:"ws_url"`
	TakerFeePercent float64         `mapstructure:"taker_fee_percent"`
	SymbolFees      []SymbolFeeRate `mapstructure:"symbol_fees"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
}

// SymbolFeeRate overrides the exchange taker fee for one symbol.
type SymbolFeeRate struct {
	Symbol          string
	TakerFeePercent float64 `mapstructure:"taker_fee_percent"`
}

// FeedConfig is the reconnect policy shared by all exchange feeds.
type FeedConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// RedisConfig defines the quote mirror and signal publisher settings.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
}

// CSVConfig defines where flat snapshot files are written.
type CSVConfig struct {
	Enabled bool
	Dir     string
}

// DashboardConfig defines the read-only HTTP surface.
type DashboardConfig struct {
	Enabled         bool
	Addr            string
	HistorySpan     time.Duration `mapstructure:"history_span"`
	HistoryInterval time.Duration `mapstructure:"history_interval"`
}

const (
	TriggerInterval = "interval"
	TriggerEvent    = "event"
)

// SupportedExchanges lists the exchange names that have a stream adapter.
var SupportedExchanges = []string{"binance", "cryptocom", "kraken", "okx"}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}

	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("arbitrage.evaluation_interval", 5*time.Second)
	v.SetDefault("arbitrage.trigger", TriggerInterval)
	v.SetDefault("arbitrage.coalesce_window", 250*time.Millisecond)
	v.SetDefault("arbitrage.recent_window", 10)
	v.SetDefault("arbitrage.persist_every", 50)
	v.SetDefault("feed.initial_backoff", time.Second)
	v.SetDefault("feed.max_backoff", 16*time.Second)
	v.SetDefault("feed.max_retries", 0)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "arbscope")
	v.SetDefault("redis.quote_ttl", time.Minute)
	v.SetDefault("csv.dir", ".")
	v.SetDefault("dashboard.addr", ":8050")
	v.SetDefault("dashboard.history_span", time.Minute)
	v.SetDefault("dashboard.history_interval", 2*time.Second)
}

// SymbolNames returns the configured symbols in configuration order.
func (c *Config) SymbolNames() []string {
	names := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		names = append(names, s.Name)
	}
	return names
}

// EnabledExchanges returns the names of the enabled exchanges.
func (c *Config) EnabledExchanges() []string {
	var names []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
