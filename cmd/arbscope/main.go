package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"arbscope/internal/arbitrage"
	"arbscope/internal/cache"
	"arbscope/internal/config"
	"arbscope/internal/dashboard"
	"arbscope/internal/database"
	"arbscope/internal/exchange"
	"arbscope/internal/fee"
	"arbscope/internal/ledger"
	"arbscope/internal/metrics"
	"arbscope/internal/model"
	"arbscope/internal/quote"
)

// staleTicks is how many evaluation intervals a sample stays current on the dashboard.
const staleTicks = 3

type snapshotSource interface {
	LoadSnapshot(ctx context.Context) (model.Export, error)
}

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Cannot load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Arbscope stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	symbols := cfg.SymbolNames()
	store := quote.NewStore()
	fees := fee.NewSchedule(cfg.Exchanges)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	book := ledger.New(symbols)

	var targets []any

	if cfg.Database.Enabled {
		repo, err := database.NewPostgresRepository(ctx, cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		if err := restoreLedger(ctx, logger, book, repo, "postgres"); err != nil {
			return err
		}
		targets = append(targets, repo)
	}

	if cfg.CSV.Enabled {
		exporter := database.NewCSVExporter(cfg.CSV.Dir)
		if !cfg.Database.Enabled {
			if err := restoreLedger(ctx, logger, book, exporter, "csv"); err != nil {
				return err
			}
		}
		targets = append(targets, exporter)
	}

	engine := arbitrage.NewArbitrageEngine(logger, &cfg, store, fees, book, m).
		WithUpdates(store.Subscribe())

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		publisher := cache.NewPublisher(rdb, cfg.Redis.Prefix, cfg.Redis.QuoteTTL)
		engine.WithPublisher(publisher)
		targets = append(targets, publisher)
	}

	if len(targets) > 0 {
		sink := database.NewComposite(targets...)
		engine.WithRepository(sink).WithExporter(sink)
	}

	policy := exchange.PolicyFromConfig(cfg.Feed)
	var feeds []*exchange.Feed
	for _, name := range cfg.EnabledExchanges() {
		client, err := exchange.NewClient(name, logger, cfg.Exchanges[name])
		if err != nil {
			return err
		}
		feeds = append(feeds, exchange.NewFeed(client, symbols, store, policy, logger, m))
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, f := range feeds {
		f := f
		g.Go(func() error {
			// A dead feed leaves the other exchanges running.
			if err := f.Run(ctx); err != nil {
				logger.Error("Feed stopped", "exchange", f.Name(), "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return engine.Run(ctx)
	})

	if cfg.Dashboard.Enabled {
		history := dashboard.NewHistory(store, symbols, cfg.Dashboard.HistorySpan, cfg.Dashboard.HistoryInterval)
		g.Go(func() error {
			return history.Run(ctx)
		})

		status := func() map[string]string {
			out := make(map[string]string, len(feeds))
			for _, f := range feeds {
				out[f.Name()] = f.State().String()
			}
			return out
		}
		settings := dashboard.Settings{
			Addr:         cfg.Dashboard.Addr,
			RecentWindow: cfg.Arbitrage.RecentWindow,
			StaleAfter:   staleTicks * cfg.Arbitrage.EvaluationInterval,
		}
		srv := dashboard.NewServer(logger, settings, store, book, history, status, m.Handler())
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	logger.Info("Arbscope started", "symbols", symbols, "exchanges", cfg.EnabledExchanges())
	return g.Wait()
}

// restoreLedger loads stored history into book. History that does not fit the configured
// symbols stops startup, because the first snapshot would overwrite it.
func restoreLedger(ctx context.Context, logger *slog.Logger, book *ledger.Ledger, src snapshotSource, name string) error {
	snapshot, err := src.LoadSnapshot(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("No stored history", "source", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s history: %w", name, err)
	}
	if err := book.Restore(snapshot); err != nil {
		return fmt.Errorf("stored %s history does not match the configured symbols, refusing to overwrite it: %w", name, err)
	}
	logger.Info("Ledger restored", "source", name, "profits", len(snapshot.Profits), "wallet", len(snapshot.Wallet))
	return nil
}
