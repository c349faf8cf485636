package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbscope/internal/model"
)

// PostgresRepository stores opportunities and ledger snapshots in PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and verifies the connection.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

// Migrate creates the tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS arbitrage_opportunities (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		buy_exchange VARCHAR(50) NOT NULL,
		sell_exchange VARCHAR(50) NOT NULL,
		buy_price DOUBLE PRECISION NOT NULL,
		sell_price DOUBLE PRECISION NOT NULL,
		order_size DOUBLE PRECISION NOT NULL,
		gross_spread DOUBLE PRECISION NOT NULL,
		buy_fee DOUBLE PRECISION NOT NULL,
		sell_fee DOUBLE PRECISION NOT NULL,
		net_profit DOUBLE PRECISION NOT NULL
	);
	CREATE TABLE IF NOT EXISTS profit_samples (
		seq INTEGER PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		profit DOUBLE PRECISION NOT NULL
	);
	CREATE TABLE IF NOT EXISTS wallet_samples (
		seq INTEGER PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// LogOpportunity inserts a profitable sample.
func (r *PostgresRepository) LogOpportunity(ctx context.Context, s model.ProfitSample) error {
	_, err := r.Pool.Exec(ctx, `
	INSERT INTO arbitrage_opportunities
		(timestamp, symbol, buy_exchange, sell_exchange, buy_price, sell_price, order_size, gross_spread, buy_fee, sell_fee, net_profit)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.Timestamp, s.Symbol, s.BuyExchange, s.SellExchange, s.BuyPrice, s.SellPrice, s.OrderSize, s.GrossSpread, s.BuyFee, s.SellFee, s.NetProfit)
	if err != nil {
		return fmt.Errorf("log opportunity: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the stored snapshot with snapshot in one transaction.
func (r *PostgresRepository) SaveSnapshot(ctx context.Context, snapshot model.Export) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE profit_samples, wallet_samples`); err != nil {
		return fmt.Errorf("truncate snapshot: %w", err)
	}

	profits := snapshot.Profits
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"profit_samples"}, []string{"seq", "symbol", "timestamp", "profit"},
		pgx.CopyFromSlice(len(profits), func(i int) ([]any, error) {
			return []any{int32(i), profits[i].Symbol, profits[i].Timestamp, profits[i].Profit}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy profit samples: %w", err)
	}

	wallet := snapshot.Wallet
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"wallet_samples"}, []string{"seq", "timestamp", "value"},
		pgx.CopyFromSlice(len(wallet), func(i int) ([]any, error) {
			return []any{int32(i), wallet[i].Timestamp, wallet[i].Value}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy wallet samples: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadSnapshot reads the stored snapshot in its original order.
func (r *PostgresRepository) LoadSnapshot(ctx context.Context) (model.Export, error) {
	var exp model.Export

	rows, err := r.Pool.Query(ctx, `SELECT symbol, timestamp, profit FROM profit_samples ORDER BY seq`)
	if err != nil {
		return exp, fmt.Errorf("load profit samples: %w", err)
	}
	exp.Profits, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ProfitRow, error) {
		var p model.ProfitRow
		err := row.Scan(&p.Symbol, &p.Timestamp, &p.Profit)
		return p, err
	})
	if err != nil {
		return exp, fmt.Errorf("load profit samples: %w", err)
	}

	rows, err = r.Pool.Query(ctx, `SELECT timestamp, value FROM wallet_samples ORDER BY seq`)
	if err != nil {
		return exp, fmt.Errorf("load wallet samples: %w", err)
	}
	exp.Wallet, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WalletRow, error) {
		var w model.WalletRow
		err := row.Scan(&w.Timestamp, &w.Value)
		return w, err
	})
	if err != nil {
		return exp, fmt.Errorf("load wallet samples: %w", err)
	}
	return exp, nil
}
