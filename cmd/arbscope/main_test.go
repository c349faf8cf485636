package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"arbscope/internal/database"
	"arbscope/internal/ledger"
	"arbscope/internal/model"
)

type MockSnapshotSource struct {
	mock.Mock
}

func (m *MockSnapshotSource) LoadSnapshot(ctx context.Context) (model.Export, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.Export), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRestoreLedger(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("restores matching history", func(t *testing.T) {
		src := new(MockSnapshotSource)
		src.On("LoadSnapshot", ctx).Return(model.Export{
			Profits: []model.ProfitRow{{Symbol: "ETH/USD", Timestamp: at, Profit: 2}},
			Wallet:  []model.WalletRow{{Timestamp: at, Value: 2}},
		}, nil)

		book := ledger.New([]string{"ETH/USD"})
		require.NoError(t, restoreLedger(ctx, discardLogger(), book, src, "postgres"))
		assert.Equal(t, 2.0, book.WalletValue())
		src.AssertExpectations(t)
	})

	t.Run("refuses history for removed symbols", func(t *testing.T) {
		src := new(MockSnapshotSource)
		src.On("LoadSnapshot", ctx).Return(model.Export{
			Profits: []model.ProfitRow{{Symbol: "LTC/USD", Timestamp: at, Profit: 1}},
		}, nil)

		book := ledger.New([]string{"ETH/USD"})
		err := restoreLedger(ctx, discardLogger(), book, src, "postgres")
		assert.ErrorIs(t, err, ledger.ErrUnknownSymbol)
		assert.Empty(t, book.RecentWindow("ETH/USD", 10))
	})

	t.Run("load failure stops startup", func(t *testing.T) {
		src := new(MockSnapshotSource)
		boom := errors.New("connection reset")
		src.On("LoadSnapshot", ctx).Return(model.Export{}, boom)

		err := restoreLedger(ctx, discardLogger(), ledger.New([]string{"ETH/USD"}), src, "postgres")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("missing csv files start fresh", func(t *testing.T) {
		exporter := database.NewCSVExporter(filepath.Join(t.TempDir(), "none"))
		book := ledger.New([]string{"ETH/USD"})
		require.NoError(t, restoreLedger(ctx, discardLogger(), book, exporter, "csv"))
		assert.Equal(t, 0.0, book.WalletValue())
	})

	t.Run("csv round trip", func(t *testing.T) {
		exporter := database.NewCSVExporter(t.TempDir())
		require.NoError(t, exporter.SaveSnapshot(ctx, model.Export{
			Profits: []model.ProfitRow{{Symbol: "ETH/USD", Timestamp: at, Profit: 0.5}},
			Wallet:  []model.WalletRow{{Timestamp: at, Value: 0.5}},
		}))

		book := ledger.New([]string{"ETH/USD"})
		require.NoError(t, restoreLedger(ctx, discardLogger(), book, exporter, "csv"))
		latest, ok := book.Latest("ETH/USD")
		require.True(t, ok)
		assert.Equal(t, 0.5, latest.NetProfit)
	})
}
