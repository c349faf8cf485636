package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"arbscope/internal/model"
)

func TestCSVExporter_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	exp := NewCSVExporter(dir)
	base := time.Date(2024, 1, 1, 12, 30, 0, 123456789, time.UTC)

	snapshot := model.Export{
		Profits: []model.ProfitRow{
			{Symbol: "ETH/USD", Timestamp: base, Profit: 0.01696},
			{Symbol: "BTC/USD", Timestamp: base.Add(time.Second), Profit: -1.0 / 3},
		},
		Wallet: []model.WalletRow{{Timestamp: base, Value: 0.01696}},
	}
	require.NoError(t, exp.SaveSnapshot(context.Background(), snapshot))

	raw, err := os.ReadFile(filepath.Join(dir, ProfitFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "symbol,time,profit\n")
	assert.Contains(t, string(raw), "ETH/USD,2024-01-01T12:30:00.123456789Z,0.01696\n")

	loaded, err := exp.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot, loaded)

	// Overwrite, not append.
	require.NoError(t, exp.SaveSnapshot(context.Background(), model.Export{}))
	loaded, err = exp.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded.Profits)
	assert.Empty(t, loaded.Wallet)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")
}

type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) SaveSnapshot(ctx context.Context, snapshot model.Export) error {
	return m.Called(ctx, snapshot).Error(0)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) LogOpportunity(ctx context.Context, sample model.ProfitSample) error {
	return m.Called(ctx, sample).Error(0)
}

func TestComposite(t *testing.T) {
	ctx := context.Background()
	failing := new(MockExporter)
	ok := new(MockExporter)
	repo := new(MockRepository)
	boom := errors.New("disk full")

	failing.On("SaveSnapshot", ctx, mock.Anything).Return(boom).Once()
	ok.On("SaveSnapshot", ctx, mock.Anything).Return(nil).Once()
	repo.On("LogOpportunity", ctx, mock.Anything).Return(nil).Once()

	c := NewComposite(failing, nil, ok, repo)
	assert.ErrorIs(t, c.SaveSnapshot(ctx, model.Export{}), boom)
	assert.NoError(t, c.LogOpportunity(ctx, model.ProfitSample{Symbol: "ETH/USD"}))

	failing.AssertExpectations(t)
	ok.AssertExpectations(t)
	repo.AssertExpectations(t)
}
