package database

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"arbscope/internal/model"
)

const (
	ProfitFile = "market_data.csv"
	WalletFile = "wallet.csv"
)

// CSVExporter overwrites market_data.csv and wallet.csv in Dir on every snapshot.
type CSVExporter struct {
	Dir string
}

func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{Dir: dir}
}

// SaveSnapshot writes both files. Each file is replaced atomically.
func (c *CSVExporter) SaveSnapshot(ctx context.Context, snapshot model.Export) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("csv dir: %w", err)
	}

	profits := make([][]string, 0, len(snapshot.Profits)+1)
	profits = append(profits, []string{"symbol", "time", "profit"})
	for _, p := range snapshot.Profits {
		profits = append(profits, []string{p.Symbol, p.Timestamp.Format(time.RFC3339Nano), formatFloat(p.Profit)})
	}
	if err := writeCSV(filepath.Join(c.Dir, ProfitFile), profits); err != nil {
		return err
	}

	wallet := make([][]string, 0, len(snapshot.Wallet)+1)
	wallet = append(wallet, []string{"time", "value"})
	for _, w := range snapshot.Wallet {
		wallet = append(wallet, []string{w.Timestamp.Format(time.RFC3339Nano), formatFloat(w.Value)})
	}
	return writeCSV(filepath.Join(c.Dir, WalletFile), wallet)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, records [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("csv temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot reads back the files written by SaveSnapshot.
func (c *CSVExporter) LoadSnapshot(ctx context.Context) (model.Export, error) {
	var exp model.Export

	profits, err := readCSV(filepath.Join(c.Dir, ProfitFile), 3)
	if err != nil {
		return exp, err
	}
	for i, rec := range profits {
		ts, err := time.Parse(time.RFC3339Nano, rec[1])
		if err != nil {
			return exp, fmt.Errorf("%s row %d: %w", ProfitFile, i+1, err)
		}
		v, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return exp, fmt.Errorf("%s row %d: %w", ProfitFile, i+1, err)
		}
		exp.Profits = append(exp.Profits, model.ProfitRow{Symbol: rec[0], Timestamp: ts, Profit: v})
	}

	wallet, err := readCSV(filepath.Join(c.Dir, WalletFile), 2)
	if err != nil {
		return exp, err
	}
	for i, rec := range wallet {
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return exp, fmt.Errorf("%s row %d: %w", WalletFile, i+1, err)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return exp, fmt.Errorf("%s row %d: %w", WalletFile, i+1, err)
		}
		exp.Wallet = append(exp.Wallet, model.WalletRow{Timestamp: ts, Value: v})
	}
	return exp, nil
}

// readCSV returns the records after the header.
func readCSV(path string, fields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = fields
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}
