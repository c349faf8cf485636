package database

import (
	"context"

	"arbscope/internal/model"
)

// Repository defines the standard interface for logging profitable opportunities.
type Repository interface {
	LogOpportunity(ctx context.Context, sample model.ProfitSample) error
}

// SnapshotExporter receives the full ledger contents for persistence.
type SnapshotExporter interface {
	SaveSnapshot(ctx context.Context, snapshot model.Export) error
}
