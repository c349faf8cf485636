package database

import (
	"context"

	"arbscope/internal/model"
)

// Composite fans writes out to several repositories and exporters. Every target is
// attempted; the first error is returned.
type Composite struct {
	repos     []Repository
	exporters []SnapshotExporter
}

// NewComposite collects the non-nil targets. A target may be both a Repository and a
// SnapshotExporter.
func NewComposite(targets ...any) *Composite {
	c := &Composite{}
	for _, t := range targets {
		if t == nil {
			continue
		}
		if r, ok := t.(Repository); ok {
			c.repos = append(c.repos, r)
		}
		if e, ok := t.(SnapshotExporter); ok {
			c.exporters = append(c.exporters, e)
		}
	}
	return c
}

func (c *Composite) LogOpportunity(ctx context.Context, sample model.ProfitSample) error {
	var firstErr error
	for _, r := range c.repos {
		if err := r.LogOpportunity(ctx, sample); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Composite) SaveSnapshot(ctx context.Context, snapshot model.Export) error {
	var firstErr error
	for _, e := range c.exporters {
		if err := e.SaveSnapshot(ctx, snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ Repository       = (*Composite)(nil)
	_ SnapshotExporter = (*Composite)(nil)
	_ Repository       = (*PostgresRepository)(nil)
	_ SnapshotExporter = (*PostgresRepository)(nil)
	_ SnapshotExporter = (*CSVExporter)(nil)
)
