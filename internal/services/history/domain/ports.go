package domain

import "context"

// StorePort persists pull request history
type StorePort interface {
	Insert(ctx context.Context, number int, title string, merged bool) error
	MarkMerged(ctx context.Context, number int) error
	List(ctx context.Context) ([]Record, error)
}

// ExportPort writes the history to operator-facing files
type ExportPort interface {
	ExportCSV(ctx context.Context, path string) error
	ExportJSON(ctx context.Context, path string) error
}
