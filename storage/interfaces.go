package storage

import (
	"context"
	"errors"

	"github.com/ilya1470/aces/models"
)

// ErrStoreWrite wraps every failed write to the forecast tables or ledger.
var ErrStoreWrite = errors.New("store write failed")

// ForecastWriter upserts forecast rows keyed by their business key.
type ForecastWriter interface {
	UpsertForecasts(ctx context.Context, class models.FileClass, rows []*models.ForecastRow) (int, error)
}

// Ledger records which files have been attempted.
type Ledger interface {
	// ProcessedFilenames returns the filenames that must not be attempted
	// again. Failed records are included unless includeFailed is false.
	ProcessedFilenames(ctx context.Context, includeFailed bool) (map[string]struct{}, error)
	RecordProcessed(ctx context.Context, rec *models.ProcessedFileRecord) error
}

// RowExporter writes a copy of normalized rows somewhere outside the store.
type RowExporter interface {
	WriteRows(rows []*models.ForecastRow) error
	Close() error
}
