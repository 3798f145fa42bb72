package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilya1470/aces/models"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "forecasts.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRows(n int, price string) []*models.ForecastRow {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	forecast := time.Date(2024, 2, 29, 9, 30, 0, 0, time.UTC)
	rows := make([]*models.ForecastRow, 0, n)
	for i := 0; i < n; i++ {
		he := i + 1
		rows = append(rows, &models.ForecastRow{
			TargetTimestamp:   base.Add(time.Duration(i) * time.Hour),
			Hour:              &he,
			Price:             decimal.NewNullDecimal(decimal.RequireFromString(price)),
			Location:          models.DefaultLocationTag,
			ForecastTimestamp: forecast,
			Version:           20240229093000,
			Filename:          "NIPS.WVPA_da_price_forecast_20240229093000.csv",
		})
	}
	return rows
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n, err := s.UpsertForecasts(ctx, models.ClassDayAhead, sampleRows(24, "45.2"))
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	_, err = s.UpsertForecasts(ctx, models.ClassDayAhead, sampleRows(24, "45.2"))
	require.NoError(t, err)

	count, err := s.CountForecasts(ctx, models.ClassDayAhead)
	require.NoError(t, err)
	assert.Equal(t, 24, count, "second upsert must not duplicate rows")

	other, err := s.CountForecasts(ctx, models.ClassRealTime)
	require.NoError(t, err)
	assert.Zero(t, other, "rows must land in the class's own table")
}

func TestUpsertUpdatesPriceOnConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.UpsertForecasts(ctx, models.ClassRealTime, sampleRows(3, "10"))
	require.NoError(t, err)
	_, err = s.UpsertForecasts(ctx, models.ClassRealTime, sampleRows(3, "12.5"))
	require.NoError(t, err)

	var price float64
	err = s.db.QueryRowContext(ctx, `SELECT price FROM rt_price_forecasts WHERE hour = 1`).Scan(&price)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, price, 1e-9)

	count, err := s.CountForecasts(ctx, models.ClassRealTime)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUpsertCollapsesDuplicateKeysWithinBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rows := append(sampleRows(2, "1"), sampleRows(2, "2")...)
	n, err := s.UpsertForecasts(ctx, models.ClassDayAhead, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsertWithoutHourDimension(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rows := sampleRows(2, "5")
	for _, r := range rows {
		r.Hour = nil
	}
	_, err := s.UpsertForecasts(ctx, models.ClassDayAhead, rows)
	require.NoError(t, err)
	_, err = s.UpsertForecasts(ctx, models.ClassDayAhead, rows)
	require.NoError(t, err)

	count, err := s.CountForecasts(ctx, models.ClassDayAhead)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertNullPrice(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rows := sampleRows(1, "0")
	rows[0].Price = decimal.NullDecimal{}
	_, err := s.UpsertForecasts(ctx, models.ClassDayAhead, rows)
	require.NoError(t, err)

	var isNull bool
	err = s.db.QueryRowContext(ctx, `SELECT price IS NULL FROM da_price_forecasts`).Scan(&isNull)
	require.NoError(t, err)
	assert.True(t, isNull)
}

func TestUpsertRejectsUnknownClass(t *testing.T) {
	s := openTestStore(t)

	_, err := s.UpsertForecasts(context.Background(), models.FileClass("xx"), sampleRows(1, "1"))
	assert.True(t, errors.Is(err, ErrStoreWrite))
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	runID := uuid.New()

	require.NoError(t, s.RecordProcessed(ctx, &models.ProcessedFileRecord{
		Filename: "a.csv", FileType: "da", FileSizeBytes: 512, RowCount: 24,
		ImportStatus: models.ImportSuccess, Checksum: "abc", Strategy: "click-exact", RunID: runID,
	}))
	require.NoError(t, s.RecordProcessed(ctx, &models.ProcessedFileRecord{
		Filename: "b.csv", FileType: "rt", ImportStatus: models.ImportFailed,
		ErrorMessage: "acquisition exhausted", RunID: runID,
	}))

	all, err := s.ProcessedFilenames(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	succeeded, err := s.ProcessedFilenames(ctx, false)
	require.NoError(t, err)
	assert.Len(t, succeeded, 1)
	assert.Contains(t, succeeded, "a.csv")

	records, err := s.FetchLedger(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 24, records[0].RowCount)
	assert.Equal(t, runID, records[0].RunID)
	assert.Equal(t, models.ImportFailed, records[1].ImportStatus)
}

func TestLedgerReplacesOnlyFailedEntries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordProcessed(ctx, &models.ProcessedFileRecord{
		Filename: "a.csv", FileType: "da", ImportStatus: models.ImportFailed,
	}))
	require.NoError(t, s.RecordProcessed(ctx, &models.ProcessedFileRecord{
		Filename: "a.csv", FileType: "da", RowCount: 24, ImportStatus: models.ImportSuccess,
	}))
	require.NoError(t, s.RecordProcessed(ctx, &models.ProcessedFileRecord{
		Filename: "a.csv", FileType: "da", ImportStatus: models.ImportFailed,
	}))

	records, err := s.FetchLedger(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ImportSuccess, records[0].ImportStatus)
	assert.Equal(t, 24, records[0].RowCount)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", 10)
	assert.Error(t, err)
}
