package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ilya1470/aces/models"
)

// CSVWriter appends normalized forecast rows to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

var csvHeader = []string{
	"filename", "version", "forecast_timestamp", "target_timestamp", "hour",
	"location", "price", "congestion_price", "loss_price", "energy_price",
}

// NewCSVWriter opens the CSV file at path for appending, writing the header
// when the file is new. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRows appends rows to the file.
func (c *CSVWriter) WriteRows(rows []*models.ForecastRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range rows {
		hour := ""
		if r.Hour != nil {
			hour = strconv.Itoa(*r.Hour)
		}
		record := []string{
			r.Filename,
			strconv.FormatInt(r.Version, 10),
			r.ForecastTimestamp.UTC().Format(time.RFC3339),
			r.TargetTimestamp.UTC().Format(time.RFC3339),
			hour,
			r.Location,
			nullDecimalString(r.Price),
			nullDecimalString(r.CongestionPrice),
			nullDecimalString(r.LossPrice),
			nullDecimalString(r.EnergyPrice),
		}
		if err := c.writer.Write(record); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
