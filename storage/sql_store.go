package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ilya1470/aces/models"
)

const (
	forecastColumns = 10
	ledgerTable     = "processed_files"
)

// dialect captures the few places Postgres and SQLite disagree.
type dialect struct {
	driver    string
	timestamp string
	numbered  bool
}

var (
	postgresDialect = dialect{driver: "postgres", timestamp: "TIMESTAMPTZ", numbered: true}
	sqliteDialect   = dialect{driver: "sqlite", timestamp: "TIMESTAMP"}
)

func (d dialect) placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d dialect) placeholders(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.placeholder(from + i)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// SQLStore persists forecast rows and the processed-files ledger in
// PostgreSQL or SQLite.
type SQLStore struct {
	db        *sql.DB
	dialect   dialect
	batchSize int
}

// Open connects to the store, runs schema migrations, and returns a
// ready-to-use SQLStore. driver is "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string, batchSize int) (*SQLStore, error) {
	var d dialect
	pingAttempts := 1
	switch driver {
	case "postgres":
		d = postgresDialect
		pingAttempts = 10
	case "sqlite":
		d = sqliteDialect
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create db dir: %w", err)
		}
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.driver, err)
	}
	if d.driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	for i := 0; i < pingAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		if i < pingAttempts-1 {
			select {
			case <-ctx.Done():
				_ = db.Close()
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping failed after %d attempts: %w", d.driver, pingAttempts, err)
	}

	if batchSize <= 0 {
		batchSize = 200
	}
	s := &SQLStore{db: db, dialect: d, batchSize: batchSize}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", d.driver, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ts := s.dialect.timestamp
	var stmts []string
	for _, class := range []models.FileClass{models.ClassDayAhead, models.ClassRealTime} {
		table := forecastTable(class)
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+table+` (
				target_timestamp   `+ts+`        NOT NULL,
				hour               INTEGER       NOT NULL DEFAULT 0,
				price              NUMERIC(12,4),
				congestion_price   NUMERIC(12,4),
				loss_price         NUMERIC(12,4),
				energy_price       NUMERIC(12,4),
				location           TEXT          NOT NULL,
				forecast_timestamp `+ts+`        NOT NULL,
				version            BIGINT        NOT NULL,
				filename           TEXT          NOT NULL,
				updated_at         `+ts+`        NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (target_timestamp, version, location, hour)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_`+table+`_filename ON `+table+`(filename)`,
			`CREATE INDEX IF NOT EXISTS idx_`+table+`_version  ON `+table+`(version)`,
		)
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
			filename        TEXT     PRIMARY KEY,
			file_type       TEXT     NOT NULL,
			file_size_bytes BIGINT   NOT NULL DEFAULT 0,
			row_count       INTEGER  NOT NULL DEFAULT 0,
			dropped_rows    INTEGER  NOT NULL DEFAULT 0,
			import_status   TEXT     NOT NULL CHECK (import_status IN ('success', 'failed')),
			checksum        TEXT     NOT NULL DEFAULT '',
			strategy        TEXT     NOT NULL DEFAULT '',
			error_message   TEXT     NOT NULL DEFAULT '',
			run_id          TEXT     NOT NULL DEFAULT '',
			processed_at    `+ts+`   NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_files_status ON `+ledgerTable+`(import_status)`,
	)

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func forecastTable(class models.FileClass) string {
	return string(class) + "_price_forecasts"
}

// UpsertForecasts writes rows into the class's table inside one
// transaction. Rows sharing a business key collapse to the last one, and a
// key already in the table is updated rather than duplicated.
func (s *SQLStore) UpsertForecasts(ctx context.Context, class models.FileClass, rows []*models.ForecastRow) (int, error) {
	if !class.Valid() {
		return 0, fmt.Errorf("%w: unknown file class %q", ErrStoreWrite, class)
	}
	rows = dedupeByKey(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrStoreWrite, err)
	}
	defer tx.Rollback()

	for i := 0; i < len(rows); i += s.batchSize {
		end := i + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.upsertBatch(ctx, tx, forecastTable(class), rows[i:end]); err != nil {
			return 0, fmt.Errorf("%w: upsert %s: %v", ErrStoreWrite, forecastTable(class), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrStoreWrite, err)
	}
	return len(rows), nil
}

func (s *SQLStore) upsertBatch(ctx context.Context, tx *sql.Tx, table string, batch []*models.ForecastRow) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*forecastColumns)

	for idx, r := range batch {
		k := r.Key()
		valueStrings = append(valueStrings, s.dialect.placeholders(idx*forecastColumns+1, forecastColumns))
		valueArgs = append(valueArgs,
			k.TargetTimestamp, k.Hour, r.Price, r.CongestionPrice, r.LossPrice, r.EnergyPrice,
			k.Location, r.ForecastTimestamp.UTC(), k.Version, r.Filename)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (target_timestamp, hour, price, congestion_price, loss_price, energy_price,
		                location, forecast_timestamp, version, filename)
		VALUES %s
		ON CONFLICT (target_timestamp, version, location, hour) DO UPDATE SET
			price              = excluded.price,
			congestion_price   = excluded.congestion_price,
			loss_price         = excluded.loss_price,
			energy_price       = excluded.energy_price,
			forecast_timestamp = excluded.forecast_timestamp,
			filename           = excluded.filename,
			updated_at         = CURRENT_TIMESTAMP
	`, table, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, query, valueArgs...)
	return err
}

// dedupeByKey keeps the last row for each business key, in first-seen key
// order. Postgres rejects an upsert that touches the same key twice.
func dedupeByKey(rows []*models.ForecastRow) []*models.ForecastRow {
	pos := make(map[models.BusinessKey]int, len(rows))
	out := make([]*models.ForecastRow, 0, len(rows))
	for _, r := range rows {
		k := r.Key()
		if i, seen := pos[k]; seen {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

// ProcessedFilenames returns the ledgered filenames.
func (s *SQLStore) ProcessedFilenames(ctx context.Context, includeFailed bool) (map[string]struct{}, error) {
	query := `SELECT filename FROM ` + ledgerTable
	var args []interface{}
	if !includeFailed {
		query += ` WHERE import_status <> ` + s.dialect.placeholder(1)
		args = append(args, string(models.ImportFailed))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetch filenames: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ledger: scan filename: %w", err)
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

// RecordProcessed inserts a ledger entry. An existing failed entry for the
// same filename is replaced; an existing success is left untouched.
func (s *SQLStore) RecordProcessed(ctx context.Context, rec *models.ProcessedFileRecord) error {
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	query := `
		INSERT INTO ` + ledgerTable + ` (filename, file_type, file_size_bytes, row_count, dropped_rows,
		                             import_status, checksum, strategy, error_message, run_id, processed_at)
		VALUES ` + s.dialect.placeholders(1, 11) + `
		ON CONFLICT (filename) DO UPDATE SET
			file_type       = excluded.file_type,
			file_size_bytes = excluded.file_size_bytes,
			row_count       = excluded.row_count,
			dropped_rows    = excluded.dropped_rows,
			import_status   = excluded.import_status,
			checksum        = excluded.checksum,
			strategy        = excluded.strategy,
			error_message   = excluded.error_message,
			run_id          = excluded.run_id,
			processed_at    = excluded.processed_at
		WHERE ` + ledgerTable + `.import_status = 'failed'`

	_, err := s.db.ExecContext(ctx, query,
		rec.Filename, rec.FileType, rec.FileSizeBytes, rec.RowCount, rec.DroppedRows,
		string(rec.ImportStatus), rec.Checksum, rec.Strategy, rec.ErrorMessage,
		rec.RunID.String(), processedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: ledger insert %s: %v", ErrStoreWrite, rec.Filename, err)
	}
	return nil
}

// FetchLedger retrieves every ledger entry ordered by filename.
func (s *SQLStore) FetchLedger(ctx context.Context) ([]*models.ProcessedFileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename, file_type, file_size_bytes, row_count, dropped_rows,
		       import_status, checksum, strategy, error_message, run_id, processed_at
		FROM `+ledgerTable+`
		ORDER BY filename
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetch all: %w", err)
	}
	defer rows.Close()

	var out []*models.ProcessedFileRecord
	for rows.Next() {
		rec := &models.ProcessedFileRecord{}
		var status, runID string
		if err := rows.Scan(
			&rec.Filename, &rec.FileType, &rec.FileSizeBytes, &rec.RowCount, &rec.DroppedRows,
			&status, &rec.Checksum, &rec.Strategy, &rec.ErrorMessage, &runID, &rec.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan row: %w", err)
		}
		rec.ImportStatus = models.ImportStatus(status)
		if id, err := uuid.Parse(runID); err == nil {
			rec.RunID = id
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountForecasts returns the number of rows stored for class.
func (s *SQLStore) CountForecasts(ctx context.Context, class models.FileClass) (int, error) {
	if !class.Valid() {
		return 0, fmt.Errorf("store: unknown file class %q", class)
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+forecastTable(class)).Scan(&n)
	return n, err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
