package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/ilya1470/aces/models"
	"github.com/ilya1470/aces/storage"
	"github.com/ilya1470/aces/utils"
)

// ErrNoRows means a payload was acquired but normalized to nothing.
var ErrNoRows = errors.New("no rows parsed")

// Discoverer lists the files currently published.
type Discoverer interface {
	Scan(ctx context.Context) ([]models.CandidateFile, error)
}

// Acquirer gets one file's bytes.
type Acquirer interface {
	Acquire(ctx context.Context, filename string) (models.AcquiredPayload, error)
}

// PipelineOptions holds the optional parts of a Pipeline.
type PipelineOptions struct {
	// RetryFailed lets files ledgered as failed be attempted again.
	RetryFailed bool
	// Exporter, when set, receives a copy of every committed batch.
	Exporter storage.RowExporter
}

// Pipeline runs discovery, then acquire, normalize, upsert and ledger for
// every file not yet processed.
type Pipeline struct {
	discoverer Discoverer
	acquirer   Acquirer
	normalizer *Normalizer
	forecasts  storage.ForecastWriter
	ledger     storage.Ledger
	opts       PipelineOptions
	logger     *utils.Logger

	now   func() time.Time
	runID func() uuid.UUID
}

func NewPipeline(
	discoverer Discoverer,
	acquirer Acquirer,
	normalizer *Normalizer,
	forecasts storage.ForecastWriter,
	ledger storage.Ledger,
	opts PipelineOptions,
	logger *utils.Logger,
) *Pipeline {
	return &Pipeline{
		discoverer: discoverer,
		acquirer:   acquirer,
		normalizer: normalizer,
		forecasts:  forecasts,
		ledger:     ledger,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		runID:      uuid.New,
	}
}

// Run processes every new file once. Only scan-phase failures (discovery,
// ledger read) are returned; a failing file is ledgered and skipped. A
// cancelled ctx ends the run after the current file.
func (p *Pipeline) Run(ctx context.Context) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:        p.runID(),
		StartedAt:    p.now(),
		StrategyWins: make(map[string]int),
	}
	defer func() { report.Duration = p.now().Sub(report.StartedAt) }()

	p.logger.Info("[pipeline] Run %s starting", report.RunID)

	candidates, err := p.discoverer.Scan(ctx)
	if err != nil {
		return report, fmt.Errorf("scan listing: %w", err)
	}
	report.Discovered = len(candidates)

	processed, err := p.ledger.ProcessedFilenames(ctx, !p.opts.RetryFailed)
	if err != nil {
		return report, fmt.Errorf("read ledger: %w", err)
	}

	var pending []models.CandidateFile
	for _, c := range candidates {
		if _, done := processed[c.Filename]; done {
			report.AlreadyProcessed++
			continue
		}
		pending = append(pending, c)
	}

	p.logger.Info("[pipeline] %d discovered, %d already processed, %d new",
		report.Discovered, report.AlreadyProcessed, len(pending))

	for i, c := range pending {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("[pipeline] Stopping with %d file(s) left: %v", len(pending)-i, err)
			return report, err
		}

		p.logger.Info("[pipeline] (%d/%d) %s", i+1, len(pending), c.Filename)
		rec := p.processFile(ctx, report.RunID, c)
		report.Attempted++
		report.Records = append(report.Records, rec)
		report.RowsDropped += rec.DroppedRows

		if rec.ImportStatus == models.ImportSuccess {
			report.Succeeded++
			report.RowsUpserted += rec.RowCount
			report.StrategyWins[rec.Strategy]++
		} else {
			report.Failed++
		}

		if err := p.ledger.RecordProcessed(ctx, rec); err != nil {
			p.logger.Error("[pipeline] %s: ledger write failed: %v", c.Filename, err)
		}
	}

	p.logger.Info("[pipeline] Run %s done: %d succeeded, %d failed, %d rows upserted",
		report.RunID, report.Succeeded, report.Failed, report.RowsUpserted)
	return report, nil
}

// processFile never fails: every error or panic becomes a failed record.
func (p *Pipeline) processFile(ctx context.Context, runID uuid.UUID, c models.CandidateFile) (rec *models.ProcessedFileRecord) {
	rec = &models.ProcessedFileRecord{
		Filename:     c.Filename,
		FileType:     fileType(c.Identity),
		ImportStatus: models.ImportFailed,
		RunID:        runID,
	}

	defer func() {
		if r := recover(); r != nil {
			p.fail(rec, fmt.Errorf("panic: %v", r))
		}
		rec.ProcessedAt = p.now()
	}()

	if err := p.ingest(ctx, c, rec); err != nil {
		p.fail(rec, err)
		return rec
	}

	rec.ImportStatus = models.ImportSuccess
	p.logger.Info("[pipeline] %s: %d rows committed via %s", c.Filename, rec.RowCount, rec.Strategy)
	return rec
}

func (p *Pipeline) ingest(ctx context.Context, c models.CandidateFile, rec *models.ProcessedFileRecord) error {
	payload, err := p.acquirer.Acquire(ctx, c.Filename)
	if err != nil {
		return err
	}
	rec.Strategy = payload.Strategy
	rec.FileSizeBytes = len(payload.Data)
	rec.Checksum = checksum(payload.Data)

	res := p.normalizer.Normalize(payload.Data, c.Identity, c.Filename)
	rec.DroppedRows = res.Dropped
	if len(res.Rows) == 0 {
		return fmt.Errorf("%w from %s (%d dropped)", ErrNoRows, c.Filename, res.Dropped)
	}

	n, err := p.forecasts.UpsertForecasts(ctx, c.Identity.Class, res.Rows)
	if err != nil {
		return err
	}
	rec.RowCount = n

	if p.opts.Exporter != nil {
		if err := p.opts.Exporter.WriteRows(res.Rows); err != nil {
			p.logger.Warn("[pipeline] %s: CSV export failed: %v", c.Filename, err)
		}
	}
	return nil
}

func (p *Pipeline) fail(rec *models.ProcessedFileRecord, err error) {
	rec.ImportStatus = models.ImportFailed
	rec.RowCount = 0
	rec.ErrorMessage = err.Error()
	p.logger.Error("[pipeline] %s: %v", rec.Filename, err)
}

func fileType(id models.FileIdentity) string {
	if !id.Class.Valid() {
		return models.FileTypeUnknown
	}
	return string(id.Class)
}

func checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
