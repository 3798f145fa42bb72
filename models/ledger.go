package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus is the terminal outcome of one file attempt.
type ImportStatus string

const (
	ImportSuccess ImportStatus = "success"
	ImportFailed  ImportStatus = "failed"
)

// FileTypeUnknown is recorded when a file's class could not be determined.
const FileTypeUnknown = "unknown"

// ProcessedFileRecord is a ledger entry. One is written per file attempt
// that reaches the ledger step, failed attempts included.
type ProcessedFileRecord struct {
	Filename      string
	FileType      string
	FileSizeBytes int
	RowCount      int
	DroppedRows   int
	ImportStatus  ImportStatus
	Checksum      string
	Strategy      string
	ErrorMessage  string
	RunID         uuid.UUID
	ProcessedAt   time.Time
}

// RunReport summarises one pipeline run.
type RunReport struct {
	RunID            uuid.UUID
	StartedAt        time.Time
	Duration         time.Duration
	Discovered       int
	AlreadyProcessed int
	Attempted        int
	Succeeded        int
	Failed           int
	RowsUpserted     int
	RowsDropped      int
	StrategyWins     map[string]int
	Records          []*ProcessedFileRecord
}

// LedgerInsights summarises the whole ledger, across runs.
type LedgerInsights struct {
	TotalFiles     int
	Succeeded      int
	Failed         int
	TotalRows      int
	TotalBytes     int
	ByType         map[string]int
	ByStrategy     map[string]int
	LargestFile    *ProcessedFileRecord
	RecentFailures []*ProcessedFileRecord
}
