package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ilya1470/aces/models"
)

func sampleRecords() []*models.ProcessedFileRecord {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	return []*models.ProcessedFileRecord{
		{Filename: "a.csv", FileType: "da", FileSizeBytes: 900, RowCount: 24, ImportStatus: models.ImportSuccess, Strategy: "click-exact", ProcessedAt: base},
		{Filename: "b.csv", FileType: "da", FileSizeBytes: 1200, RowCount: 24, ImportStatus: models.ImportSuccess, Strategy: "http-probe", ProcessedAt: base},
		{Filename: "c.csv", FileType: "rt", FileSizeBytes: 300, RowCount: 12, ImportStatus: models.ImportSuccess, Strategy: "click-exact", ProcessedAt: base},
		{Filename: "d.csv", FileType: "rt", ImportStatus: models.ImportFailed, ErrorMessage: "old failure", ProcessedAt: base.Add(-time.Hour)},
		{Filename: "e.csv", FileType: "unknown", FileSizeBytes: 50, ImportStatus: models.ImportFailed, ErrorMessage: "no rows parsed", ProcessedAt: base.Add(time.Hour)},
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleRecords())
	if r.TotalFiles != 5 {
		t.Errorf("TotalFiles: got %d, want 5", r.TotalFiles)
	}
	if r.Succeeded != 3 || r.Failed != 2 {
		t.Errorf("Succeeded/Failed: got %d/%d, want 3/2", r.Succeeded, r.Failed)
	}
	if r.TotalRows != 60 {
		t.Errorf("TotalRows: got %d, want 60", r.TotalRows)
	}
	if r.TotalBytes != 2450 {
		t.Errorf("TotalBytes: got %d, want 2450", r.TotalBytes)
	}
}

func TestInsightGrouping(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleRecords())
	if r.ByType["da"] != 2 || r.ByType["rt"] != 2 || r.ByType["unknown"] != 1 {
		t.Errorf("ByType: got %v", r.ByType)
	}
	if r.ByStrategy["click-exact"] != 2 || r.ByStrategy["http-probe"] != 1 {
		t.Errorf("ByStrategy: got %v", r.ByStrategy)
	}
}

func TestInsightLargestAndFailures(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleRecords())
	if r.LargestFile == nil || r.LargestFile.Filename != "b.csv" {
		t.Fatalf("LargestFile: got %+v, want b.csv", r.LargestFile)
	}
	if len(r.RecentFailures) != 2 {
		t.Fatalf("RecentFailures len: got %d, want 2", len(r.RecentFailures))
	}
	if r.RecentFailures[0].Filename != "e.csv" {
		t.Errorf("RecentFailures[0]: got %s, want e.csv", r.RecentFailures[0].Filename)
	}
}

func TestInsightEmptyInput(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil)
	if r.TotalFiles != 0 || r.LargestFile != nil || len(r.RecentFailures) != 0 {
		t.Errorf("expected empty insights, got %+v", r)
	}
}

func TestInsightPrint(t *testing.T) {
	var buf bytes.Buffer
	svc := NewInsightService(newTestLogger())
	svc.out = &buf

	run := &models.RunReport{
		RunID:        uuid.New(),
		Discovered:   3,
		Attempted:    2,
		Succeeded:    1,
		Failed:       1,
		RowsUpserted: 24,
		StrategyWins: map[string]int{"click-exact": 1},
		Records: []*models.ProcessedFileRecord{
			{Filename: "ok.csv", RowCount: 24, Strategy: "click-exact", ImportStatus: models.ImportSuccess},
			{Filename: "bad.csv", ImportStatus: models.ImportFailed, ErrorMessage: "aces: acquisition exhausted"},
		},
	}
	svc.Print(run, svc.Generate(sampleRecords()))

	out := buf.String()
	for _, want := range []string{"ok.csv", "bad.csv", "acquisition exhausted", "click-exact", "Ledger (all runs)", "e.csv"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short: got %q", got)
	}
	if got := truncate("a very long error message", 10); got != "a very ..." {
		t.Errorf("truncate long: got %q", got)
	}
}
