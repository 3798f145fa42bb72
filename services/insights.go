package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ilya1470/aces/models"
	"github.com/ilya1470/aces/utils"
)

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// Generate summarises every ledger record.
func (s *InsightService) Generate(records []*models.ProcessedFileRecord) *models.LedgerInsights {
	report := &models.LedgerInsights{
		ByType:     make(map[string]int),
		ByStrategy: make(map[string]int),
	}

	var failures []*models.ProcessedFileRecord
	for _, r := range records {
		report.TotalFiles++
		report.ByType[r.FileType]++
		report.TotalBytes += r.FileSizeBytes

		if r.ImportStatus != models.ImportSuccess {
			report.Failed++
			failures = append(failures, r)
			continue
		}
		report.Succeeded++
		report.TotalRows += r.RowCount
		if r.Strategy != "" {
			report.ByStrategy[r.Strategy]++
		}
		if report.LargestFile == nil || r.FileSizeBytes > report.LargestFile.FileSizeBytes {
			report.LargestFile = r
		}
	}

	// 5 most recent failures
	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].ProcessedAt.After(failures[j].ProcessedAt)
	})
	if len(failures) > 5 {
		failures = failures[:5]
	}
	report.RecentFailures = failures

	return report
}

// Print writes the run summary and, when ledger is non-nil, the ledger
// overview.
func (s *InsightService) Print(run *models.RunReport, ledger *models.LedgerInsights) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 ACES FORECAST INGESTION REPORT\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// This run
	fmt.Fprintf(w, "\033[1;33m  This Run\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Run id             : %s\n", run.RunID)
	fmt.Fprintf(w, "  Duration           : %s\n", run.Duration.Round(time.Second))
	fmt.Fprintf(w, "  Files discovered   : \033[1m%d\033[0m\n", run.Discovered)
	fmt.Fprintf(w, "  Already processed  : \033[1m%d\033[0m\n", run.AlreadyProcessed)
	fmt.Fprintf(w, "  Attempted          : \033[1m%d\033[0m\n", run.Attempted)
	fmt.Fprintf(w, "  Succeeded / failed : \033[1;32m%d\033[0m / \033[1;31m%d\033[0m\n", run.Succeeded, run.Failed)
	fmt.Fprintf(w, "  Rows upserted      : \033[1m%d\033[0m (%d dropped)\n", run.RowsUpserted, run.RowsDropped)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Winning Strategies\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	printBars(w, run.StrategyWins, "  No file was acquired")
	fmt.Fprintln(w)

	if len(run.Records) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Files\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, r := range run.Records {
			mark := "\033[1;32m✓\033[0m"
			detail := fmt.Sprintf("%d rows via %s", r.RowCount, r.Strategy)
			if r.ImportStatus != models.ImportSuccess {
				mark = "\033[1;31m✗\033[0m"
				detail = truncate(r.ErrorMessage, 40)
			}
			fmt.Fprintf(w, "  %s %s\n      %s\n", mark, r.Filename, detail)
		}
		fmt.Fprintln(w)
	}

	if ledger == nil {
		fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)
		return
	}

	// Ledger
	fmt.Fprintf(w, "\033[1;33m  Ledger (all runs)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Files recorded : \033[1m%d\033[0m (%d success, %d failed)\n", ledger.TotalFiles, ledger.Succeeded, ledger.Failed)
	fmt.Fprintf(w, "  Rows committed : \033[1m%d\033[0m\n", ledger.TotalRows)
	fmt.Fprintf(w, "  Bytes acquired : \033[1m%d\033[0m\n", ledger.TotalBytes)
	if ledger.LargestFile != nil {
		fmt.Fprintf(w, "  Largest file   : %s (%d bytes)\n", ledger.LargestFile.Filename, ledger.LargestFile.FileSizeBytes)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Files by Type\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	printBars(w, ledger.ByType, "  No files recorded")
	fmt.Fprintln(w)

	if len(ledger.RecentFailures) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Recent Failures\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for i, r := range ledger.RecentFailures {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %s\n      %s\n", i+1, r.Filename, truncate(r.ErrorMessage, 46))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)
}

// printBars prints counts descending, ties by name.
func printBars(w io.Writer, counts map[string]int, empty string) {
	if len(counts) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	type kv struct {
		key   string
		count int
	}
	var items []kv
	for k, v := range counts {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].key < items[j].key
	})
	for _, it := range items {
		bar := strings.Repeat("█", min(it.count, 30))
		fmt.Fprintf(w, "  %-20s %s (%d)\n", truncate(it.key, 18), bar, it.count)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
