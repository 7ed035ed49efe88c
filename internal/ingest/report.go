package ingest

import (
	"fmt"
	"log/slog"
)

// Report accumulates the per-run ingestion counters. It is plain state
// returned to the caller, never global; the pipeline merges one Report per
// file into the run total.
type Report struct {
	FilesProcessed int
	FilesFailed    int

	Inserted         int
	Updated          int
	SkippedNoKey     int
	SkippedDuplicate int
	SkippedError     int

	// DuplicateContent counts entries suppressed because their normalized
	// content hash was already seen this run under a different key.
	DuplicateContent int

	// PerCategory counts inserted+updated records by category.
	PerCategory map[string]int

	// RecordErrors holds the typed per-record failures behind SkippedError.
	RecordErrors []RecordError
}

// NewReport returns an empty report with its maps initialized.
func NewReport() *Report {
	return &Report{PerCategory: make(map[string]int)}
}

func (r *Report) countCategory(category string) {
	if r.PerCategory == nil {
		r.PerCategory = make(map[string]int)
	}
	r.PerCategory[category]++
}

// Merge folds other into r.
func (r *Report) Merge(other *Report) {
	r.FilesProcessed += other.FilesProcessed
	r.FilesFailed += other.FilesFailed
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.SkippedNoKey += other.SkippedNoKey
	r.SkippedDuplicate += other.SkippedDuplicate
	r.SkippedError += other.SkippedError
	r.DuplicateContent += other.DuplicateContent
	for cat, n := range other.PerCategory {
		if r.PerCategory == nil {
			r.PerCategory = make(map[string]int)
		}
		r.PerCategory[cat] += n
	}
	r.RecordErrors = append(r.RecordErrors, other.RecordErrors...)
}

// Summary renders the counters on one line for the CLI.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"files=%d failed=%d inserted=%d updated=%d skipped_no_key=%d skipped_duplicate=%d skipped_error=%d duplicate_content=%d",
		r.FilesProcessed, r.FilesFailed, r.Inserted, r.Updated,
		r.SkippedNoKey, r.SkippedDuplicate, r.SkippedError, r.DuplicateContent)
}

// Log emits the report through the structured logger, one record per
// category plus the totals.
func (r *Report) Log(logger *slog.Logger) {
	logger.Info("ingestion report",
		"files_processed", r.FilesProcessed,
		"files_failed", r.FilesFailed,
		"inserted", r.Inserted,
		"updated", r.Updated,
		"skipped_no_key", r.SkippedNoKey,
		"skipped_duplicate", r.SkippedDuplicate,
		"skipped_error", r.SkippedError,
		"duplicate_content", r.DuplicateContent)
	for cat, n := range r.PerCategory {
		logger.Debug("category total", "category", cat, "records", n)
	}
}
