package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/campusmate/campusmate/internal/knowledge"
)

// Upserter resolves record identity, skips in-batch duplicates and applies
// merge upserts through a knowledge.Writer. Key and content-hash state
// spans the whole run so duplicates across files are caught too. Claims
// made while a file is applied are tentative: commitClaims promotes them
// once the file's transaction commits, releaseClaims drops them on
// rollback so a later file can still store the same record.
//
// Not safe for concurrent use: the pipeline applies batches from a single
// goroutine, which is what keeps first-wins deterministic.
type Upserter struct {
	logger        *slog.Logger
	seenKeys      map[string]struct{}
	contentHashes map[string]struct{}
	pendingKeys   map[string]struct{}
	pendingHashes map[string]struct{}
}

// NewUpserter creates an Upserter with fresh per-run state.
func NewUpserter(logger *slog.Logger) *Upserter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Upserter{
		logger:        logger,
		seenKeys:      make(map[string]struct{}),
		contentHashes: make(map[string]struct{}),
		pendingKeys:   make(map[string]struct{}),
		pendingHashes: make(map[string]struct{}),
	}
}

// claim tentatively records key for the file being applied. The first
// claim wins; later claims report a duplicate.
func (u *Upserter) claim(key string) bool {
	if _, dup := u.seenKeys[key]; dup {
		return false
	}
	if _, dup := u.pendingKeys[key]; dup {
		return false
	}
	u.pendingKeys[key] = struct{}{}
	return true
}

func (u *Upserter) claimContent(content string) bool {
	h := ContentHash(content)
	if _, dup := u.contentHashes[h]; dup {
		return false
	}
	if _, dup := u.pendingHashes[h]; dup {
		return false
	}
	u.pendingHashes[h] = struct{}{}
	return true
}

// commitClaims promotes the current file's claims into run-wide state.
// Called after the file's transaction commits.
func (u *Upserter) commitClaims() {
	for k := range u.pendingKeys {
		u.seenKeys[k] = struct{}{}
	}
	for h := range u.pendingHashes {
		u.contentHashes[h] = struct{}{}
	}
	u.releaseClaims()
}

// releaseClaims drops the current file's claims. Called when the file's
// transaction rolls back: nothing was stored, so the keys stay free for
// later files in the run.
func (u *Upserter) releaseClaims() {
	clear(u.pendingKeys)
	clear(u.pendingHashes)
}

// ApplyEntries upserts a file's knowledge entries. Identity rules: missing
// id → MissingKeyError, skipped; key already seen this run →
// DuplicateInBatchError, first wins; duplicate content hash → suppressed.
// A write failure returns a StoreWriteError, aborting the file's
// transaction.
func (u *Upserter) ApplyEntries(ctx context.Context, w knowledge.Writer, src string, entries []knowledge.Entry, report *Report) error {
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			report.SkippedNoKey++
			u.logger.Warn("skipping entry without id",
				"source", src, "index", i, "title", e.Title,
				"error", &knowledge.MissingKeyError{RecordType: "entry", Index: i})
			continue
		}
		if !u.claim("entry:" + e.ID) {
			report.SkippedDuplicate++
			u.logger.Debug("skipping duplicate entry",
				"source", src, "error", &knowledge.DuplicateInBatchError{Key: e.ID})
			continue
		}
		if !u.claimContent(e.Content) {
			report.DuplicateContent++
			u.logger.Debug("suppressing duplicate content", "source", src, "id", e.ID)
			continue
		}

		inserted, err := w.UpsertEntry(ctx, e)
		if err != nil {
			return &knowledge.StoreWriteError{Source: src, Err: err}
		}
		if inserted {
			report.Inserted++
		} else {
			report.Updated++
		}
		report.countCategory(e.Category)
	}
	return nil
}

// ApplyAcademic upserts a file's academic records: schools first so
// programs and courses can reference them, then programs, courses and
// academic information. Code-keyed types are never stored under a
// generated key.
func (u *Upserter) ApplyAcademic(ctx context.Context, w knowledge.Writer, src string, batch *AcademicBatch, report *Report) error {
	for i, s := range batch.Schools {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Name) == "" {
			report.SkippedNoKey++
			u.logger.Warn("skipping school without id",
				"source", src, "error", &knowledge.MissingKeyError{RecordType: "school", Index: i})
			continue
		}
		if !u.claim("school:" + s.ID) {
			report.SkippedDuplicate++
			continue
		}
		if err := u.apply(report, "school", func() (bool, error) { return w.UpsertSchool(ctx, s) }); err != nil {
			return &knowledge.StoreWriteError{Source: src, Err: err}
		}
	}

	for i, p := range batch.Programs {
		if strings.TrimSpace(p.Code) == "" {
			report.SkippedNoKey++
			u.logger.Warn("skipping program without code",
				"source", src, "error", &knowledge.MissingKeyError{RecordType: "program", Index: i})
			continue
		}
		if !u.claim("program:" + p.Code) {
			report.SkippedDuplicate++
			u.logger.Debug("skipping duplicate program",
				"source", src, "error", &knowledge.DuplicateInBatchError{Key: p.Code})
			continue
		}
		if err := u.apply(report, "program", func() (bool, error) { return w.UpsertProgram(ctx, p) }); err != nil {
			return &knowledge.StoreWriteError{Source: src, Err: err}
		}
	}

	for i, c := range batch.Courses {
		if strings.TrimSpace(c.Code) == "" {
			report.SkippedNoKey++
			u.logger.Warn("skipping course without code",
				"source", src, "error", &knowledge.MissingKeyError{RecordType: "course", Index: i})
			continue
		}
		if !u.claim("course:" + c.Code) {
			report.SkippedDuplicate++
			continue
		}
		if err := u.apply(report, "course", func() (bool, error) { return w.UpsertCourse(ctx, c) }); err != nil {
			return &knowledge.StoreWriteError{Source: src, Err: err}
		}
	}

	for i, ai := range batch.Infos {
		if strings.TrimSpace(ai.Title) == "" {
			report.SkippedNoKey++
			u.logger.Warn("skipping academic information without title",
				"source", src, "error", &knowledge.MissingKeyError{RecordType: "academic-information", Index: i})
			continue
		}
		if !u.claim("info:" + ai.Title + "|" + ai.Category) {
			report.SkippedDuplicate++
			continue
		}
		if err := u.apply(report, ai.Category, func() (bool, error) { return w.UpsertAcademicInformation(ctx, ai) }); err != nil {
			return &knowledge.StoreWriteError{Source: src, Err: err}
		}
	}
	return nil
}

func (u *Upserter) apply(report *Report, category string, op func() (bool, error)) error {
	inserted, err := op()
	if err != nil {
		return err
	}
	if inserted {
		report.Inserted++
	} else {
		report.Updated++
	}
	report.countCategory(category)
	return nil
}
