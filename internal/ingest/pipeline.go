package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/source"
)

// FileKind selects the processing path for one input file.
type FileKind int

const (
	// KindAuto sniffs the kind from extension and content.
	KindAuto FileKind = iota
	// KindKnowledge is an exported knowledge file (JSON envelope with entries).
	KindKnowledge
	// KindAcademic is a JSON array of tagged academic records.
	KindAcademic
	// KindDocument is a raw document for the normalizer and entry builder.
	KindDocument
)

// File is one unit of ingestion work. Data may be pre-loaded; when nil the
// pipeline reads Path from disk.
type File struct {
	Path   string
	Data   []byte
	Kind   FileKind
	Format source.Format // only for KindDocument; sniffed when empty
}

// Batcher is the store surface the pipeline needs: per-file transactions.
type Batcher interface {
	WithinTx(ctx context.Context, fn func(knowledge.Writer) error) error
}

// Pipeline runs the full ingestion flow: normalize/parse files on a
// bounded worker pool, then apply each file's batch in its own
// transaction, in input order, through a single Upserter.
type Pipeline struct {
	store      Batcher
	normalizer *source.Normalizer
	builder    *Builder
	workers    int
	logger     *slog.Logger
}

// NewPipeline wires the ingestion stages together. workers bounds the
// concurrent parse/build stage; writes are always serialized.
func NewPipeline(store Batcher, normalizer *source.Normalizer, builder *Builder, workers int, logger *slog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      store,
		normalizer: normalizer,
		builder:    builder,
		workers:    workers,
		logger:     logger,
	}
}

// parsed is the output of the concurrent stage for one file.
type parsed struct {
	file     File
	entries  []knowledge.Entry
	academic *AcademicBatch
	recErrs  []RecordError
	err      error
}

// Run ingests files and returns the run report. Per-file failures
// (unparseable input, aborted transaction) are counted and logged, not
// fatal; only context cancellation stops the run early, leaving already
// committed files intact.
func (p *Pipeline) Run(ctx context.Context, files []File) (*Report, error) {
	report := NewReport()
	if len(files) == 0 {
		return report, nil
	}

	results := make([]parsed, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, f := range files {
		g.Go(func() error {
			results[i] = p.parseFile(gctx, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	upserter := NewUpserter(p.logger)
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p.applyFile(ctx, upserter, res, report)
	}

	report.Log(p.logger)
	return report, nil
}

func (p *Pipeline) parseFile(ctx context.Context, f File) parsed {
	res := parsed{file: f}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	data := f.Data
	if data == nil {
		var err error
		data, err = os.ReadFile(f.Path)
		if err != nil {
			res.err = fmt.Errorf("read %s: %w", f.Path, err)
			return res
		}
	}

	kind := f.Kind
	if kind == KindAuto {
		kind = detectKind(f.Path, data)
	}

	switch kind {
	case KindKnowledge:
		res.entries, res.recErrs, res.err = ParseKnowledgeFile(data, f.Path)
	case KindAcademic:
		res.academic, res.recErrs, res.err = ParseAcademicRecords(data, f.Path)
	case KindDocument:
		doc, err := p.normalizer.Normalize(data, f.Format, f.Path)
		if err != nil {
			res.err = err
			return res
		}
		res.entries = p.builder.Build(doc)
	default:
		res.err = &knowledge.FormatError{Source: f.Path, Reason: "unknown file kind"}
	}
	return res
}

// applyFile commits one file's batch in a transaction. The transaction is
// all-or-nothing per file: a write failure rolls the file back and moves on.
func (p *Pipeline) applyFile(ctx context.Context, upserter *Upserter, res parsed, report *Report) {
	if res.err != nil {
		report.FilesFailed++
		var formatErr *knowledge.FormatError
		if errors.As(res.err, &formatErr) {
			p.logger.Warn("skipping unparseable file", "path", res.file.Path, "error", res.err)
		} else {
			p.logger.Error("file ingestion failed", "path", res.file.Path, "error", res.err)
		}
		return
	}

	report.SkippedError += len(res.recErrs)
	report.RecordErrors = append(report.RecordErrors, res.recErrs...)
	for i := range res.recErrs {
		p.logger.Warn("skipping malformed record", "path", res.file.Path, "error", &res.recErrs[i])
	}

	// Counters accumulate in a per-file report so a rolled-back
	// transaction contributes nothing to the run totals.
	fileReport := NewReport()
	err := p.store.WithinTx(ctx, func(w knowledge.Writer) error {
		if res.academic != nil {
			return upserter.ApplyAcademic(ctx, w, res.file.Path, res.academic, fileReport)
		}
		return upserter.ApplyEntries(ctx, w, res.file.Path, res.entries, fileReport)
	})
	if err != nil {
		upserter.releaseClaims()
		report.FilesFailed++
		p.logger.Error("file batch rolled back", "path", res.file.Path, "error", err)
		return
	}
	upserter.commitClaims()
	report.Merge(fileReport)
	report.FilesProcessed++
	p.logger.Info("file ingested", "path", res.file.Path)
}

// detectKind distinguishes knowledge files, academic record arrays and raw
// documents by extension and JSON shape.
func detectKind(path string, data []byte) FileKind {
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return KindDocument
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return KindAcademic
	}
	var probe struct {
		Entries json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Entries != nil {
		return KindKnowledge
	}
	return KindAcademic
}
