package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campusmate/campusmate/internal/ingest"
	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/source"
)

// ingestible lists the file extensions the pipeline understands.
var ingestible = map[string]bool{
	".json":     true,
	".md":       true,
	".markdown": true,
	".txt":      true,
	".html":     true,
	".htm":      true,
}

func newIngestCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ingest <path> [path...]",
		Short: "Index knowledge files into the database",
		Long: `Walks the given files and directories and indexes their content.

Structured JSON files (knowledge entry collections and academic record
batches) are applied as-is; text, Markdown and HTML documents are
normalized, segmented into entries and classified automatically. Each
file is applied in its own transaction, so one malformed file never
rolls back the rest of the batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the files that would be ingested and exit")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string, dryRun bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no ingestible files under %s", strings.Join(args, ", "))
	}

	if dryRun {
		for _, f := range files {
			fmt.Println(f.Path)
		}
		fmt.Printf("%d file(s) would be ingested\n", len(files))
		return nil
	}

	ctx := cmd.Context()
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := knowledge.New(pool, logger.With("component", "knowledge"))
	normalizer := source.NewNormalizer(logger.With("component", "source"))
	builder := ingest.NewBuilder(ingest.BuilderConfig{
		MinEntryWords:    cfg.Ingestion.MinEntryWords,
		UrgencyBoost:     cfg.Ingestion.UrgencyBoost,
		DeadlineBoost:    cfg.Ingestion.DeadlineBoost,
		CourseCodeBoost:  cfg.Ingestion.CourseCodeBoost,
		LongContentBoost: cfg.Ingestion.LongContentBoost,
	}, nil, logger.With("component", "builder"))

	pipeline := ingest.NewPipeline(store, normalizer, builder,
		cfg.Ingestion.Workers, logger.With("component", "ingest"))

	report, err := pipeline.Run(ctx, files)
	if err != nil {
		return fmt.Errorf("running ingestion: %w", err)
	}

	fmt.Println(report.Summary())
	for _, re := range report.RecordErrors {
		fmt.Printf("  record %d (%s): %v\n", re.Index, re.Kind, re.Err)
	}
	if report.FilesFailed > 0 {
		return fmt.Errorf("%d file(s) failed", report.FilesFailed)
	}
	return nil
}

// collectFiles expands the argument paths into the flat file list the
// pipeline consumes. Directories are walked recursively; hidden
// directories and unknown extensions are skipped.
func collectFiles(paths []string) ([]ingest.File, error) {
	var files []ingest.File
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !ingestible[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			files = append(files, ingest.File{Path: path})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	return files, nil
}
