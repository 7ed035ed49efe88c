package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/source"
)

// BuilderConfig carries the priority heuristic weights and the minimum
// entry size. Weights are configuration, not code: they come from
// config.IngestionConfig.
type BuilderConfig struct {
	MinEntryWords    int
	UrgencyBoost     int
	DeadlineBoost    int
	CourseCodeBoost  int
	LongContentBoost int
}

// DefaultBuilderConfig mirrors the config defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MinEntryWords:    3,
		UrgencyBoost:     2,
		DeadlineBoost:    1,
		CourseCodeBoost:  2,
		LongContentBoost: 1,
	}
}

// Builder splits normalized documents into discrete knowledge entries:
// one topic per entry, labelled with category, tags and priority.
type Builder struct {
	cfg    BuilderConfig
	tax    *Taxonomy
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil taxonomy uses DefaultTaxonomy.
func NewBuilder(cfg BuilderConfig, tax *Taxonomy, logger *slog.Logger) *Builder {
	if tax == nil {
		tax = DefaultTaxonomy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, tax: tax, logger: logger}
}

// Build segments doc into entries along structural boundaries (heading
// lines, blank-line runs). A document with no recognizable structure
// becomes a single entry. Segments below MinEntryWords are dropped.
func (b *Builder) Build(doc *source.Document) []knowledge.Entry {
	var entries []knowledge.Entry
	for _, seg := range segment(doc.Text) {
		if knowledge.CountWords(seg.body) < b.cfg.MinEntryWords {
			b.logger.Debug("discarding undersized segment",
				"source", doc.Source, "title", seg.title)
			continue
		}
		entries = append(entries, b.buildEntry(doc, seg))
	}
	return entries
}

func (b *Builder) buildEntry(doc *source.Document, seg segmentText) knowledge.Entry {
	category := b.tax.Categorize(doc.Source+" "+doc.CategoryHint, seg.title, seg.body)
	tags := b.tax.Tags(seg.title, seg.body)

	return knowledge.Entry{
		ID:             entryID(doc.Source, seg.title),
		Title:          seg.title,
		Content:        seg.body,
		Source:         doc.Source,
		Category:       category,
		Tags:           tags,
		Priority:       b.priority(category, seg.title, seg.body),
		WordCount:      knowledge.CountWords(seg.body),
		StructuredData: extractStructuredData(category, seg.body),
		IsActive:       true,
	}
}

// categoryPriorityBase overrides the default base priority for categories
// students ask about most.
var categoryPriorityBase = map[string]int{
	knowledge.CategoryCourseInfo:     10,
	knowledge.CategorySubjectInfo:    9,
	knowledge.CategoryPolicies:       8,
	knowledge.CategoryStudentSupport: 8,
	knowledge.CategoryEnrollment:     7,
	knowledge.CategoryFees:           7,
}

var (
	urgencyMarkers  = []string{"important", "critical", "mandatory", "must ", "required"}
	deadlineMarkers = []string{"deadline", "due date", "closing date", "census date", "last day"}
)

func (b *Builder) priority(category, title, body string) int {
	p, ok := categoryPriorityBase[category]
	if !ok {
		p = knowledge.DefaultPriority
	}

	text := strings.ToLower(title + "\n" + body)
	if containsAny(text, urgencyMarkers) {
		p += b.cfg.UrgencyBoost
	}
	if containsAny(text, deadlineMarkers) {
		p += b.cfg.DeadlineBoost
	}
	if len(ExtractCourseCodes(title+"\n"+body)) > 0 {
		p += b.cfg.CourseCodeBoost
	}
	if len(body) > 1000 {
		p += b.cfg.LongContentBoost
	}
	return knowledge.ClampPriority(p)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// entryID derives a stable identity from provenance and title so repeated
// ingestion of the same document updates rather than duplicates.
func entryID(src, title string) string {
	sum := sha256.Sum256([]byte(src + "|" + strings.ToLower(title)))
	return "kb-" + hex.EncodeToString(sum[:])[:16]
}

type segmentText struct {
	title string
	body  string
}

// segment splits normalized text into topic-sized sections. A heading-like
// line starts a new section titled by it; text before any heading becomes
// its own section titled by its first line.
func segment(text string) []segmentText {
	blocks := strings.Split(text, "\n\n")

	var (
		segments []segmentText
		current  *segmentText
	)
	flush := func() {
		if current == nil {
			return
		}
		current.body = strings.TrimSpace(current.body)
		if current.body != "" {
			segments = append(segments, *current)
		}
		current = nil
	}

	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if heading, rest, ok := splitHeading(block); ok {
			flush()
			current = &segmentText{title: heading, body: rest}
			continue
		}
		if current == nil {
			current = &segmentText{title: firstLineTitle(block)}
		}
		if current.body != "" {
			current.body += "\n\n"
		}
		current.body += block
	}
	flush()
	return segments
}

// splitHeading reports whether block starts with a heading-like line:
// short, no terminal sentence punctuation, not a list item.
func splitHeading(block string) (heading, rest string, ok bool) {
	line, tail, _ := strings.Cut(block, "\n")
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 80 {
		return "", "", false
	}
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return "", "", false
	}
	last := rune(line[len(line)-1])
	if last == '.' || last == ';' || last == ',' {
		return "", "", false
	}
	if !unicode.IsLetter(rune(line[0])) && !unicode.IsDigit(rune(line[0])) {
		return "", "", false
	}
	rest = strings.TrimSpace(tail)
	if rest == "" {
		// heading with no body of its own: the following blocks are the body
		return line, "", true
	}
	return line, rest, true
}

func firstLineTitle(block string) string {
	line, _, _ := strings.Cut(block, "\n")
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = strings.TrimSpace(line[:77]) + "..."
	}
	return line
}

// Structured-data extraction patterns, applied per category so a fees page
// yields amounts and a policy page yields its policy number.
var (
	creditPointsRe = regexp.MustCompile(`(?i)(\d{1,3})\s+credit\s+points?`)
	policyNumberRe = regexp.MustCompile(`(?i)policy\s+(?:number|no\.?)\s*[:#]?\s*([A-Z0-9./-]+)`)
	effectiveRe    = regexp.MustCompile(`(?i)effective\s+(?:from|date)\s*[:]?\s*([0-9]{1,2}\s+\w+\s+[0-9]{4}|[0-9]{4}-[0-9]{2}-[0-9]{2})`)
	dollarAmountRe = regexp.MustCompile(`\$[\d,]+(?:\.\d{2})?`)
)

// extractStructuredData pulls machine-usable facts out of the body text.
// Returns nil when nothing was found so the store writes NULL, not {}.
func extractStructuredData(category, body string) map[string]any {
	data := make(map[string]any)

	if codes := ExtractCourseCodes(body); len(codes) > 0 {
		data["courseCodes"] = codes
	}
	if m := creditPointsRe.FindStringSubmatch(body); m != nil {
		if cp, err := strconv.Atoi(m[1]); err == nil {
			data["creditPoints"] = cp
		}
	}

	switch category {
	case knowledge.CategoryPolicies:
		if m := policyNumberRe.FindStringSubmatch(body); m != nil {
			data["policyNumber"] = m[1]
		}
		if m := effectiveRe.FindStringSubmatch(body); m != nil {
			data["effectiveDate"] = m[1]
		}
	case knowledge.CategoryFees:
		if amounts := dollarAmountRe.FindAllString(body, 5); len(amounts) > 0 {
			data["amounts"] = amounts
		}
	}

	if len(data) == 0 {
		return nil
	}
	return data
}

// ContentHash fingerprints normalized content for duplicate suppression
// across a run: same text under two sources is ingested once.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.Join(strings.Fields(content), " ")))
	return fmt.Sprintf("%x", sum[:])
}
