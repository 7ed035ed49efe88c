package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/campusmate/campusmate/internal/knowledge"
)

// RecordError is a typed per-record parse failure. Parsers collect these
// instead of aborting the file: one malformed record never loses the rest.
type RecordError struct {
	Index int
	Kind  string // "entry", "school", "program", "course", "academic-information"
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s record %d: %v", e.Kind, e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// knowledgeFile is the exported knowledge file envelope.
type knowledgeFile struct {
	Category       string            `json:"category"`
	LastUpdated    string            `json:"lastUpdated"`
	TotalEntries   int               `json:"totalEntries"`
	TotalWordCount int               `json:"totalWordCount"`
	Entries        []json.RawMessage `json:"entries"`
}

type entryRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Source      string   `json:"source"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Priority    int      `json:"priority"`
	Tags        []string `json:"tags"`
	WordCount   int      `json:"wordCount"`
	LastUpdated string   `json:"lastUpdated"`
}

// ParseKnowledgeFile decodes one exported knowledge file. A file whose
// `entries` field is absent or not an array is rejected with a
// knowledge.FormatError; individually malformed entries become
// RecordErrors and the valid remainder is returned.
func ParseKnowledgeFile(data []byte, src string) ([]knowledge.Entry, []RecordError, error) {
	var file knowledgeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, &knowledge.FormatError{Source: src, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if file.Entries == nil {
		return nil, nil, &knowledge.FormatError{Source: src, Reason: "entries field absent or not an array"}
	}

	var (
		entries []knowledge.Entry
		recErrs []RecordError
	)
	for i, raw := range file.Entries {
		var rec entryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			recErrs = append(recErrs, RecordError{Index: i, Kind: "entry", Err: err})
			continue
		}
		if strings.TrimSpace(rec.Title) == "" || strings.TrimSpace(rec.Content) == "" {
			recErrs = append(recErrs, RecordError{Index: i, Kind: "entry",
				Err: fmt.Errorf("missing title or content")})
			continue
		}

		category := rec.Category
		if category == "" {
			category = file.Category
		}
		if category == "" {
			category = knowledge.CategoryGeneral
		}

		e := knowledge.Entry{
			ID:          rec.ID,
			Title:       rec.Title,
			Content:     rec.Content,
			Source:      orDefault(rec.Source, src),
			Category:    category,
			Subcategory: rec.Type,
			Tags:        rec.Tags,
			Priority:    knowledge.ClampPriority(orDefaultInt(rec.Priority, knowledge.DefaultPriority)),
			WordCount:   knowledge.CountWords(rec.Content),
			IsActive:    true,
		}
		if ts := parseTimestamp(rec.LastUpdated); !ts.IsZero() {
			e.LastUpdated = ts
		}
		entries = append(entries, e)
	}
	return entries, recErrs, nil
}

// AcademicBatch holds the typed records decoded from one academic
// records file, grouped for the upsert layer.
type AcademicBatch struct {
	Schools  []knowledge.School
	Programs []knowledge.Program
	Courses  []knowledge.Course
	Infos    []knowledge.AcademicInformation
}

// academicRecord is the tagged variant envelope: `type` selects the shape,
// the rest of the object is decoded per variant.
type academicRecord struct {
	Type string `json:"type"`

	// school
	ID          string `json:"id"`
	Name        string `json:"name"`
	ShortName   string `json:"shortName"`
	Faculty     string `json:"faculty"`
	Description string `json:"description"`
	Website     string `json:"website"`

	// program and course
	Code              string   `json:"code"`
	Title             string   `json:"title"`
	Level             string   `json:"level"`
	Duration          string   `json:"duration"`
	CreditPoints      int      `json:"creditPoints"`
	DeliveryMode      []string `json:"deliveryMode"`
	Campus            []string `json:"campus"`
	CareerOutcomes    string   `json:"careerOutcomes"`
	EntryRequirements string   `json:"entryRequirements"`
	LearningOutcomes  string   `json:"learningOutcomes"`
	AssessmentTasks   string   `json:"assessmentTasks"`
	HurdleRequirement string   `json:"hurdleRequirement"`
	Prerequisites     string   `json:"prerequisites"`
	Corequisites      string   `json:"corequisites"`
	Fees              string   `json:"fees"`
	CoordinatorName   string   `json:"coordinatorName"`
	CoordinatorEmail  string   `json:"coordinatorEmail"`
	CoordinatorPhone  string   `json:"coordinatorPhone"`
	SchoolID          *string  `json:"schoolId"`

	// academic information
	Content     string `json:"content"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Priority    int    `json:"priority"`

	Tags           []string       `json:"tags"`
	StructuredData map[string]any `json:"structuredData"`
	SourceURL      string         `json:"sourceUrl"`
}

// ParseAcademicRecords decodes a JSON array of tagged academic records.
// Unknown or malformed records become RecordErrors; a payload that is not
// an array at all is a FormatError.
func ParseAcademicRecords(data []byte, src string) (*AcademicBatch, []RecordError, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, nil, &knowledge.FormatError{Source: src, Reason: fmt.Sprintf("not a JSON array: %v", err)}
	}

	batch := &AcademicBatch{}
	var recErrs []RecordError
	for i, raw := range raws {
		var rec academicRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			recErrs = append(recErrs, RecordError{Index: i, Kind: "record", Err: err})
			continue
		}

		switch rec.Type {
		case "school":
			batch.Schools = append(batch.Schools, knowledge.School{
				ID:          rec.ID,
				Name:        rec.Name,
				ShortName:   rec.ShortName,
				Faculty:     rec.Faculty,
				Description: rec.Description,
				Website:     rec.Website,
			})
		case "program":
			level := rec.Level
			if level == "" && rec.Code != "" {
				level = knowledge.InferProgramLevel(rec.Code)
			}
			batch.Programs = append(batch.Programs, knowledge.Program{
				Code:              rec.Code,
				Title:             rec.Title,
				Level:             level,
				Duration:          rec.Duration,
				DeliveryMode:      rec.DeliveryMode,
				Campus:            rec.Campus,
				Description:       rec.Description,
				CareerOutcomes:    rec.CareerOutcomes,
				EntryRequirements: rec.EntryRequirements,
				Fees:              rec.Fees,
				CoordinatorName:   rec.CoordinatorName,
				CoordinatorEmail:  rec.CoordinatorEmail,
				CoordinatorPhone:  rec.CoordinatorPhone,
				StructuredData:    rec.StructuredData,
				Tags:              rec.Tags,
				SchoolID:          rec.SchoolID,
				SourceURL:         rec.SourceURL,
				IsActive:          true,
			})
		case "course":
			batch.Courses = append(batch.Courses, knowledge.Course{
				Code:              rec.Code,
				Title:             rec.Title,
				Level:             rec.Level,
				CreditPoints:      rec.CreditPoints,
				DeliveryMode:      rec.DeliveryMode,
				Campus:            rec.Campus,
				Description:       rec.Description,
				LearningOutcomes:  rec.LearningOutcomes,
				AssessmentTasks:   rec.AssessmentTasks,
				HurdleRequirement: rec.HurdleRequirement,
				Prerequisites:     rec.Prerequisites,
				Corequisites:      rec.Corequisites,
				CoordinatorName:   rec.CoordinatorName,
				CoordinatorEmail:  rec.CoordinatorEmail,
				CoordinatorPhone:  rec.CoordinatorPhone,
				StructuredData:    rec.StructuredData,
				Tags:              rec.Tags,
				SchoolID:          rec.SchoolID,
				SourceURL:         rec.SourceURL,
				IsActive:          true,
			})
		case "academic-information":
			batch.Infos = append(batch.Infos, knowledge.AcademicInformation{
				Title:          rec.Title,
				Content:        rec.Content,
				Category:       orDefault(rec.Category, knowledge.CategoryGeneral),
				Subcategory:    rec.Subcategory,
				Tags:           rec.Tags,
				Priority:       knowledge.ClampPriority(orDefaultInt(rec.Priority, knowledge.DefaultPriority)),
				StructuredData: rec.StructuredData,
				SourceURL:      rec.SourceURL,
				IsActive:       true,
			})
		case "":
			recErrs = append(recErrs, RecordError{Index: i, Kind: "record",
				Err: fmt.Errorf("missing type tag")})
		default:
			recErrs = append(recErrs, RecordError{Index: i, Kind: rec.Type,
				Err: fmt.Errorf("unknown record type %q", rec.Type)})
		}
	}
	return batch, recErrs, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// parseTimestamp accepts RFC3339 and a couple of date-only shapes the
// exporter has emitted over time.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
