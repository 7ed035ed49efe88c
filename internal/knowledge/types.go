package knowledge

import (
	"strings"
	"time"
)

// Category constants for the coarse buckets used across the knowledge base.
// The taxonomy mirrors the source site structure; CategoryGeneral is the
// fallback when nothing else matches.
const (
	CategoryCourseInfo     = "course-information"
	CategorySubjectInfo    = "subject-information"
	CategoryPolicies       = "academic-policies"
	CategoryStudentSupport = "student-support"
	CategoryEnrollment     = "enrollment"
	CategoryFees           = "fees-scholarships"
	CategoryAcademicInfo   = "academic-info"
	CategoryStudentLife    = "student-life"
	CategoryResearch       = "research"
	CategoryCareers        = "careers"
	CategoryInternational  = "international"
	CategoryOnlineLearning = "online-learning"
	CategoryFAQ            = "faq"
	CategoryForms          = "forms"
	CategoryContact        = "contact"
	CategoryGeneral        = "general-information"
)

// Priority bounds for knowledge entries. Higher means more important.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// EmbeddingDimension is the fixed dimensionality of stored vectors.
// The database schema declares vector(768); any embedder wired in must
// produce vectors of this size.
const EmbeddingDimension = 768

// Entry is one discrete, taggable, retrievable unit of knowledge.
// The zero value of optional fields means "absent": merge-style upserts
// preserve the stored value when the incoming field is zero.
type Entry struct {
	ID             string
	Title          string
	Content        string
	Source         string // origin file or URL
	Category       string
	Subcategory    string
	Tags           []string
	Priority       int // 1-10, higher wins ties
	WordCount      int // whitespace-delimited tokens in Content, derived at write time
	StructuredData map[string]any
	Embedding      []float32 // nil until computed
	IsActive       bool
	LastUpdated    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Scored pairs an entry with its retrieval scores.
type Scored struct {
	Entry      Entry
	Similarity float32 // cosine similarity against the query embedding, 0 if unembedded
	Score      float32 // composite ranking score
}

// School is an academic organisational unit. Programs and courses may
// reference one, but the reference is nullable: a record can be unaffiliated.
type School struct {
	ID          string
	Name        string
	ShortName   string
	Faculty     string
	Description string
	Website     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Program is a degree program keyed by its business code (e.g. BP094).
type Program struct {
	Code              string // unique business key
	Title             string
	Level             string // BACHELOR | MASTER | DOCTORATE | OTHER
	Duration          string
	DeliveryMode      []string
	Campus            []string
	Description       string
	CareerOutcomes    string
	EntryRequirements string
	Fees              string
	CoordinatorName   string
	CoordinatorEmail  string
	CoordinatorPhone  string
	StructuredData    map[string]any
	Tags              []string
	SchoolID          *string // nullable school reference
	SourceURL         string
	Embedding         []float32
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Course is a single unit of study keyed by its code (e.g. COSC1234).
type Course struct {
	Code              string // unique business key
	Title             string
	Level             string
	CreditPoints      int
	DeliveryMode      []string
	Campus            []string
	Description       string
	LearningOutcomes  string
	AssessmentTasks   string
	HurdleRequirement string
	Prerequisites     string
	Corequisites      string
	CoordinatorName   string
	CoordinatorEmail  string
	CoordinatorPhone  string
	StructuredData    map[string]any
	Tags              []string
	SchoolID          *string
	SourceURL         string
	Embedding         []float32
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AcademicInformation is a free-form academic record keyed by the
// title+category composite.
type AcademicInformation struct {
	Title          string
	Content        string
	Category       string
	Subcategory    string
	Tags           []string
	Priority       int
	StructuredData map[string]any
	SourceURL      string
	Embedding      []float32
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InferProgramLevel derives the program level from its code prefix.
// Used when the source record carries no explicit level.
func InferProgramLevel(code string) string {
	switch {
	case strings.HasPrefix(code, "BP"):
		return "BACHELOR"
	case strings.HasPrefix(code, "MC"):
		return "MASTER"
	case strings.HasPrefix(code, "DR"):
		return "DOCTORATE"
	default:
		return "OTHER"
	}
}

// CountWords counts whitespace-delimited tokens in s.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// ClampPriority forces p into the valid [MinPriority, MaxPriority] range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
