// Package ingest turns normalized documents and exported JSON files into
// deduplicated knowledge entries and academic records, and applies them to
// the store in per-file transactions.
package ingest

import (
	"regexp"
	"sort"
	"strings"

	"github.com/campusmate/campusmate/internal/knowledge"
)

// Taxonomy classifies content into the knowledge-base categories and
// assigns tags from a controlled vocabulary. It is data, not code: callers
// may build their own, DefaultTaxonomy matches the source site.
type Taxonomy struct {
	categories []categoryDef
	tagVocab   []tagDef
}

// categoryDef holds the keywords scored for one category. Order matters:
// earlier categories win score ties, so the slice is kept in descending
// specificity.
type categoryDef struct {
	name     string
	keywords []string
}

type tagDef struct {
	tag      string
	keywords []string
}

// DefaultTaxonomy returns the category keyword sets and tag vocabulary for
// the university knowledge base.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{
		categories: []categoryDef{
			{knowledge.CategoryCourseInfo, []string{"program", "degree", "bachelor", "master", "diploma", "doctorate"}},
			{knowledge.CategorySubjectInfo, []string{"course", "subject", "unit", "prerequisite", "credit point"}},
			{knowledge.CategoryPolicies, []string{"policy", "policies", "procedure", "regulation", "academic integrity", "plagiarism", "misconduct"}},
			{knowledge.CategoryStudentSupport, []string{"support", "counselling", "wellbeing", "disability", "advocacy", "help"}},
			{knowledge.CategoryEnrollment, []string{"enrol", "enrolment", "enrollment", "admission", "apply", "application", "offer"}},
			{knowledge.CategoryFees, []string{"fee", "fees", "scholarship", "payment", "refund", "loan", "hecs"}},
			{knowledge.CategoryAcademicInfo, []string{"academic calendar", "timetable", "exam", "assessment", "results", "grade", "census"}},
			{knowledge.CategoryStudentLife, []string{"student life", "club", "society", "campus", "accommodation", "events"}},
			{knowledge.CategoryResearch, []string{"research", "phd", "thesis", "supervisor", "candidature"}},
			{knowledge.CategoryCareers, []string{"career", "employment", "internship", "job", "graduate outcomes"}},
			{knowledge.CategoryInternational, []string{"international", "visa", "overseas", "coe", "student visa"}},
			{knowledge.CategoryOnlineLearning, []string{"online", "canvas", "remote learning", "digital"}},
			{knowledge.CategoryFAQ, []string{"faq", "frequently asked", "questions"}},
			{knowledge.CategoryForms, []string{"form", "forms", "template"}},
			{knowledge.CategoryContact, []string{"contact", "phone", "email", "opening hours"}},
		},
		tagVocab: []tagDef{
			{"enrollment", []string{"enrol", "admission"}},
			{"fees", []string{"fee", "payment", "refund"}},
			{"scholarships", []string{"scholarship"}},
			{"deadlines", []string{"deadline", "due date", "closing date", "census date"}},
			{"exams", []string{"exam", "examination"}},
			{"assessment", []string{"assessment", "assignment"}},
			{"international", []string{"international", "visa"}},
			{"support", []string{"support", "counselling", "wellbeing"}},
			{"policy", []string{"policy", "procedure"}},
			{"graduation", []string{"graduation", "graduate ceremony"}},
		},
	}
}

// Keyword hit weights: where a keyword appears decides how much it counts.
const (
	sourceHitWeight = 3
	titleHitWeight  = 2
	bodyHitWeight   = 1
)

// Categorize scores every category's keywords against the source locator,
// title and body, and returns the best match. Nothing scoring at all falls
// back to general-information.
func (t *Taxonomy) Categorize(src, title, body string) string {
	src = strings.ToLower(src)
	title = strings.ToLower(title)
	body = strings.ToLower(body)

	best, bestScore := knowledge.CategoryGeneral, 0
	for _, c := range t.categories {
		score := 0
		for _, kw := range c.keywords {
			if strings.Contains(src, kw) {
				score += sourceHitWeight
			}
			if strings.Contains(title, kw) {
				score += titleHitWeight
			}
			if strings.Contains(body, kw) {
				score += bodyHitWeight
			}
		}
		if score > bestScore {
			best, bestScore = c.name, score
		}
	}
	return best
}

// Tags returns the controlled-vocabulary tags matching title or body,
// plus any extracted course codes, sorted and de-duplicated.
func (t *Taxonomy) Tags(title, body string) []string {
	haystack := strings.ToLower(title + "\n" + body)

	set := make(map[string]struct{})
	for _, td := range t.tagVocab {
		for _, kw := range td.keywords {
			if strings.Contains(haystack, kw) {
				set[td.tag] = struct{}{}
				break
			}
		}
	}
	for _, code := range ExtractCourseCodes(title + "\n" + body) {
		set[strings.ToLower(code)] = struct{}{}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Course code shapes used by the university: a department prefix plus a
// numeric suffix (COSC1234), or a single letter form (C4567).
var courseCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z]{2,4}\d{3,5}\b`),
	regexp.MustCompile(`\b[A-Z]\d{4,5}\b`),
}

// validCoursePrefixes filters out accidental matches like ISO9001 or room
// numbers. Single-letter codes are program plan identifiers and always pass.
var validCoursePrefixes = map[string]bool{
	"COSC": true, "MATH": true, "ISYS": true, "INTE": true, "OENG": true,
	"EEET": true, "MANU": true, "MIET": true, "CIVE": true, "AERO": true,
	"BUSM": true, "ACCT": true, "ECON": true, "MKTG": true, "LAW": true,
	"ARCH": true, "COMM": true, "GRAP": true, "ONPS": true, "BIOL": true,
	"CHEM": true, "PHYS": true, "HUSO": true, "SOCU": true, "EDUC": true,
	"NURS": true, "PUBH": true, "BP": true, "MC": true, "DR": true,
}

// ExtractCourseCodes returns the distinct course/program codes found in
// text, in order of first appearance.
func ExtractCourseCodes(text string) []string {
	seen := make(map[string]struct{})
	var codes []string
	for _, re := range courseCodePatterns {
		for _, m := range re.FindAllString(text, -1) {
			prefix := strings.TrimRight(m, "0123456789")
			if len(prefix) > 1 && !validCoursePrefixes[prefix] {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			codes = append(codes, m)
		}
	}
	return codes
}
