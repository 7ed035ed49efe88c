// Package prompt assembles the bounded payload handed to the chat model:
// a window of recent conversation history plus a budgeted block of ranked
// knowledge entries. Assembly is pure: same inputs, same payload.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/session"
)

// Config bounds the payload.
type Config struct {
	// HistoryMessages is the maximum number of trailing history messages
	// included, chronological order preserved.
	HistoryMessages int

	// BudgetChars caps the rendered size of the knowledge block.
	BudgetChars int

	// MinRelevance gates the knowledge block: when no ranked entry
	// reaches it, the payload is history-only.
	MinRelevance float32
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{HistoryMessages: 20, BudgetChars: 12000, MinRelevance: 0.25}
}

// Section is one knowledge entry included in the payload.
type Section struct {
	Title    string
	Content  string
	Category string
	Source   string
	Score    float32
}

// Payload is the assembled prompt material.
type Payload struct {
	History  []session.Message
	Sections []Section
}

// Assemble builds the payload from chronological history and
// rank-ordered entries.
//
// Entries are added in rank order and the loop stops before the next
// entry would exceed the budget; nothing is cut mid-entry, except that a
// top-ranked entry too large to fit on its own is truncated rather than
// dropped, so a relevant answer is never replaced by an empty block.
func Assemble(history []session.Message, ranked []knowledge.Scored, cfg Config) Payload {
	p := Payload{History: trailing(history, cfg.HistoryMessages)}

	if cfg.BudgetChars < 1 {
		return p
	}

	used := 0
	for _, s := range ranked {
		if s.Score < cfg.MinRelevance {
			continue
		}
		sec := Section{
			Title:    s.Entry.Title,
			Content:  s.Entry.Content,
			Category: s.Entry.Category,
			Source:   s.Entry.Source,
			Score:    s.Score,
		}
		cost := len(renderSection(sec))
		if len(p.Sections) > 0 {
			cost++ // separator line in the rendered block
		}
		if used+cost > cfg.BudgetChars {
			if len(p.Sections) == 0 {
				if t, ok := truncateToFit(sec, cfg.BudgetChars); ok {
					p.Sections = append(p.Sections, t)
				}
			}
			break
		}
		p.Sections = append(p.Sections, sec)
		used += cost
	}
	return p
}

// KnowledgeBlock renders the included sections. Its length never exceeds
// the budget Assemble was given.
func (p Payload) KnowledgeBlock() string {
	var sb strings.Builder
	for i, sec := range p.Sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(renderSection(sec))
	}
	return sb.String()
}

// HistoryBlock renders the history window, one line per turn.
func (p Payload) HistoryBlock() string {
	var sb strings.Builder
	for _, m := range p.History {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}

func renderSection(sec Section) string {
	return fmt.Sprintf("[%s] %s (%s)\n%s\n", sec.Category, sec.Title, sec.Source, sec.Content)
}

// truncateToFit shortens a section's content until its rendering fits the
// budget. Reports false when even an empty body would not fit.
func truncateToFit(sec Section, budget int) (Section, bool) {
	overhead := len(renderSection(Section{
		Title: sec.Title, Category: sec.Category, Source: sec.Source,
	}))
	room := budget - overhead
	if room < 1 {
		return Section{}, false
	}
	if room < len(sec.Content) {
		sec.Content = cutAtRune(sec.Content, room)
	}
	return sec, true
}

// cutAtRune truncates s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// trailing returns the last n elements, preserving order.
func trailing(msgs []session.Message, n int) []session.Message {
	if n < 1 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
