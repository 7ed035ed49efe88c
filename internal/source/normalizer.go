// Package source turns raw documents (plain text, Markdown, HTML,
// PDF-extracted text) into normalized plain text with provenance metadata.
// It is the first stage of the ingestion pipeline: one document in, one
// normalized Document out, or a knowledge.FormatError the caller logs
// and skips.
package source

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"

	"github.com/campusmate/campusmate/internal/knowledge"
)

// Format identifies the declared or sniffed input format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDFText  Format = "pdf-text" // text pre-extracted by an external converter
	FormatUnknown  Format = ""
)

// Document is the normalizer output: plain text plus provenance.
type Document struct {
	Text         string
	Source       string // origin file path or URL
	CategoryHint string // raw hint from directory or first heading, resolved later
}

// Normalizer converts raw documents into plain text.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize converts raw into plain text. An empty format is sniffed from
// the source name and content. Undecodable input yields a FormatError.
func (n *Normalizer) Normalize(raw []byte, format Format, src string) (*Document, error) {
	if len(raw) == 0 {
		return nil, &knowledge.FormatError{Source: src, Reason: "empty document"}
	}
	if !utf8.Valid(raw) || bytes.ContainsRune(raw, 0) {
		return nil, &knowledge.FormatError{Source: src, Reason: "not valid UTF-8 text"}
	}

	if format == FormatUnknown {
		format = SniffFormat(raw, src)
	}

	var (
		plain string
		err   error
	)
	switch format {
	case FormatHTML:
		plain, err = stripHTML(raw)
		if err != nil {
			return nil, &knowledge.FormatError{Source: src, Reason: fmt.Sprintf("html parse: %v", err)}
		}
	case FormatMarkdown:
		plain = flattenMarkdown(raw)
	case FormatText, FormatPDFText:
		plain = string(raw)
	default:
		return nil, &knowledge.FormatError{Source: src, Reason: fmt.Sprintf("unsupported format %q", format)}
	}

	plain = normalizeWhitespace(plain)
	if plain == "" {
		return nil, &knowledge.FormatError{Source: src, Reason: "no textual content"}
	}

	doc := &Document{
		Text:         plain,
		Source:       src,
		CategoryHint: categoryHint(src, plain),
	}
	n.logger.Debug("normalized document",
		"source", src, "format", format, "chars", len(plain))
	return doc, nil
}

// SniffFormat guesses the format from the file extension, falling back to
// content inspection.
func SniffFormat(raw []byte, src string) Format {
	switch strings.ToLower(filepath.Ext(src)) {
	case ".html", ".htm":
		return FormatHTML
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt":
		return FormatText
	}

	head := strings.ToLower(string(raw[:min(len(raw), 512)]))
	trimmed := strings.TrimSpace(head)
	if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") ||
		strings.Contains(head, "<body") {
		return FormatHTML
	}
	if strings.HasPrefix(trimmed, "#") || strings.Contains(head, "\n## ") ||
		strings.Contains(head, "\n- ") {
		return FormatMarkdown
	}
	return FormatText
}

// stripHTML removes markup, scripts and style blocks, preserving block
// boundaries as line breaks so the entry builder can segment on them.
func stripHTML(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, head").Remove()

	var sb strings.Builder
	root := doc.Selection.Nodes
	for _, node := range root {
		renderNodeText(&sb, node)
	}
	return sb.String(), nil
}

// blockTags are HTML elements whose boundaries become section breaks.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "table": true, "ul": true, "ol": true,
	"blockquote": true, "header": true, "footer": true, "main": true,
}

func renderNodeText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
	case html.ElementNode:
		if n.Data == "br" {
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNodeText(sb, c)
	}
	if n.Type == html.ElementNode && blockTags[n.Data] {
		sb.WriteString("\n\n")
	}
}

// flattenMarkdown walks the goldmark AST and emits plain prose: header and
// emphasis markers are dropped, block boundaries become blank lines.
func flattenMarkdown(raw []byte) string {
	parser := goldmark.New().Parser()
	root := parser.Parse(text.NewReader(raw))

	var sb strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := n.(*ast.Text); ok {
				sb.Write(t.Segment.Value(raw))
				if t.SoftLineBreak() || t.HardLineBreak() {
					sb.WriteString("\n")
				}
			}
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeBlock {
			sb.WriteString("\n\n")
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// normalizeWhitespace trims trailing spaces per line and collapses runs of
// blank lines into a single section break.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var (
		out        []string
		blankCount int
	)
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			blankCount++
			continue
		}
		if blankCount > 0 && len(out) > 0 {
			out = append(out, "")
		}
		blankCount = 0
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// categoryHint extracts a raw hint for the entry builder: the parent
// directory name when meaningful, otherwise the first heading-like line.
func categoryHint(src, plain string) string {
	dir := filepath.Base(filepath.Dir(src))
	if dir != "" && dir != "." && dir != "/" {
		return strings.ToLower(dir)
	}
	if i := strings.IndexByte(plain, '\n'); i > 0 {
		return strings.ToLower(strings.TrimSpace(plain[:i]))
	}
	return ""
}
