// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package splitter segments legal documents into hierarchy-aware,
// token-bounded chunks.
//
// Chinese statutes follow a fixed structure: 编 (book) > 章 (chapter) >
// 节 (section) > 条 (article). The splitter walks the text line by line,
// tracks the running hierarchy context, and emits one segment per article
// with the full context attached as metadata. Articles that exceed the
// token budget are sub-split at sentence boundaries with a character
// overlap. Documents without article markers (contracts, memos) fall back
// to a recursive character splitter.
//
// Split is a pure function of (text, category, config): deterministic,
// no I/O, safe for concurrent use.
package splitter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// =============================================================================
// Types & Configuration
// =============================================================================

// Category classifies a source document. Hierarchy scanning is only
// meaningful for statute-like categories.
type Category string

const (
	CategoryLaw              Category = "LAW"
	CategoryRegulation       Category = "REGULATION"
	CategoryCase             Category = "CASE"
	CategoryContractTemplate Category = "CONTRACT_TEMPLATE"
	CategoryGeneral          Category = "GENERAL"
)

// Metadata keys attached to emitted segments.
const (
	MetaBook          = "book"
	MetaChapter       = "chapter"
	MetaSection       = "section"
	MetaArticleNumber = "article_number"
	MetaPart          = "part"
	MetaTotalParts    = "total_parts"
	MetaOverlapChars  = "overlap_chars"
	MetaSplitType     = "split_type"
	MetaCategory      = "category"

	SplitTypeArticle   = "article"
	SplitTypeParagraph = "paragraph"
)

// Config holds splitter tuning parameters.
type Config struct {
	// MaxTokens is the target token budget per segment. Default: 512.
	MaxTokens int

	// OverlapChars is the number of characters (runes) duplicated at each
	// sub-split cut. Default: 50.
	OverlapChars int

	// MinChunkChars drops segments whose trimmed length is below this,
	// unless they carry an article number. Default: 30.
	MinChunkChars int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     512,
		OverlapChars:  50,
		MinChunkChars: 30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.OverlapChars < 0 {
		c.OverlapChars = d.OverlapChars
	}
	if c.MinChunkChars <= 0 {
		c.MinChunkChars = d.MinChunkChars
	}
	return c
}

// Segment is one retrieval atom produced by the splitter. The ingestion
// coordinator assigns document identity; the splitter only knows text.
type Segment struct {
	// Ordinal is the 0-based position within the document.
	Ordinal int

	// Text is the segment content, trimmed.
	Text string

	// EstimatedTokens is the byte-based token estimate for Text.
	EstimatedTokens int

	// Metadata carries hierarchy context and split bookkeeping.
	Metadata map[string]any
}

// ErrEmptyText is returned when the input is empty after trimming.
var ErrEmptyText = errors.New("splitter: input text is empty")

// =============================================================================
// Token Estimation
// =============================================================================

// EstimateTokens returns ceil(byteLen/3), the contract estimator for
// Chinese-dominant text. One CJK rune is three UTF-8 bytes, and local
// tokenizers average roughly one token per CJK character.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 2) / 3
}

// =============================================================================
// Structure Patterns
// =============================================================================

// cnClass matches numeral bodies in either script.
const cnClass = `[0-9零〇一二三四五六七八九十百千两]+`

var (
	reBook    = regexp.MustCompile(`^\s*(第` + cnClass + `编)\s*(\S.*)?$`)
	reChapter = regexp.MustCompile(`^\s*(第` + cnClass + `章)\s*(\S.*)?$`)
	reSection = regexp.MustCompile(`^\s*(第` + cnClass + `节)\s*(\S.*)?$`)
	reArticle = regexp.MustCompile(`^\s*第(` + cnClass + `)条`)

	// reAnyArticle is used for the law-like heuristic on non-statute
	// categories.
	reAnyArticle = regexp.MustCompile(`(?m)^\s*第` + cnClass + `条`)
)

// hierarchy is the running (book, chapter, section) context during the scan.
// A newly recognized higher level resets all lower levels.
type hierarchy struct {
	book    string
	chapter string
	section string
}

// =============================================================================
// Split
// =============================================================================

// Split segments text into ordered, token-bounded segments with hierarchy
// metadata.
//
// # Description
//
// For statute-like input (category LAW/REGULATION, or any text with at
// least two article markers) the splitter emits one segment per 第…条
// article, carrying normalized article numbers and the enclosing
// book/chapter/section headings. Oversized articles are sub-split at
// sentence boundaries with OverlapChars duplicated at each cut; every
// part inherits the article metadata plus part/total_parts.
//
// When no articles are detected the text is split by paragraph runs using
// a recursive character splitter and segments carry split_type=paragraph.
//
// Segments shorter than MinChunkChars (trimmed, in runes) are dropped
// unless they carry an article number.
//
// # Inputs
//
//   - text: Plain UTF-8 document text.
//   - category: Document category; drives the hierarchy pre-scan.
//   - cfg: Tuning parameters; zero values use defaults.
//
// # Outputs
//
//   - []Segment: Ordered segments with strictly increasing ordinals.
//   - error: ErrEmptyText when text is empty after trimming, or a wrapped
//     error from the fallback splitter.
func Split(text string, category Category, cfg Config) ([]Segment, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	lawLike := category == CategoryLaw || category == CategoryRegulation
	if !lawLike {
		lawLike = len(reAnyArticle.FindAllStringIndex(text, 2)) >= 2
	}

	var segments []Segment
	if lawLike {
		articles := scanArticles(text)
		for _, a := range articles {
			segments = append(segments, expandArticle(a, cfg)...)
		}
	}

	if len(segments) == 0 {
		fallback, err := splitParagraphs(text, cfg)
		if err != nil {
			return nil, err
		}
		segments = fallback
	}

	segments = filterAndNumber(segments, category, cfg)
	return segments, nil
}

// article is one detected 第…条 block with its hierarchy context.
type article struct {
	number string // normalized, e.g. 第三十条
	text   string // full article text including the marker line
	ctx    hierarchy
}

// scanArticles walks the text line by line, tracking headings and
// collecting article bodies. An article extends until the next article
// or heading.
func scanArticles(text string) []article {
	var (
		articles []article
		ctx      hierarchy
		current  *article
		body     strings.Builder
	)

	flush := func() {
		if current == nil {
			return
		}
		current.text = strings.TrimSpace(body.String())
		articles = append(articles, *current)
		current = nil
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case reBook.MatchString(line):
			flush()
			ctx = hierarchy{book: headingLabel(line, reBook, "编")}
		case reChapter.MatchString(line):
			flush()
			ctx.chapter = headingLabel(line, reChapter, "章")
			ctx.section = ""
		case reSection.MatchString(line):
			flush()
			ctx.section = headingLabel(line, reSection, "节")
		case reArticle.MatchString(line):
			flush()
			m := reArticle.FindStringSubmatch(line)
			current = &article{
				number: NormalizeLabel("第"+m[1]+"条", "条"),
				ctx:    ctx,
			}
			body.WriteString(strings.TrimSpace(line))
		default:
			if current != nil && strings.TrimSpace(line) != "" {
				body.WriteString("\n")
				body.WriteString(strings.TrimSpace(line))
			}
		}
	}
	flush()
	return articles
}

// headingLabel rebuilds a heading line as "<canonical label> <title>",
// e.g. "第2章 自然人" → "第二章 自然人".
func headingLabel(line string, re *regexp.Regexp, suffix string) string {
	m := re.FindStringSubmatch(line)
	label := NormalizeLabel(m[1], suffix)
	title := ""
	if len(m) > 2 {
		title = strings.TrimSpace(m[2])
	}
	if title == "" {
		return label
	}
	return label + " " + title
}

// expandArticle turns one article into one or more segments, sub-splitting
// when the article exceeds the token budget.
func expandArticle(a article, cfg Config) []Segment {
	base := func() map[string]any {
		md := map[string]any{
			MetaArticleNumber: a.number,
			MetaSplitType:     SplitTypeArticle,
		}
		if a.ctx.book != "" {
			md[MetaBook] = a.ctx.book
		}
		if a.ctx.chapter != "" {
			md[MetaChapter] = a.ctx.chapter
		}
		if a.ctx.section != "" {
			md[MetaSection] = a.ctx.section
		}
		return md
	}

	budgetBytes := cfg.MaxTokens * 3
	if len(a.text) <= budgetBytes {
		return []Segment{{
			Text:            a.text,
			EstimatedTokens: EstimateTokens(a.text),
			Metadata:        base(),
		}}
	}

	cores := splitByBudget(a.text, budgetBytes)
	segments := make([]Segment, 0, len(cores))
	// EstimateTokens(overlap+core) must stay within the 1.2 tolerance,
	// so the overlap gets only the bytes the core left unused.
	maxPartBytes := cfg.MaxTokens*6/5*3 - 2
	for i, core := range cores {
		text := core
		overlapRunes := 0
		if i > 0 && cfg.OverlapChars > 0 && maxPartBytes > len(core) {
			prefix := tailRunes(cores[i-1], cfg.OverlapChars, maxPartBytes-len(core))
			overlapRunes = len([]rune(prefix))
			text = prefix + core
		}
		md := base()
		md[MetaPart] = i + 1
		md[MetaTotalParts] = len(cores)
		if overlapRunes > 0 {
			md[MetaOverlapChars] = overlapRunes
		}
		segments = append(segments, Segment{
			Text:            text,
			EstimatedTokens: EstimateTokens(text),
			Metadata:        md,
		})
	}
	return segments
}

// sentenceEnders terminate a sentence for sub-splitting purposes.
const sentenceEnders = "。！？；\n"

// splitByBudget cuts text into contiguous pieces of at most budgetBytes,
// preferring sentence boundaries. Concatenating the pieces reproduces the
// input exactly.
func splitByBudget(text string, budgetBytes int) []string {
	sentences := splitSentences(text)

	var (
		parts   []string
		current strings.Builder
	)
	for _, s := range sentences {
		// A single oversized sentence is hard-split by runes.
		if len(s) > budgetBytes {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			parts = append(parts, hardSplit(s, budgetBytes)...)
			continue
		}
		if current.Len()+len(s) > budgetBytes && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// splitSentences splits text after each sentence terminator, keeping the
// terminator attached. The pieces concatenate back to the input.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i, r := range text {
		if strings.ContainsRune(sentenceEnders, r) {
			end := i + len(string(r))
			out = append(out, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// hardSplit cuts a string into budgetBytes-sized pieces at rune boundaries.
func hardSplit(s string, budgetBytes int) []string {
	var (
		out   []string
		cur   strings.Builder
	)
	for _, r := range s {
		if cur.Len()+len(string(r)) > budgetBytes && cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// tailRunes returns up to maxRunes trailing runes of s, additionally
// capped at maxBytes so the overlap never blows the token tolerance.
func tailRunes(s string, maxRunes, maxBytes int) string {
	runes := []rune(s)
	if len(runes) > maxRunes {
		runes = runes[len(runes)-maxRunes:]
	}
	out := string(runes)
	for len(out) > maxBytes {
		_, size := utf8.DecodeRuneInString(out)
		out = out[size:]
	}
	return out
}

// =============================================================================
// Paragraph Fallback
// =============================================================================

// fallbackSeparators are tried in order: blank line, newline, Chinese and
// English sentence terminators, then arbitrary character.
var fallbackSeparators = []string{"\n\n", "\n", "。", "！", "？", ".", "!", "?", " ", ""}

// splitParagraphs splits non-statute text with a recursive character
// splitter. Chunk size is measured in characters, which for CJK text
// tracks the byte/3 token estimator closely.
func splitParagraphs(text string, cfg Config) ([]Segment, error) {
	sp := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxTokens),
		textsplitter.WithChunkOverlap(cfg.OverlapChars),
		textsplitter.WithSeparators(fallbackSeparators),
	)
	chunks, err := sp.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("recursive split failed: %w", err)
	}

	segments := make([]Segment, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:            chunk,
			EstimatedTokens: EstimateTokens(chunk),
			Metadata: map[string]any{
				MetaSplitType: SplitTypeParagraph,
			},
		})
	}
	return segments, nil
}

// =============================================================================
// Post-processing
// =============================================================================

// filterAndNumber applies the quality filter, stamps the category, and
// assigns final ordinals.
func filterAndNumber(segments []Segment, category Category, cfg Config) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		trimmed := strings.TrimSpace(s.Text)
		_, hasArticle := s.Metadata[MetaArticleNumber]
		if len([]rune(trimmed)) < cfg.MinChunkChars && !hasArticle {
			continue
		}
		s.Text = trimmed
		s.EstimatedTokens = EstimateTokens(trimmed)
		if category != "" {
			s.Metadata[MetaCategory] = string(category)
		}
		s.Ordinal = len(out)
		out = append(out, s)
	}
	return out
}
