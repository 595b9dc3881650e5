// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Query Intent
// =============================================================================

// QueryType classifies a legal query by the structure the analyzer found
// in it.
type QueryType string

const (
	// QueryPreciseArticle means the query names a specific article.
	QueryPreciseArticle QueryType = "PRECISE_ARTICLE"

	// QueryChapterLevel means the query names a chapter but no article.
	QueryChapterLevel QueryType = "CHAPTER_LEVEL"

	// QuerySemantic means no structural reference was found.
	QuerySemantic QueryType = "SEMANTIC"

	// QueryComplex is declared for queries naming several distinct
	// law/article pairs. The analyzer currently records only the first
	// mention and classifies as PRECISE_ARTICLE, so this value is never
	// produced; the retriever treats it like SEMANTIC if it ever appears.
	QueryComplex QueryType = "COMPLEX"
)

// QueryIntent is the analyzer's structured view of a user query.
//
// # Description
//
// ArticleNumber, Chapter, and Section are normalized to canonical Chinese
// numeral form so they compare equal to indexed segment metadata. LawName
// is the short name with 《》 and the 中华人民共和国 prefix stripped.
type QueryIntent struct {
	OriginalQuery string    `json:"originalQuery"`
	LawName       string    `json:"lawName,omitempty"`
	ArticleNumber string    `json:"articleNumber,omitempty"`
	Chapter       string    `json:"chapter,omitempty"`
	Section       string    `json:"section,omitempty"`
	QueryType     QueryType `json:"queryType"`
}

// IsPrecise reports whether the query targets a structural location.
func (q QueryIntent) IsPrecise() bool {
	return q.QueryType == QueryPreciseArticle || q.QueryType == QueryChapterLevel
}

// HasExactMatchInfo reports whether both a law name and an article number
// were extracted, enabling the exact-match retrieval branch.
func (q QueryIntent) HasExactMatchInfo() bool {
	return q.LawName != "" && q.ArticleNumber != ""
}

// =============================================================================
// Scored Results
// =============================================================================

// ScoredSegment is one retrieval hit.
//
// PrecisionScore is 1.0 for exact article matches, 0.8 for chapter matches,
// and 0 for vector hits; Score is the fused ranking score (for exact
// branches it equals PrecisionScore).
type ScoredSegment struct {
	SegmentID      string         `json:"segmentId"`
	DocumentID     string         `json:"documentId"`
	DocumentTitle  string         `json:"documentTitle"`
	Text           string         `json:"text"`
	Ordinal        int            `json:"ordinal"`
	Score          float64        `json:"score"`
	PrecisionScore float64        `json:"precisionScore,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ArticleNumber returns the segment's article_number metadata, if any.
func (s ScoredSegment) ArticleNumber() string {
	v, _ := s.Metadata["article_number"].(string)
	return v
}

// SourceRef projects the segment into a citation for chat responses.
func (s ScoredSegment) SourceRef() SourceRef {
	snippet := s.Text
	if runes := []rune(snippet); len(runes) > 120 {
		snippet = string(runes[:120]) + "…"
	}
	chapter, _ := s.Metadata["chapter"].(string)
	return SourceRef{
		DocumentTitle: s.DocumentTitle,
		ArticleNumber: s.ArticleNumber(),
		Chapter:       chapter,
		Snippet:       snippet,
		Score:         s.Score,
	}
}
