// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval classifies legal queries and retrieves segments with
// a hybrid of exact metadata lookup and vector similarity.
package retrieval

import (
	"regexp"
	"strings"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/splitter"
)

// =============================================================================
// Query Analyzer
// =============================================================================

const numeralClass = `[0-9零〇一二三四五六七八九十百千两]+`

var (
	reBookTitle    = regexp.MustCompile(`《([^》]+)》`)
	reArticleRef   = regexp.MustCompile(`第(` + numeralClass + `)条`)
	reChapterRef   = regexp.MustCompile(`第(` + numeralClass + `)章`)
	reSectionRef   = regexp.MustCompile(`第(` + numeralClass + `)节`)
	reLawNameTail  = regexp.MustCompile(`(法典|法|条例|规定|办法|解释|细则)$`)
	prcPrefix      = "中华人民共和国"
	maxLawNameRune = 30
)

// Analyze parses a user query into a structured QueryIntent.
//
// # Description
//
// Pure function: no I/O, deterministic. Law names are taken from 《》
// book-title marks when present, otherwise inferred from the text
// immediately preceding the first 第…条 reference when it ends in a
// statute suffix (法, 法典, 条例, ...). The 中华人民共和国 prefix is
// stripped in both cases. Article, chapter, and section references are
// normalized to canonical Chinese numeral form.
//
// Queries naming several law/article pairs would classify as COMPLEX; the
// current analyzer records only the first mention and still returns
// PRECISE_ARTICLE.
//
// # Inputs
//
//   - query: Raw user query text.
//
// # Outputs
//
//   - datatypes.QueryIntent: Extracted structure plus query type.
func Analyze(query string) datatypes.QueryIntent {
	intent := datatypes.QueryIntent{
		OriginalQuery: query,
		QueryType:     datatypes.QuerySemantic,
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return intent
	}

	intent.LawName = extractLawName(trimmed)

	if m := reArticleRef.FindStringSubmatch(trimmed); m != nil {
		intent.ArticleNumber = splitter.NormalizeArticle("第" + m[1] + "条")
	}
	if m := reChapterRef.FindStringSubmatch(trimmed); m != nil {
		intent.Chapter = splitter.NormalizeLabel("第"+m[1]+"章", "章")
	}
	if m := reSectionRef.FindStringSubmatch(trimmed); m != nil {
		intent.Section = splitter.NormalizeLabel("第"+m[1]+"节", "节")
	}

	switch {
	case intent.ArticleNumber != "":
		intent.QueryType = datatypes.QueryPreciseArticle
	case intent.Chapter != "":
		intent.QueryType = datatypes.QueryChapterLevel
	default:
		intent.QueryType = datatypes.QuerySemantic
	}
	return intent
}

// extractLawName pulls the statute short name out of the query.
func extractLawName(query string) string {
	if m := reBookTitle.FindStringSubmatch(query); m != nil {
		return strings.TrimPrefix(strings.TrimSpace(m[1]), prcPrefix)
	}

	// Without book-title marks, look at the text right before the first
	// structural reference: "民法典第1198条" names 民法典.
	loc := reArticleRef.FindStringIndex(query)
	if loc == nil {
		loc = reChapterRef.FindStringIndex(query)
	}
	if loc == nil {
		return ""
	}
	prefix := strings.TrimSpace(query[:loc[0]])
	prefix = strings.TrimPrefix(prefix, prcPrefix)

	// Take the longest suffix run that still looks like a statute name:
	// scan back from the end to the last non-name character.
	runes := []rune(prefix)
	start := len(runes)
	for start > 0 && isLawNameRune(runes[start-1]) {
		start--
	}
	name := string(runes[start:])
	for _, lead := range queryLeadIns {
		name = strings.TrimPrefix(name, lead)
	}
	name = strings.TrimPrefix(name, prcPrefix)
	if name == "" || len([]rune(name)) > maxLawNameRune {
		return ""
	}
	if !reLawNameTail.MatchString(name) {
		return ""
	}
	return name
}

// queryLeadIns are interrogative openers that bleed into the backward
// scan when the query has no punctuation, e.g. "请解释民法典第10条".
var queryLeadIns = []string{"请问", "请解释", "请说明", "解释一下", "解释", "什么是", "关于", "根据", "依据", "查询", "查一下"}

// isLawNameRune accepts CJK characters; punctuation and ASCII terminate
// the backward scan.
func isLawNameRune(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}
