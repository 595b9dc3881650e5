// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeIndex struct {
	articleHits []datatypes.ScoredSegment
	articleErr  error
	chapterHits []datatypes.ScoredSegment
	nearestHits []datatypes.ScoredSegment
	nearestErr  error

	articleCalls int
	nearestCalls int
}

func (f *fakeIndex) ByArticle(_ context.Context, article, lawName string, k int) ([]datatypes.ScoredSegment, error) {
	f.articleCalls++
	return f.articleHits, f.articleErr
}

func (f *fakeIndex) ByChapter(_ context.Context, chapter, lawName string, k int) ([]datatypes.ScoredSegment, error) {
	return f.chapterHits, nil
}

func (f *fakeIndex) Nearest(_ context.Context, vector []float32, k int) ([]datatypes.ScoredSegment, error) {
	f.nearestCalls++
	return f.nearestHits, f.nearestErr
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func segment(id, article string, ordinal int, score float64) datatypes.ScoredSegment {
	md := map[string]any{}
	if article != "" {
		md["article_number"] = article
	}
	return datatypes.ScoredSegment{
		SegmentID:     id,
		DocumentID:    "doc-1",
		DocumentTitle: "民法典",
		Text:          article + " 正文",
		Ordinal:       ordinal,
		Score:         score,
		Metadata:      md,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestSearchExactBranch(t *testing.T) {
	idx := &fakeIndex{
		articleHits: []datatypes.ScoredSegment{
			segment("s2", "第一千一百九十八条", 5, 0),
			segment("s1", "第一千一百九十八条", 3, 0),
		},
	}
	r := New(idx, &fakeEmbedder{}, nil)

	hits, err := r.Search(context.Background(), "民法典第1198条", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	// Exact branch returns in ordinal order with precision 1.0 and never
	// touches the vector index.
	if hits[0].SegmentID != "s1" || hits[1].SegmentID != "s2" {
		t.Errorf("hits not in ordinal order: %s, %s", hits[0].SegmentID, hits[1].SegmentID)
	}
	for _, h := range hits {
		if h.PrecisionScore != 1.0 {
			t.Errorf("precision = %v, want 1.0", h.PrecisionScore)
		}
	}
	if idx.nearestCalls != 0 {
		t.Errorf("vector index called %d times on exact branch", idx.nearestCalls)
	}
}

// The anti-adjacency rule: a segment matching the requested article number
// must outrank every non-matching segment, regardless of cosine score.
func TestSearchAntiAdjacency(t *testing.T) {
	idx := &fakeIndex{
		// Exact lookup misses (article indexed without law-name metadata),
		// forcing the vector path where 第1197条 has the higher cosine.
		nearestHits: []datatypes.ScoredSegment{
			segment("s-1197", "第一千一百九十七条", 0, 0.99),
			segment("s-1199", "第一千一百九十九条", 2, 0.98),
			segment("s-1198", "第一千一百九十八条", 1, 0.90),
		},
	}
	r := New(idx, &fakeEmbedder{}, nil)

	hits, err := r.Search(context.Background(), "民法典第1198条", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	if hits[0].SegmentID != "s-1198" {
		t.Errorf("rank 1 = %s, want s-1198", hits[0].SegmentID)
	}
}

func TestSearchChapterBranch(t *testing.T) {
	idx := &fakeIndex{
		chapterHits: []datatypes.ScoredSegment{
			segment("c2", "第十四条", 9, 0),
			segment("c1", "第十三条", 8, 0),
		},
	}
	r := New(idx, &fakeEmbedder{}, nil)

	hits, err := r.Search(context.Background(), "民法典第二章有哪些规定", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].SegmentID != "c1" {
		t.Errorf("rank 1 = %s, want c1 (ordinal order)", hits[0].SegmentID)
	}
	for _, h := range hits {
		if h.PrecisionScore != 0.8 {
			t.Errorf("precision = %v, want 0.8", h.PrecisionScore)
		}
	}
}

func TestSearchVectorBoosts(t *testing.T) {
	plain := segment("plain", "", 0, 0.80)
	withArticle := segment("boosted", "第五条", 1, 0.75)

	idx := &fakeIndex{nearestHits: []datatypes.ScoredSegment{plain, withArticle}}
	r := New(idx, &fakeEmbedder{}, nil)

	hits, err := r.Search(context.Background(), "违约责任的一般规定", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// 0.75 + 0.1 article boost beats 0.80.
	if hits[0].SegmentID != "boosted" {
		t.Errorf("rank 1 = %s, want boosted", hits[0].SegmentID)
	}
}

func TestSearchTruncatesToK(t *testing.T) {
	var many []datatypes.ScoredSegment
	for i := 0; i < 20; i++ {
		many = append(many, segment("s", "", i, 0.5))
	}
	idx := &fakeIndex{nearestHits: many}
	r := New(idx, &fakeEmbedder{}, nil)

	hits, err := r.Search(context.Background(), "一般性法律问题", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 5 {
		t.Errorf("got %d hits, want 5", len(hits))
	}
}

func TestSearchEmptyResultIsSuccess(t *testing.T) {
	r := New(&fakeIndex{}, &fakeEmbedder{}, nil)
	hits, err := r.Search(context.Background(), "完全没有索引内容的问题", 5)
	if err != nil {
		t.Fatalf("empty result should not error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestSearchExactLookupErrorFallsThrough(t *testing.T) {
	idx := &fakeIndex{
		articleErr:  errors.New("index offline"),
		nearestHits: []datatypes.ScoredSegment{segment("v1", "第一千一百九十八条", 0, 0.9)},
	}
	r := New(idx, &fakeEmbedder{}, nil)

	hits, err := r.Search(context.Background(), "民法典第1198条", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].SegmentID != "v1" {
		t.Errorf("expected vector fallback hit, got %v", hits)
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	r := New(&fakeIndex{}, &fakeEmbedder{err: errors.New("embedder down")}, nil)
	_, err := r.Search(context.Background(), "一般问题", 5)
	if err == nil {
		t.Fatal("expected error when embedder fails with no exact results")
	}
	if !datatypes.IsKind(err, datatypes.KindTransient) {
		t.Errorf("error kind = %s, want Transient", datatypes.KindOf(err))
	}
}
