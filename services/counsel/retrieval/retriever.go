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
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

var tracer = otel.Tracer("clauselens.counsel.retrieval")

// =============================================================================
// Ports
// =============================================================================

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector/metadata store consumed by the retriever.
type Index interface {
	// ByArticle returns segments whose article_number equals article and
	// whose source matches lawName, in ordinal order.
	ByArticle(ctx context.Context, article, lawName string, k int) ([]datatypes.ScoredSegment, error)

	// ByChapter returns segments under the given chapter heading.
	ByChapter(ctx context.Context, chapter, lawName string, k int) ([]datatypes.ScoredSegment, error)

	// Nearest returns the top-k segments by cosine similarity; Score
	// carries the raw similarity.
	Nearest(ctx context.Context, vector []float32, k int) ([]datatypes.ScoredSegment, error)
}

// =============================================================================
// Scoring Constants
// =============================================================================

const (
	precisionExact   = 1.0
	precisionChapter = 0.8

	// Metadata boosts applied to vector hits.
	boostHasArticle  = 0.1
	boostLawNameHit  = 0.05
	minVectorFanout  = 20
)

// =============================================================================
// Retriever
// =============================================================================

// Retriever combines exact metadata lookup with ANN vector search.
type Retriever struct {
	index    Index
	embedder Embedder
	log      *slog.Logger
}

// New builds a Retriever. A nil logger falls back to slog.Default.
func New(index Index, embedder Embedder, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{index: index, embedder: embedder, log: log}
}

// Search retrieves the top-k segments for a query.
//
// # Description
//
// The query is analyzed first. When it names a specific law and article,
// an exact metadata lookup runs and short-circuits on any hit with
// precision 1.0. Chapter-level queries do the same over the chapter
// heading with precision 0.8. Everything else falls through to vector
// search over max(k, 20) candidates with small metadata boosts.
//
// For precise-article queries a segment matching the requested article is
// never outranked by one that does not, regardless of cosine similarity.
// This keeps 第1197条 from shadowing 第1198条 on near-identical text.
//
// An empty result is a success. Vector-index failures degrade to the
// exact-match results when any exist; otherwise the error is returned.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]datatypes.ScoredSegment, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()

	if k <= 0 {
		k = 5
	}
	intent := Analyze(query)
	span.SetAttributes(
		attribute.String("query.type", string(intent.QueryType)),
		attribute.String("query.article", intent.ArticleNumber),
		attribute.String("query.law", intent.LawName),
		attribute.Int("query.k", k),
	)

	if intent.HasExactMatchInfo() {
		hits, err := r.index.ByArticle(ctx, intent.ArticleNumber, intent.LawName, k)
		if err != nil {
			span.RecordError(err)
			r.log.Warn("exact article lookup failed, continuing to vector search",
				"article", intent.ArticleNumber, "error", err)
		} else if len(hits) > 0 {
			for i := range hits {
				hits[i].PrecisionScore = precisionExact
				hits[i].Score = precisionExact
			}
			sortByOrdinal(hits)
			return hits, nil
		}
	}

	if intent.QueryType == datatypes.QueryChapterLevel && intent.Chapter != "" {
		hits, err := r.index.ByChapter(ctx, intent.Chapter, intent.LawName, k)
		if err != nil {
			span.RecordError(err)
			r.log.Warn("chapter lookup failed, continuing to vector search",
				"chapter", intent.Chapter, "error", err)
		} else if len(hits) > 0 {
			for i := range hits {
				hits[i].PrecisionScore = precisionChapter
				hits[i].Score = precisionChapter
			}
			sortByOrdinal(hits)
			return hits, nil
		}
	}

	hits, err := r.vectorSearch(ctx, intent, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search failed")
		return nil, err
	}
	return hits, nil
}

// vectorSearch embeds the query, fans out to max(k, 20) candidates,
// applies metadata boosts, and enforces the precise-article ordering.
func (r *Retriever) vectorSearch(ctx context.Context, intent datatypes.QueryIntent, k int) ([]datatypes.ScoredSegment, error) {
	ctx, span := tracer.Start(ctx, "retrieval.vectorSearch")
	defer span.End()

	vectors, err := r.embedder.Embed(ctx, []string{intent.OriginalQuery})
	if err != nil {
		return nil, datatypes.WrapError(datatypes.KindTransient, err, "embedding query")
	}
	if len(vectors) == 0 {
		return nil, datatypes.NewError(datatypes.KindInternal, "embedder returned no vectors")
	}

	fanout := k
	if fanout < minVectorFanout {
		fanout = minVectorFanout
	}
	hits, err := r.index.Nearest(ctx, vectors[0], fanout)
	if err != nil {
		return nil, datatypes.WrapError(datatypes.KindTransient, err, "vector index search")
	}

	for i := range hits {
		final := hits[i].Score
		if hits[i].ArticleNumber() != "" {
			final += boostHasArticle
		}
		if intent.LawName != "" && sourceMatchesLaw(hits[i], intent.LawName) {
			final += boostLawNameHit
		}
		hits[i].Score = final
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if intent.QueryType == datatypes.QueryPreciseArticle {
			im := hits[i].ArticleNumber() == intent.ArticleNumber
			jm := hits[j].ArticleNumber() == intent.ArticleNumber
			if im != jm {
				return im
			}
		}
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sourceMatchesLaw(s datatypes.ScoredSegment, lawName string) bool {
	if strings.Contains(s.DocumentTitle, lawName) {
		return true
	}
	filename, _ := s.Metadata["source_filename"].(string)
	return strings.Contains(filename, lawName)
}

func sortByOrdinal(hits []datatypes.ScoredSegment) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Ordinal < hits[j].Ordinal
	})
}
