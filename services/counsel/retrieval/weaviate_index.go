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
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// Weaviate Index
// =============================================================================

// WeaviateIndex implements Index over the LegalSegment class.
type WeaviateIndex struct {
	client *weaviate.Client
	log    *slog.Logger
}

// NewWeaviateIndex wraps a connected client.
func NewWeaviateIndex(client *weaviate.Client, log *slog.Logger) *WeaviateIndex {
	if log == nil {
		log = slog.Default()
	}
	return &WeaviateIndex{client: client, log: log}
}

// segmentFields is the projection used by every segment query.
var segmentFields = []graphql.Field{
	{Name: "content"},
	{Name: "document_id"},
	{Name: "document_title"},
	{Name: "ordinal"},
	{Name: "book"},
	{Name: "chapter"},
	{Name: "section"},
	{Name: "article_number"},
	{Name: "part"},
	{Name: "total_parts"},
	{Name: "split_type"},
	{Name: "source_filename"},
	{Name: "category"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

// ByArticle implements the exact-match branch: article_number equality
// plus a law-name match on either the document title or the source
// filename. Results come back in ordinal order.
func (w *WeaviateIndex) ByArticle(ctx context.Context, article, lawName string, k int) ([]datatypes.ScoredSegment, error) {
	articleFilter := filters.Where().
		WithPath([]string{"article_number"}).
		WithOperator(filters.Equal).
		WithValueText(article)

	where := articleFilter
	if lawName != "" {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{articleFilter, lawNameFilter(lawName)})
	}

	return w.query(ctx, where, k, true)
}

// ByChapter filters on the chapter heading. Chapter metadata stores the
// full heading line ("第二章 自然人"), so the label is matched as a prefix.
func (w *WeaviateIndex) ByChapter(ctx context.Context, chapter, lawName string, k int) ([]datatypes.ScoredSegment, error) {
	chapterFilter := filters.Where().
		WithPath([]string{"chapter"}).
		WithOperator(filters.Like).
		WithValueText(chapter + "*")

	where := chapterFilter
	if lawName != "" {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{chapterFilter, lawNameFilter(lawName)})
	}

	return w.query(ctx, where, k, true)
}

// Nearest runs an ANN search and reports certainty as the raw score.
func (w *WeaviateIndex) Nearest(ctx context.Context, vector []float32, k int) ([]datatypes.ScoredSegment, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.ClassLegalSegment).
		WithFields(segmentFields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate nearVector search failed: %w", err)
	}

	return parseSegments(result)
}

// lawNameFilter matches the law short name against the denormalized
// document title or the original filename.
func lawNameFilter(lawName string) *filters.WhereBuilder {
	pattern := "*" + lawName + "*"
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"document_title"}).
				WithOperator(filters.Like).
				WithValueText(pattern),
			filters.Where().
				WithPath([]string{"source_filename"}).
				WithOperator(filters.Like).
				WithValueText(pattern),
		})
}

func (w *WeaviateIndex) query(ctx context.Context, where *filters.WhereBuilder, k int, byOrdinal bool) ([]datatypes.ScoredSegment, error) {
	get := w.client.GraphQL().Get().
		WithClassName(datatypes.ClassLegalSegment).
		WithFields(segmentFields...).
		WithWhere(where).
		WithLimit(k)
	if byOrdinal {
		get = get.WithSort(graphql.Sort{Path: []string{"ordinal"}, Order: graphql.Asc})
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate filtered query failed: %w", err)
	}
	return parseSegments(result)
}

func parseSegments(result *models.GraphQLResponse) ([]datatypes.ScoredSegment, error) {
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LegalSegmentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse segment results: %w", err)
	}
	segments := make([]datatypes.ScoredSegment, 0, len(parsed.Get.LegalSegment))
	for _, hit := range parsed.Get.LegalSegment {
		segments = append(segments, hit.ToScoredSegment())
	}
	return segments, nil
}
