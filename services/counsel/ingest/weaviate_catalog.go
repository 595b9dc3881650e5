// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/splitter"
)

// =============================================================================
// Weaviate Catalog
// =============================================================================

// WeaviateCatalog persists documents and segments in the LegalDocument
// and LegalSegment classes.
type WeaviateCatalog struct {
	client *weaviate.Client
	log    *slog.Logger
}

func NewWeaviateCatalog(client *weaviate.Client, log *slog.Logger) *WeaviateCatalog {
	if log == nil {
		log = slog.Default()
	}
	return &WeaviateCatalog{client: client, log: log}
}

// DeterministicID derives a stable UUID from arbitrary content bytes.
// Identical input always maps to the same object id, which is what makes
// re-ingestion idempotent at the index level.
func DeterministicID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	id, _ := uuid.FromBytes(sum[:16])
	return id.String()
}

var documentFields = []graphql.Field{
	{Name: "title"},
	{Name: "mime_type"},
	{Name: "category"},
	{Name: "content_hash"},
	{Name: "segment_count"},
	{Name: "partially_indexed"},
	{Name: "created_at"},
	{Name: "updated_at"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

// FindByHash implements Catalog.
func (w *WeaviateCatalog) FindByHash(ctx context.Context, hash string) (*datatypes.DocumentRecord, error) {
	where := filters.Where().
		WithPath([]string{"content_hash"}).
		WithOperator(filters.Equal).
		WithValueText(hash)

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.ClassLegalDocument).
		WithFields(documentFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("hash lookup failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LegalDocumentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hash lookup: %w", err)
	}
	if len(parsed.Get.LegalDocument) == 0 {
		return nil, nil
	}
	rec := parsed.Get.LegalDocument[0].ToDocumentRecord()
	return &rec, nil
}

// CreateDocument implements Catalog.
func (w *WeaviateCatalog) CreateDocument(ctx context.Context, rec datatypes.DocumentRecord) error {
	_, err := w.client.Data().Creator().
		WithClassName(datatypes.ClassLegalDocument).
		WithID(rec.ID).
		WithProperties(map[string]any{
			"title":             rec.Title,
			"mime_type":         rec.MimeType,
			"category":          string(rec.Category),
			"content_hash":      rec.ContentHash,
			"segment_count":     0,
			"partially_indexed": false,
			"created_at":        rec.CreatedAt.UnixMilli(),
			"updated_at":        rec.UpdatedAt.UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create document record: %w", err)
	}
	return nil
}

// WriteBatch implements Catalog. Segment ids derive from the document id,
// ordinal, and text, so a retried batch overwrites rather than duplicates.
func (w *WeaviateCatalog) WriteBatch(ctx context.Context, doc datatypes.DocumentRecord, segments []IndexedSegment) error {
	if len(segments) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(segments))
	for i, seg := range segments {
		id := DeterministicID(doc.ID, fmt.Sprintf("%d", seg.Segment.Ordinal), seg.Segment.Text)
		objects[i] = &models.Object{
			Class:      datatypes.ClassLegalSegment,
			ID:         strfmt.UUID(id),
			Vector:     seg.Vector,
			Properties: segmentProperties(doc, seg),
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save segment batch: %w", err)
	}

	for _, item := range resp {
		if item.Result == nil || item.Result.Status == nil || *item.Result.Status != "SUCCESS" {
			if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch item failed: %s", item.Result.Errors.Error[0].Message)
			}
			return fmt.Errorf("batch item failed with unknown status")
		}
	}
	return nil
}

func segmentProperties(doc datatypes.DocumentRecord, seg IndexedSegment) map[string]any {
	props := map[string]any{
		"content":          seg.Segment.Text,
		"document_id":      doc.ID,
		"document_title":   doc.Title,
		"ordinal":          seg.Segment.Ordinal,
		"estimated_tokens": seg.Segment.EstimatedTokens,
		"category":         string(doc.Category),
		"embedding_failed": seg.EmbeddingFailed,
	}
	md := seg.Segment.Metadata
	if v, ok := md[splitter.MetaBook].(string); ok {
		props["book"] = v
	}
	if v, ok := md[splitter.MetaChapter].(string); ok {
		props["chapter"] = v
	}
	if v, ok := md[splitter.MetaSection].(string); ok {
		props["section"] = v
	}
	if v, ok := md[splitter.MetaArticleNumber].(string); ok {
		props["article_number"] = v
	}
	if v, ok := md[splitter.MetaPart].(int); ok {
		props["part"] = v
	}
	if v, ok := md[splitter.MetaTotalParts].(int); ok {
		props["total_parts"] = v
	}
	if v, ok := md[splitter.MetaSplitType].(string); ok {
		props["split_type"] = v
	}
	if v, ok := doc.Metadata["source_filename"]; ok {
		props["source_filename"] = v
	}
	return props
}

// FinishDocument implements Catalog.
func (w *WeaviateCatalog) FinishDocument(ctx context.Context, docID string, segmentCount int, partiallyIndexed bool) error {
	err := w.client.Data().Updater().
		WithClassName(datatypes.ClassLegalDocument).
		WithID(docID).
		WithProperties(map[string]any{
			"segment_count":     segmentCount,
			"partially_indexed": partiallyIndexed,
			"updated_at":        time.Now().UnixMilli(),
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to finalize document record: %w", err)
	}
	return nil
}

// DeleteDocument implements Catalog. Segments go first so a crash between
// the two deletes never strands segments without a parent filter.
func (w *WeaviateCatalog) DeleteDocument(ctx context.Context, docID string) error {
	where := filters.Where().
		WithPath([]string{"document_id"}).
		WithOperator(filters.Equal).
		WithValueText(docID)

	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ClassLegalSegment).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}

	err = w.client.Data().Deleter().
		WithClassName(datatypes.ClassLegalDocument).
		WithID(docID).
		Do(ctx)
	if err != nil {
		// Missing document is a no-op per the delete contract.
		w.log.Debug("Document delete returned error, treating missing as no-op",
			"docID", docID, "error", err)
	}
	return nil
}

// ListDocuments implements Catalog.
func (w *WeaviateCatalog) ListDocuments(ctx context.Context) ([]datatypes.DocumentRecord, error) {
	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.ClassLegalDocument).
		WithFields(documentFields...).
		WithLimit(1000).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("document list failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LegalDocumentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document list: %w", err)
	}
	records := make([]datatypes.DocumentRecord, 0, len(parsed.Get.LegalDocument))
	for _, hit := range parsed.Get.LegalDocument {
		records = append(records, hit.ToDocumentRecord())
	}
	return records, nil
}

// Stats implements Catalog via two Aggregate queries: documents grouped
// by category, segments as a flat count.
func (w *WeaviateCatalog) Stats(ctx context.Context) (datatypes.IngestStats, error) {
	stats := datatypes.IngestStats{ByCategory: map[string]int{}}

	docResult, err := w.client.GraphQL().Aggregate().
		WithClassName(datatypes.ClassLegalDocument).
		WithGroupBy("category").
		WithFields(
			graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}},
			graphql.Field{Name: "groupedBy", Fields: []graphql.Field{{Name: "value"}}},
		).
		Do(ctx)
	if err != nil {
		return stats, fmt.Errorf("document aggregate failed: %w", err)
	}
	docParsed, err := datatypes.ParseGraphQLResponse[datatypes.AggregateCountResponse](docResult)
	if err != nil {
		return stats, fmt.Errorf("failed to parse document aggregate: %w", err)
	}
	for _, group := range docParsed.Aggregate[datatypes.ClassLegalDocument] {
		stats.Documents += group.Meta.Count
		if group.GroupedBy != nil {
			stats.ByCategory[group.GroupedBy.Value] += group.Meta.Count
		}
	}

	segResult, err := w.client.GraphQL().Aggregate().
		WithClassName(datatypes.ClassLegalSegment).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return stats, fmt.Errorf("segment aggregate failed: %w", err)
	}
	segParsed, err := datatypes.ParseGraphQLResponse[datatypes.AggregateCountResponse](segResult)
	if err != nil {
		return stats, fmt.Errorf("failed to parse segment aggregate: %w", err)
	}
	for _, group := range segParsed.Aggregate[datatypes.ClassLegalSegment] {
		stats.Segments += group.Meta.Count
	}
	return stats, nil
}
