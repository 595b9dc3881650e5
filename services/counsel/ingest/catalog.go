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

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/splitter"
)

// =============================================================================
// Catalog Port
// =============================================================================

// IndexedSegment pairs a split segment with its embedding. Vector is nil
// when the segment's batch exhausted embedding retries; such segments are
// still written so the document stays browsable, flagged embedding_failed.
type IndexedSegment struct {
	Segment         splitter.Segment
	Vector          []float32
	EmbeddingFailed bool
}

// Catalog is the document/segment persistence consumed by the
// coordinator. The production implementation is Weaviate-backed.
type Catalog interface {
	// FindByHash returns the document with the given content hash, or
	// nil when none exists.
	FindByHash(ctx context.Context, hash string) (*datatypes.DocumentRecord, error)

	// CreateDocument writes the document record.
	CreateDocument(ctx context.Context, rec datatypes.DocumentRecord) error

	// WriteBatch writes one batch of segments atomically: either every
	// segment of the batch becomes visible to retrieval, or none.
	WriteBatch(ctx context.Context, doc datatypes.DocumentRecord, segments []IndexedSegment) error

	// FinishDocument records the final segment count and the
	// partially_indexed flag after all batches ran.
	FinishDocument(ctx context.Context, docID string, segmentCount int, partiallyIndexed bool) error

	// DeleteDocument removes the document and all its segments. Missing
	// ids are a no-op.
	DeleteDocument(ctx context.Context, docID string) error

	// ListDocuments returns all document records.
	ListDocuments(ctx context.Context) ([]datatypes.DocumentRecord, error)

	// Stats aggregates document and segment counts.
	Stats(ctx context.Context) (datatypes.IngestStats, error)
}
