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

import "time"

// =============================================================================
// Document Records
// =============================================================================

// DocumentCategory classifies an ingested source.
type DocumentCategory string

const (
	CategoryLaw              DocumentCategory = "LAW"
	CategoryRegulation       DocumentCategory = "REGULATION"
	CategoryCase             DocumentCategory = "CASE"
	CategoryContractTemplate DocumentCategory = "CONTRACT_TEMPLATE"
	CategoryGeneral          DocumentCategory = "GENERAL"
)

// ValidCategory reports whether c is one of the declared categories.
func ValidCategory(c DocumentCategory) bool {
	switch c {
	case CategoryLaw, CategoryRegulation, CategoryCase,
		CategoryContractTemplate, CategoryGeneral:
		return true
	}
	return false
}

// DocumentRecord is the persisted view of an ingested document. The id is
// derived from the content hash, so re-uploading identical bytes yields
// the same id.
type DocumentRecord struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	MimeType     string            `json:"mimeType"`
	Category     DocumentCategory  `json:"category"`
	ContentHash  string            `json:"contentHash"`
	SegmentCount int               `json:"segmentCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// Ingestion API Types
// =============================================================================

// IngestResult is the outcome of one ingestDocument call.
type IngestResult struct {
	DocumentID string `json:"docId"`
	Segments   int    `json:"segments"`

	// Deduplicated is true when the upload matched an existing content
	// hash and no new segments were written.
	Deduplicated bool `json:"deduplicated,omitempty"`

	// Warnings carries non-fatal conditions such as extractor notices or
	// partially_indexed batches.
	Warnings []string `json:"warnings,omitempty"`
}

// IngestStats is the aggregate returned by GET /documents/stats.
type IngestStats struct {
	Documents  int            `json:"documents"`
	Segments   int            `json:"segments"`
	ByCategory map[string]int `json:"byCategory"`
}
