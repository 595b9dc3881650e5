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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/splitter"
)

// =============================================================================
// Fakes
// =============================================================================

type memCatalog struct {
	mu        sync.Mutex
	docs      map[string]datatypes.DocumentRecord // by id
	byHash    map[string]string                   // hash -> id
	segments  map[string][]IndexedSegment         // docID -> segments
	finished  map[string]bool
	partially map[string]bool
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		docs:      map[string]datatypes.DocumentRecord{},
		byHash:    map[string]string{},
		segments:  map[string][]IndexedSegment{},
		finished:  map[string]bool{},
		partially: map[string]bool{},
	}
}

func (m *memCatalog) FindByHash(_ context.Context, hash string) (*datatypes.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	rec := m.docs[id]
	rec.SegmentCount = len(m.segments[id])
	return &rec, nil
}

func (m *memCatalog) CreateDocument(_ context.Context, rec datatypes.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[rec.ID] = rec
	m.byHash[rec.ContentHash] = rec.ID
	return nil
}

func (m *memCatalog) WriteBatch(_ context.Context, doc datatypes.DocumentRecord, segs []IndexedSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[doc.ID] = append(m.segments[doc.ID], segs...)
	return nil
}

func (m *memCatalog) FinishDocument(_ context.Context, docID string, count int, partial bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[docID] = true
	m.partially[docID] = partial
	return nil
}

func (m *memCatalog) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.docs[docID]; ok {
		delete(m.byHash, rec.ContentHash)
	}
	delete(m.docs, docID)
	delete(m.segments, docID)
	return nil
}

func (m *memCatalog) ListDocuments(_ context.Context) ([]datatypes.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []datatypes.DocumentRecord
	for _, rec := range m.docs {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memCatalog) Stats(_ context.Context) (datatypes.IngestStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := datatypes.IngestStats{ByCategory: map[string]int{}}
	for _, rec := range m.docs {
		stats.Documents++
		stats.ByCategory[string(rec.Category)]++
	}
	for _, segs := range m.segments {
		stats.Segments += len(segs)
	}
	return stats, nil
}

func (m *memCatalog) segmentCount(docID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.segments[docID])
}

type countingEmbedder struct {
	mu       sync.Mutex
	calls    int
	failures int // fail the first N calls
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type memDeadLetter struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
}

func (d *memDeadLetter) Record(entry DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	return nil
}

func lawText(articles int) []byte {
	var b strings.Builder
	for i := 1; i <= articles; i++ {
		b.WriteString(splitter.NormalizeArticle("第" + splitter.FormatNumeral(i) + "条"))
		b.WriteString(" 本条内容用于测试目的，描述当事人之间的权利义务关系以及违约责任的承担方式。\n")
	}
	return []byte(b.String())
}

func newTestCoordinator(catalog Catalog, embedder *countingEmbedder, dlq DeadLetter) *Coordinator {
	return New(catalog, embedder, PlainTextExtractor{}, dlq, DefaultConfig(), nil)
}

// =============================================================================
// Tests
// =============================================================================

func TestIngestDocument(t *testing.T) {
	catalog := newMemCatalog()
	c := newTestCoordinator(catalog, &countingEmbedder{}, nil)

	result, err := c.IngestDocument(context.Background(), lawText(5), "text/plain",
		datatypes.CategoryLaw, map[string]string{"source_filename": "测试法.txt"})
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if result.Segments != 5 {
		t.Errorf("segments = %d, want 5", result.Segments)
	}
	if result.Deduplicated {
		t.Error("first ingest should not be deduplicated")
	}
	if catalog.segmentCount(result.DocumentID) != 5 {
		t.Errorf("catalog has %d segments", catalog.segmentCount(result.DocumentID))
	}
	if !catalog.finished[result.DocumentID] {
		t.Error("document was not finalized")
	}

	rec := catalog.docs[result.DocumentID]
	if rec.Title != "测试法" {
		t.Errorf("title = %q, want 测试法", rec.Title)
	}
}

// Uploading identical bytes twice returns the same id without growing the
// index.
func TestIngestDedup(t *testing.T) {
	catalog := newMemCatalog()
	embedder := &countingEmbedder{}
	c := newTestCoordinator(catalog, embedder, nil)

	data := lawText(3)
	first, err := c.IngestDocument(context.Background(), data, "text/plain", datatypes.CategoryLaw, nil)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	second, err := c.IngestDocument(context.Background(), data, "text/plain", datatypes.CategoryLaw, nil)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}

	if first.DocumentID != second.DocumentID {
		t.Errorf("ids differ: %s vs %s", first.DocumentID, second.DocumentID)
	}
	if !second.Deduplicated {
		t.Error("second ingest should report deduplication")
	}
	if got := catalog.segmentCount(first.DocumentID); got != 3 {
		t.Errorf("segment count grew to %d", got)
	}

	stats, _ := c.Stats(context.Background())
	if stats.Documents != 1 || stats.Segments != 3 {
		t.Errorf("stats = %+v, want 1 document / 3 segments", stats)
	}
}

func TestIngestRetriesTransientEmbedFailure(t *testing.T) {
	catalog := newMemCatalog()
	embedder := &countingEmbedder{failures: 2}
	c := newTestCoordinator(catalog, embedder, nil)

	result, err := c.IngestDocument(context.Background(), lawText(2), "text/plain", datatypes.CategoryLaw, nil)
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("recovered ingest should carry no warnings, got %v", result.Warnings)
	}
	if embedder.calls != 3 {
		t.Errorf("embedder called %d times, want 3 (two failures + success)", embedder.calls)
	}
}

// A persistently failing batch is dead-lettered; the document lands in a
// partially indexed state, and the call still succeeds with a warning.
func TestIngestDeadLettersPersistentFailure(t *testing.T) {
	catalog := newMemCatalog()
	embedder := &countingEmbedder{failures: 100}
	dlq := &memDeadLetter{}
	c := newTestCoordinator(catalog, embedder, dlq)

	result, err := c.IngestDocument(context.Background(), lawText(2), "text/plain", datatypes.CategoryLaw, nil)
	if err != nil {
		t.Fatalf("IngestDocument should succeed despite embedding failure: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a partial-indexing warning")
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("dead letter has %d entries, want 1", len(dlq.entries))
	}
	if !catalog.partially[result.DocumentID] {
		t.Error("document should be flagged partially indexed")
	}

	// Segments are still written, marked embedding_failed.
	for _, seg := range catalog.segments[result.DocumentID] {
		if !seg.EmbeddingFailed {
			t.Error("segment should be flagged embedding_failed")
		}
		if seg.Vector != nil {
			t.Error("failed segment should carry no vector")
		}
	}
}

func TestIngestBatchSize(t *testing.T) {
	catalog := newMemCatalog()
	embedder := &countingEmbedder{}
	c := newTestCoordinator(catalog, embedder, nil)

	// 40 articles with BatchSize 16 → 3 embedding calls.
	_, err := c.IngestDocument(context.Background(), lawText(40), "text/plain", datatypes.CategoryLaw, nil)
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if embedder.calls != 3 {
		t.Errorf("embedder called %d times, want 3", embedder.calls)
	}
}

func TestIngestInvalidInput(t *testing.T) {
	c := newTestCoordinator(newMemCatalog(), &countingEmbedder{}, nil)

	if _, err := c.IngestDocument(context.Background(), nil, "text/plain", datatypes.CategoryLaw, nil); !datatypes.IsKind(err, datatypes.KindInvalidInput) {
		t.Errorf("empty upload error = %v, want InvalidInput", err)
	}
	if _, err := c.IngestDocument(context.Background(), []byte("x"), "text/plain", "BOGUS", nil); !datatypes.IsKind(err, datatypes.KindInvalidInput) {
		t.Errorf("bad category error = %v, want InvalidInput", err)
	}
	if _, err := c.IngestDocument(context.Background(), []byte("内容"), "application/pdf", datatypes.CategoryLaw, nil); !datatypes.IsKind(err, datatypes.KindInvalidInput) {
		t.Errorf("unsupported mime error = %v, want InvalidInput", err)
	}
}

func TestDeleteDocumentMissingIsNoop(t *testing.T) {
	c := newTestCoordinator(newMemCatalog(), &countingEmbedder{}, nil)
	if err := c.DeleteDocument(context.Background(), "does-not-exist"); err != nil {
		t.Errorf("delete of missing document should be a no-op, got %v", err)
	}
}

func TestDeterministicID(t *testing.T) {
	a := DeterministicID("doc", "abc")
	b := DeterministicID("doc", "abc")
	if a != b {
		t.Errorf("ids differ for identical input: %s vs %s", a, b)
	}
	if a == DeterministicID("doc", "abd") {
		t.Error("different input produced the same id")
	}
	// Prefix separation: ("ab","c") must not collide with ("a","bc").
	if DeterministicID("ab", "c") == DeterministicID("a", "bc") {
		t.Error("part boundaries are not separated")
	}
}
