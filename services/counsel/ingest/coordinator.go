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
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/splitter"
	"github.com/clauselens/clauselens/services/llm"
)

var tracer = otel.Tracer("clauselens.counsel.ingest")

// =============================================================================
// Configuration
// =============================================================================

// Config holds ingestion tuning parameters.
type Config struct {
	// BatchSize is the number of segments per embedding request.
	// Default: 16.
	BatchSize int

	// EmbedRetries is the retry budget per batch. Default: 3.
	EmbedRetries int

	// Splitter is passed through to the legal splitter.
	Splitter splitter.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    16,
		EmbedRetries: 3,
		Splitter:     splitter.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.EmbedRetries <= 0 {
		c.EmbedRetries = d.EmbedRetries
	}
	return c
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator runs the ingestion pipeline. Concurrent ingests of distinct
// documents proceed in parallel; identical content hashes are
// single-flighted so the second caller shares the first's result.
type Coordinator struct {
	catalog   Catalog
	embedder  llm.Embedder
	extractor TextExtractor
	dlq       DeadLetter
	cfg       Config
	log       *slog.Logger
	flight    singleflight.Group
}

// New builds a Coordinator. dlq may be nil, in which case failed batches
// are only logged.
func New(catalog Catalog, embedder llm.Embedder, extractor TextExtractor, dlq DeadLetter, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		catalog:   catalog,
		embedder:  embedder,
		extractor: extractor,
		dlq:       dlq,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// IngestDocument ingests raw bytes end to end.
//
// # Description
//
// Computes the sha-256 content hash first. If a document with the same
// hash already exists, returns its id without touching the index. New
// content is extracted, split, embedded in batches, and written with
// per-batch atomicity. A batch whose embedding persistently fails is
// dead-lettered and written without vectors (embedding_failed=true); the
// document is then flagged partially_indexed and the call still succeeds
// with a warning.
//
// # Inputs
//
//   - ctx: Cancellation and deadline.
//   - data: Raw upload bytes.
//   - mime: MIME type passed to the extractor.
//   - category: Document category; empty defaults to GENERAL.
//   - meta: Optional metadata; source_filename and title are honored.
//
// # Outputs
//
//   - datatypes.IngestResult: Document id, segment count, dedup flag,
//     warnings.
//   - error: InvalidInput for empty/undecodable payloads, or a wrapped
//     pipeline error.
func (c *Coordinator) IngestDocument(ctx context.Context, data []byte, mime string, category datatypes.DocumentCategory, meta map[string]string) (datatypes.IngestResult, error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestDocument")
	defer span.End()

	if len(data) == 0 {
		return datatypes.IngestResult{}, datatypes.NewError(datatypes.KindInvalidInput, "empty upload")
	}
	if category == "" {
		category = datatypes.CategoryGeneral
	}
	if !datatypes.ValidCategory(category) {
		return datatypes.IngestResult{}, datatypes.NewError(datatypes.KindInvalidInput,
			"unknown category %q", category)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	span.SetAttributes(
		attribute.String("doc.hash", hash[:12]),
		attribute.Int("doc.bytes", len(data)),
	)

	v, err, shared := c.flight.Do(hash, func() (any, error) {
		return c.ingestLocked(ctx, data, mime, category, meta, hash)
	})
	if err != nil {
		return datatypes.IngestResult{}, err
	}
	result := v.(datatypes.IngestResult)
	if shared {
		result.Deduplicated = true
	}
	return result, nil
}

// ingestLocked runs under the single-flight lock for one content hash.
func (c *Coordinator) ingestLocked(ctx context.Context, data []byte, mime string, category datatypes.DocumentCategory, meta map[string]string, hash string) (datatypes.IngestResult, error) {
	existing, err := c.catalog.FindByHash(ctx, hash)
	if err != nil {
		return datatypes.IngestResult{}, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if existing != nil {
		c.log.Info("Skipping ingestion of known content",
			"docID", existing.ID, "hash", hash[:12])
		return datatypes.IngestResult{
			DocumentID:   existing.ID,
			Segments:     existing.SegmentCount,
			Deduplicated: true,
		}, nil
	}

	text, warnings, err := c.extractor.Extract(ctx, data, mime)
	if err != nil {
		return datatypes.IngestResult{}, err
	}

	segments, err := splitter.Split(text, splitter.Category(category), c.cfg.Splitter)
	if err != nil {
		return datatypes.IngestResult{}, datatypes.WrapError(datatypes.KindInvalidInput, err, "splitting failed")
	}

	doc := buildDocumentRecord(hash, mime, category, meta)
	if err := c.catalog.CreateDocument(ctx, doc); err != nil {
		return datatypes.IngestResult{}, err
	}

	written, failedBatches, err := c.writeBatches(ctx, doc, segments)
	if err != nil {
		return datatypes.IngestResult{}, err
	}

	partiallyIndexed := failedBatches > 0
	if err := c.catalog.FinishDocument(ctx, doc.ID, written, partiallyIndexed); err != nil {
		return datatypes.IngestResult{}, err
	}
	if partiallyIndexed {
		warnings = append(warnings, fmt.Sprintf("%d embedding batch(es) dead-lettered; document is partially indexed", failedBatches))
	}

	c.log.Info("Document ingested",
		"docID", doc.ID, "segments", written, "failedBatches", failedBatches)
	return datatypes.IngestResult{
		DocumentID: doc.ID,
		Segments:   written,
		Warnings:   warnings,
	}, nil
}

// writeBatches embeds and persists segments in batches. Returns the total
// written segment count and the number of dead-lettered batches.
func (c *Coordinator) writeBatches(ctx context.Context, doc datatypes.DocumentRecord, segments []splitter.Segment) (int, int, error) {
	written := 0
	failedBatches := 0

	for start := 0; start < len(segments); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(segments) {
			end = len(segments)
		}
		batch := segments[start:end]
		batchIndex := start / c.cfg.BatchSize

		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Text
		}

		vectors, err := c.embedWithRetry(ctx, texts)
		indexed := make([]IndexedSegment, len(batch))
		if err != nil {
			if ctx.Err() != nil {
				return written, failedBatches, ctx.Err()
			}
			c.log.Error("Embedding batch exhausted retries, dead-lettering",
				"docID", doc.ID, "batch", batchIndex, "error", err)
			c.recordDeadLetter(doc.ID, batchIndex, batch, err)
			failedBatches++
			for i, seg := range batch {
				indexed[i] = IndexedSegment{Segment: seg, EmbeddingFailed: true}
			}
		} else {
			for i, seg := range batch {
				indexed[i] = IndexedSegment{Segment: seg, Vector: vectors[i]}
			}
		}

		if err := c.catalog.WriteBatch(ctx, doc, indexed); err != nil {
			return written, failedBatches, fmt.Errorf("batch %d write failed: %w", batchIndex, err)
		}
		written += len(batch)
	}
	return written, failedBatches, nil
}

// embedWithRetry retries transient embedding failures with jittered
// exponential backoff: 100ms, 200ms, 400ms base delays.
func (c *Coordinator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.EmbedRetries; attempt++ {
		if attempt > 0 {
			base := 100 * time.Millisecond << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(base / 2)))
			select {
			case <-time.After(base + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vectors, err := c.embedder.Embed(ctx, texts)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
			}
			return vectors, nil
		}
		lastErr = err
		c.log.Warn("Embedding attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *Coordinator) recordDeadLetter(docID string, batchIndex int, batch []splitter.Segment, cause error) {
	if c.dlq == nil {
		return
	}
	ordinals := make([]int, len(batch))
	for i, seg := range batch {
		ordinals[i] = seg.Ordinal
	}
	entry := DeadLetterEntry{
		DocumentID: docID,
		BatchIndex: batchIndex,
		Ordinals:   ordinals,
		Reason:     cause.Error(),
		RecordedAt: time.Now(),
	}
	if err := c.dlq.Record(entry); err != nil {
		c.log.Error("Failed to record dead-letter entry", "docID", docID, "error", err)
	}
}

// DeleteDocument removes a document and its segments. Missing ids are a
// no-op.
func (c *Coordinator) DeleteDocument(ctx context.Context, docID string) error {
	ctx, span := tracer.Start(ctx, "ingest.DeleteDocument")
	defer span.End()
	return c.catalog.DeleteDocument(ctx, docID)
}

// ListDocuments returns the catalog's document records.
func (c *Coordinator) ListDocuments(ctx context.Context) ([]datatypes.DocumentRecord, error) {
	return c.catalog.ListDocuments(ctx)
}

// Stats returns aggregate corpus counts.
func (c *Coordinator) Stats(ctx context.Context) (datatypes.IngestStats, error) {
	ctx, span := tracer.Start(ctx, "ingest.Stats")
	defer span.End()
	return c.catalog.Stats(ctx)
}

// buildDocumentRecord derives identity and display fields for a new
// document. The id is the content hash folded into a UUID, so identical
// bytes always produce the same id.
func buildDocumentRecord(hash, mime string, category datatypes.DocumentCategory, meta map[string]string) datatypes.DocumentRecord {
	now := time.Now()
	title := meta["title"]
	filename := meta["source_filename"]
	if title == "" && filename != "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	if title == "" {
		title = "untitled-" + hash[:8]
	}

	rec := datatypes.DocumentRecord{
		ID:          DeterministicID("doc", hash),
		Title:       title,
		MimeType:    mime,
		Category:    category,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if filename != "" {
		rec.Metadata = map[string]string{"source_filename": filename}
	}
	return rec
}
