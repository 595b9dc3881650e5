// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package review

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/ingest"
)

var tracer = otel.Tracer("clauselens.counsel.review")

// =============================================================================
// Configuration
// =============================================================================

// EngineConfig bounds the review pipeline.
type EngineConfig struct {
	// Deadline bounds one full review run. Default: 25m.
	Deadline time.Duration

	// MinContractChars is the minimum extracted text length in runes.
	// Shorter uploads are rejected as not reviewable. Default: 200.
	MinContractChars int

	// MaxUploadBytes bounds the raw upload. Default: 10MB.
	MaxUploadBytes int64

	// Analyzer is passed through to the structured analyzer.
	Analyzer AnalyzerConfig
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Deadline:         25 * time.Minute,
		MinContractChars: 200,
		MaxUploadBytes:   10 << 20,
		Analyzer:         DefaultAnalyzerConfig(),
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	if c.MinContractChars <= 0 {
		c.MinContractChars = d.MinContractChars
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	return c
}

// =============================================================================
// Engine
// =============================================================================

// Engine owns the contract review pipeline. Submit accepts an upload,
// persists a PENDING record, and returns immediately; a dedicated
// goroutine per review is the single writer for that review's state and
// progress events.
type Engine struct {
	store     *Store
	broker    *Broker
	analyzer  *Analyzer
	extractor ingest.TextExtractor
	cfg       EngineConfig
	log       *slog.Logger
	wg        sync.WaitGroup
}

func NewEngine(store *Store, broker *Broker, analyzer *Analyzer, extractor ingest.TextExtractor, cfg EngineConfig, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:     store,
		broker:    broker,
		analyzer:  analyzer,
		extractor: extractor,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// Submit validates and registers an upload, then starts the pipeline in
// the background.
//
// # Description
//
// The upload is extracted and length-checked synchronously so the caller
// gets an immediate InvalidInput for contracts too short to review. The
// analysis itself runs asynchronously; progress is observable on the
// engine's broker and the final state lands in the store.
func (e *Engine) Submit(ctx context.Context, userID, filename, mime string, data []byte) (datatypes.UploadContractResponse, error) {
	ctx, span := tracer.Start(ctx, "review.Submit")
	defer span.End()

	if len(data) == 0 {
		return datatypes.UploadContractResponse{}, datatypes.NewError(datatypes.KindInvalidInput, "empty upload")
	}
	if int64(len(data)) > e.cfg.MaxUploadBytes {
		return datatypes.UploadContractResponse{}, datatypes.NewError(datatypes.KindInvalidInput,
			"upload exceeds %d bytes", e.cfg.MaxUploadBytes)
	}

	text, _, err := e.extractor.Extract(ctx, data, mime)
	if err != nil {
		return datatypes.UploadContractResponse{}, err
	}
	if utf8.RuneCountInString(text) < e.cfg.MinContractChars {
		return datatypes.UploadContractResponse{}, datatypes.NewError(datatypes.KindInvalidInput,
			"contract text shorter than %d characters", e.cfg.MinContractChars)
	}

	sum := sha256.Sum256(data)
	review := datatypes.ContractReview{
		ID:            uuid.NewString(),
		UserID:        userID,
		Filename:      filename,
		Size:          int64(len(data)),
		Hash:          hex.EncodeToString(sum[:]),
		ExtractedText: text,
		Status:        datatypes.ReviewPending,
		CreatedAt:     time.Now(),
	}
	if err := e.store.Create(review); err != nil {
		return datatypes.UploadContractResponse{}, err
	}
	span.SetAttributes(attribute.String("review.id", review.ID))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.process(review.ID)
	}()

	return datatypes.UploadContractResponse{
		ReviewID: review.ID,
		Status:   review.Status,
		FileHash: review.Hash,
		Size:     review.Size,
	}, nil
}

// Wait blocks until all in-flight reviews finish. Used during shutdown.
func (e *Engine) Wait() { e.wg.Wait() }

// process runs the full pipeline for one review. It is the only writer
// for the review's state after Submit returns.
func (e *Engine) process(reviewID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Deadline)
	defer cancel()
	ctx, span := tracer.Start(ctx, "review.process")
	defer span.End()
	span.SetAttributes(attribute.String("review.id", reviewID))

	report, err := e.runPipeline(ctx, reviewID)
	if err != nil {
		e.fail(reviewID, err)
		return
	}

	now := time.Now()
	_, err = e.store.Transition(reviewID, func(r *datatypes.ContractReview) {
		r.Status = datatypes.ReviewCompleted
		r.Result = report
		r.RiskLevel = report.Summary.RiskLevel
		r.TotalRisks = report.RiskStats.Total()
		r.CompletedAt = &now
	})
	if err != nil {
		e.fail(reviewID, err)
		return
	}

	e.publish(reviewID, datatypes.StageCompleted, "审查完成", "", true)
	e.log.Info("Review completed", "reviewID", reviewID,
		"risks", report.RiskStats.Total(), "score", report.ComplianceScore)
}

// runPipeline executes the stages and assembles the report.
func (e *Engine) runPipeline(ctx context.Context, reviewID string) (*datatypes.ReportModel, error) {
	if _, err := e.store.Transition(reviewID, func(r *datatypes.ContractReview) {
		r.Status = datatypes.ReviewProcessing
	}); err != nil {
		return nil, err
	}
	e.publish(reviewID, datatypes.StageParsing, "解析合同文本", "", false)

	text, err := e.store.ExtractedText(reviewID)
	if err != nil {
		return nil, err
	}

	e.publish(reviewID, datatypes.StageAnalyzing, "分析合同风险", "", false)
	contractData := map[string]any{"ContractText": text}

	// Risk dimensions and key clauses are independent passes over the
	// same text, so they run concurrently against the analyzer backend.
	var (
		dimensions []datatypes.RiskDimension
		clauses    []datatypes.KeyClause
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		dimensions, err = StructuredList[datatypes.RiskDimension](groupCtx, e.analyzer, PromptRiskDimensions, contractData)
		if err != nil {
			return fmt.Errorf("risk analysis failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		res, err := StructuredList[datatypes.KeyClause](groupCtx, e.analyzer, PromptKeyClauses, contractData)
		if err != nil {
			// Key clauses enrich the report but are not load-bearing; a
			// failed pass yields an empty section, not a failed review.
			e.log.Warn("Key clause analysis failed", "reviewID", reviewID, "error", err)
			return nil
		}
		clauses = res
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	e.publish(reviewID, datatypes.StageGeneratingReport, "生成审查报告", "", false)

	findings, err := json.Marshal(dimensions)
	if err != nil {
		return nil, fmt.Errorf("marshal findings: %w", err)
	}
	findingsData := map[string]any{"Findings": string(findings)}

	summary, err := StructuredOne[datatypes.ExecutiveSummary](ctx, e.analyzer, PromptExecutiveSummary, findingsData)
	if err != nil {
		return nil, fmt.Errorf("summary generation failed: %w", err)
	}
	improvements, err := StructuredList[datatypes.ImprovementSuggestion](ctx, e.analyzer, PromptImprovements, findingsData)
	if err != nil {
		e.log.Warn("Improvement generation failed", "reviewID", reviewID, "error", err)
		improvements = nil
	}

	return assembleReport(summary, dimensions, clauses, improvements), nil
}

// assembleReport builds the final artifact. Every slice is non-nil so the
// serialized report never has missing sections.
func assembleReport(summary datatypes.ExecutiveSummary, dimensions []datatypes.RiskDimension, clauses []datatypes.KeyClause, improvements []datatypes.ImprovementSuggestion) *datatypes.ReportModel {
	stats := datatypes.RiskStats{}
	level := datatypes.RiskLow
	for _, dim := range dimensions {
		switch dim.RiskLevel {
		case datatypes.RiskHigh:
			stats.High++
		case datatypes.RiskMedium:
			stats.Medium++
		default:
			stats.Low++
		}
		level = datatypes.MaxRiskLevel(level, dim.RiskLevel)
	}

	// The model's own overall rating never understates the per-dimension
	// maximum.
	summary.RiskLevel = datatypes.MaxRiskLevel(summary.RiskLevel, level)
	if summary.CoreRisks == nil {
		summary.CoreRisks = []string{}
	}
	if summary.ActionSuggestions == nil {
		summary.ActionSuggestions = []string{}
	}
	if dimensions == nil {
		dimensions = []datatypes.RiskDimension{}
	}
	if clauses == nil {
		clauses = []datatypes.KeyClause{}
	}
	if improvements == nil {
		improvements = []datatypes.ImprovementSuggestion{}
	}

	return &datatypes.ReportModel{
		Summary: summary,
		Analysis: datatypes.DeepAnalysis{
			KeyClauses:      clauses,
			RiskAssessments: dimensions,
		},
		Improvements:    improvements,
		RiskStats:       stats,
		ComplianceScore: stats.ComplianceScore(),
		GeneratedAt:     time.Now(),
	}
}

// fail moves the review to FAILED and emits the terminal error event.
func (e *Engine) fail(reviewID string, cause error) {
	e.log.Error("Review failed", "reviewID", reviewID, "error", cause)
	if _, err := e.store.Transition(reviewID, func(r *datatypes.ContractReview) {
		r.Status = datatypes.ReviewFailed
		r.ErrorMessage = cause.Error()
	}); err != nil {
		e.log.Error("Failed to persist review failure", "reviewID", reviewID, "error", err)
	}
	e.publish(reviewID, datatypes.StageError, "", cause.Error(), true)
}

func (e *Engine) publish(reviewID string, stage datatypes.ReviewStage, message, errMsg string, completed bool) {
	e.broker.Publish(datatypes.ProgressEvent{
		ReviewID:  reviewID,
		Stage:     stage,
		Progress:  datatypes.StageProgress(stage),
		Message:   message,
		Error:     errMsg,
		Completed: completed,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Get returns one review record.
func (e *Engine) Get(reviewID string) (datatypes.ContractReview, error) {
	return e.store.Get(reviewID)
}

// List returns a user's reviews, newest first.
func (e *Engine) List(userID string) ([]datatypes.ContractReview, error) {
	return e.store.ListByUser(userID)
}

// Delete removes a review. In-flight reviews cannot be deleted.
func (e *Engine) Delete(reviewID string) error {
	review, err := e.store.Get(reviewID)
	if err != nil {
		if datatypes.IsKind(err, datatypes.KindNotFound) {
			return nil
		}
		return err
	}
	if !review.Status.Terminal() {
		return datatypes.NewError(datatypes.KindConflict,
			"review %s is still %s", reviewID, review.Status)
	}
	e.broker.Forget(reviewID)
	return e.store.Delete(reviewID)
}

// Subscribe exposes the progress stream for one review.
func (e *Engine) Subscribe(reviewID string) (<-chan datatypes.ProgressEvent, func()) {
	return e.broker.Subscribe(reviewID)
}
