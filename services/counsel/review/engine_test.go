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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/ingest"
	"github.com/clauselens/clauselens/services/counsel/storage"
	"github.com/clauselens/clauselens/services/llm"
)

func contractText() []byte {
	var sb strings.Builder
	sb.WriteString("甲方与乙方就软件开发事宜订立本合同。")
	for i := 0; i < 20; i++ {
		sb.WriteString("双方应当按照本合同约定履行各自义务，任何一方违反约定给对方造成损失的，应当承担相应的赔偿责任。")
	}
	return []byte(sb.String())
}

// pipelineResponses maps a distinguishing phrase of each analysis prompt
// to its canned response. The risk-dimension and key-clause passes run
// concurrently, so responses are matched on prompt content rather than
// call order.
var pipelineResponses = map[string]string{
	"评估合同风险": `[{"dimensionName":"违约责任","riskLevel":"HIGH","riskPoints":["无违约金上限"],"description":"违约条款失衡"},
	  {"dimensionName":"付款与结算","riskLevel":"MEDIUM","riskPoints":["付款节点模糊"],"description":"结算约定不明确"}]`,
	"关键条款": `[{"title":"违约条款","content":"任何一方违反约定...","analysis":"未约定违约金上限","isComplete":false,"suggestion":"增加违约金上限"}]`,
	"执行摘要": `{"contractType":"软件开发合同","riskLevel":"MEDIUM","reason":"违约条款失衡","coreRisks":["无违约金上限"],"actionSuggestions":["补充上限条款"]}`,
	"修改建议": `[{"priority":"高","problem":"无违约金上限","modification":"增加不超过合同总额20%的上限"}]`,
}

// promptLLM answers each prompt by matching one of the pipelineResponses
// phrases; prompts matching nothing get the fallback.
type promptLLM struct {
	mu        sync.Mutex
	responses map[string]string
	fallback  string
	calls     int
}

func (p *promptLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	for phrase, out := range p.responses {
		if strings.Contains(prompt, phrase) {
			return out, nil
		}
	}
	return p.fallback, nil
}

func (p *promptLLM) GenerateStream(ctx context.Context, prompt string, params llm.GenerationParams) (<-chan llm.Chunk, error) {
	out, err := p.Generate(ctx, prompt, params)
	ch := make(chan llm.Chunk, 2)
	if err != nil {
		ch <- llm.Chunk{Type: llm.ChunkError, Err: err}
	} else {
		ch <- llm.Chunk{Type: llm.ChunkContent, Content: out}
		ch <- llm.Chunk{Type: llm.ChunkComplete}
	}
	close(ch)
	return ch, nil
}

func newTestEngine(t *testing.T, client llm.LLMClient) *Engine {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	analyzer := NewAnalyzer(client, DefaultPrompts(nil), AnalyzerConfig{}, nil)
	return NewEngine(NewStore(db), NewBroker(), analyzer, ingest.PlainTextExtractor{}, EngineConfig{}, nil)
}

func TestEnginePipeline(t *testing.T) {
	client := &promptLLM{responses: pipelineResponses}
	engine := newTestEngine(t, client)

	resp, err := engine.Submit(context.Background(), "user-1", "合同.txt", "text/plain", contractText())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.Status != datatypes.ReviewPending {
		t.Errorf("initial status = %s, want PENDING", resp.Status)
	}

	ch, cancel := engine.Subscribe(resp.ReviewID)
	defer cancel()

	var stages []datatypes.ReviewStage
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				goto done
			}
			stages = append(stages, ev.Stage)
			if ev.Completed {
				if ev.Stage != datatypes.StageCompleted {
					t.Fatalf("terminal stage = %s, want COMPLETED", ev.Stage)
				}
				if ev.Progress != 100 {
					t.Errorf("terminal progress = %d, want 100", ev.Progress)
				}
			}
		case <-deadline:
			t.Fatal("pipeline did not finish in time")
		}
	}
done:
	if len(stages) == 0 || stages[len(stages)-1] != datatypes.StageCompleted {
		t.Fatalf("stages = %v", stages)
	}

	review, err := engine.Get(resp.ReviewID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if review.Status != datatypes.ReviewCompleted {
		t.Fatalf("status = %s, want COMPLETED", review.Status)
	}
	if review.Result == nil {
		t.Fatal("completed review has no report")
	}
	if review.Result.RiskStats.High != 1 || review.Result.RiskStats.Medium != 1 {
		t.Errorf("risk stats = %+v", review.Result.RiskStats)
	}
	// 1 high + 1 medium: penalty 22, score 78.
	if review.Result.ComplianceScore != 78 {
		t.Errorf("compliance score = %d, want 78", review.Result.ComplianceScore)
	}
	if review.RiskLevel != datatypes.RiskHigh {
		t.Errorf("overall risk = %s, want HIGH (per-dimension max wins)", review.RiskLevel)
	}
	if review.CompletedAt == nil {
		t.Error("completedAt not set")
	}
}

func TestEngineRejectsShortContract(t *testing.T) {
	engine := newTestEngine(t, &promptLLM{responses: pipelineResponses})

	_, err := engine.Submit(context.Background(), "user-1", "短.txt", "text/plain", []byte("太短的合同"))
	if !datatypes.IsKind(err, datatypes.KindInvalidInput) {
		t.Errorf("err = %v, want InvalidInput", err)
	}
}

func TestEngineFailurePath(t *testing.T) {
	// Every response is a refusal, so the mandatory risk-dimension pass
	// fails even after repair and the review lands in FAILED.
	client := &promptLLM{fallback: "作为AI模型，无法分析"}
	engine := newTestEngine(t, client)

	resp, err := engine.Submit(context.Background(), "user-1", "合同.txt", "text/plain", contractText())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ch, cancel := engine.Subscribe(resp.ReviewID)
	defer cancel()

	var terminal datatypes.ProgressEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				goto done
			}
			terminal = ev
		case <-deadline:
			t.Fatal("pipeline did not finish in time")
		}
	}
done:
	if terminal.Stage != datatypes.StageError || !terminal.Completed {
		t.Fatalf("terminal event = %+v, want ERROR", terminal)
	}
	if terminal.Error == "" {
		t.Error("terminal error event carries no message")
	}

	review, _ := engine.Get(resp.ReviewID)
	if review.Status != datatypes.ReviewFailed {
		t.Errorf("status = %s, want FAILED", review.Status)
	}
	if review.ErrorMessage == "" {
		t.Error("failed review carries no error message")
	}
}

func TestEngineDeleteAfterCompletion(t *testing.T) {
	client := &promptLLM{responses: pipelineResponses}
	engine := newTestEngine(t, client)

	resp, err := engine.Submit(context.Background(), "user-1", "合同.txt", "text/plain", contractText())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	engine.Wait()

	if err := engine.Delete(resp.ReviewID); err != nil {
		t.Fatalf("Delete of finished review failed: %v", err)
	}
	if _, err := engine.Get(resp.ReviewID); !datatypes.IsKind(err, datatypes.KindNotFound) {
		t.Errorf("lookup after delete = %v, want NotFound", err)
	}
	// Deleting again is a no-op.
	if err := engine.Delete(resp.ReviewID); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestStoreTransitionRules(t *testing.T) {
	db, err := storage.Open(storage.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewStore(db)

	review := datatypes.ContractReview{
		ID:            "r1",
		UserID:        "user-1",
		Status:        datatypes.ReviewCompleted,
		ExtractedText: "text",
		CreatedAt:     time.Now(),
	}
	if err := store.Create(review); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// COMPLETED is terminal; moving back to PROCESSING must be rejected.
	_, err = store.Transition("r1", func(r *datatypes.ContractReview) {
		r.Status = datatypes.ReviewProcessing
	})
	if !datatypes.IsKind(err, datatypes.KindConflict) {
		t.Errorf("backward transition = %v, want Conflict", err)
	}

	// Mutations that keep the status are fine.
	if _, err := store.Transition("r1", func(r *datatypes.ContractReview) {
		r.TotalRisks = 3
	}); err != nil {
		t.Errorf("status-preserving update failed: %v", err)
	}
}

func TestReportRenderers(t *testing.T) {
	now := time.Now()
	review := datatypes.ContractReview{
		ID:       "r1",
		Filename: "合同.txt",
		Status:   datatypes.ReviewCompleted,
		Result: &datatypes.ReportModel{
			Summary: datatypes.ExecutiveSummary{
				ContractType: "软件开发合同",
				RiskLevel:    datatypes.RiskMedium,
				CoreRisks:    []string{"无违约金上限"},
			},
			Analysis:        datatypes.DeepAnalysis{KeyClauses: []datatypes.KeyClause{}, RiskAssessments: []datatypes.RiskDimension{}},
			Improvements:    []datatypes.ImprovementSuggestion{},
			RiskStats:       datatypes.RiskStats{Medium: 1},
			ComplianceScore: 93,
			GeneratedAt:     now,
		},
	}

	md, mime, ext, err := MarkdownRenderer{}.Render(review)
	if err != nil {
		t.Fatalf("markdown render failed: %v", err)
	}
	if !strings.Contains(string(md), "合同审查报告") || !strings.Contains(string(md), "93/100") {
		t.Error("markdown report missing expected content")
	}
	if mime != "text/markdown; charset=utf-8" || ext != "md" {
		t.Errorf("mime/ext = %s/%s", mime, ext)
	}

	pdf, mime, ext, err := PDFRenderer{}.Render(review)
	if err != nil {
		t.Fatalf("pdf render failed: %v", err)
	}
	if !strings.HasPrefix(string(pdf), "%PDF") {
		t.Error("pdf output does not start with %PDF")
	}
	if mime != "application/pdf" || ext != "pdf" {
		t.Errorf("mime/ext = %s/%s", mime, ext)
	}

	// Rendering an unfinished review is a conflict.
	if _, _, _, err := (MarkdownRenderer{}).Render(datatypes.ContractReview{ID: "r2"}); !datatypes.IsKind(err, datatypes.KindConflict) {
		t.Errorf("render without result = %v, want Conflict", err)
	}
}
