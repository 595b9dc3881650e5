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
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/llm"
)

// =============================================================================
// Structured LLM Output
// =============================================================================

// refusalMarkers are substrings that indicate the model declined or
// hallucinated template placeholders instead of analyzing the contract.
// Output containing one of these is treated as invalid structured output.
var refusalMarkers = []string{
	"作为AI模型",
	"无法完成此任务",
}

// rePlaceholder matches unresolved {variable} template placeholders the
// model sometimes echoes back from the prompt.
var rePlaceholder = regexp.MustCompile(`\{[a-zA-Z_][a-zA-Z0-9_]*\}`)

// reFenceOpen matches an opening code fence with an optional language tag.
var reFenceOpen = regexp.MustCompile("(?m)^```[a-zA-Z]*[ \t]*$")

// StripCodeFences removes markdown code fences around model output, keeping
// the fenced body. Text outside the fences is dropped when a fence exists.
func StripCodeFences(s string) string {
	loc := reFenceOpen.FindStringIndex(s)
	if loc == nil {
		return s
	}
	body := s[loc[1]:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ExtractJSONObjects scans text for top-level JSON objects using brace
// balancing. Braces inside string literals are ignored. Returns the raw
// object substrings in order of appearance; an array literal wrapping the
// objects is transparently descended into.
func ExtractJSONObjects(s string) []string {
	var objects []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objects = append(objects, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return objects
}

// HasRefusalMarker reports whether model output contains a refusal phrase
// or an unresolved template placeholder.
func HasRefusalMarker(s string) bool {
	for _, marker := range refusalMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return rePlaceholder.MatchString(s)
}

// =============================================================================
// Analyzer
// =============================================================================

// AnalyzerConfig bounds individual model calls.
type AnalyzerConfig struct {
	// CallTimeout bounds one generation. Default: 120s.
	CallTimeout time.Duration

	// CallRetries is the retry budget per call beyond the first attempt.
	// Default: 2.
	CallRetries int
}

// DefaultAnalyzerConfig returns production defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{CallTimeout: 120 * time.Second, CallRetries: 2}
}

func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	d := DefaultAnalyzerConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.CallRetries <= 0 {
		c.CallRetries = d.CallRetries
	}
	return c
}

// Analyzer wraps an LLM client with timeout, retry, and structured-output
// recovery. Each analysis prompt is expected to yield JSON; when parsing
// fails, a single repair round asks the model to fix its own output.
type Analyzer struct {
	client  llm.LLMClient
	prompts *PromptLibrary
	cfg     AnalyzerConfig
	log     *slog.Logger
}

func NewAnalyzer(client llm.LLMClient, prompts *PromptLibrary, cfg AnalyzerConfig, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{client: client, prompts: prompts, cfg: cfg.withDefaults(), log: log}
}

// generate runs one bounded model call, retrying transient failures
// with jittered exponential backoff (100ms, 200ms, 400ms base delays).
// Typed fatal errors fail immediately.
func (a *Analyzer) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.CallRetries; attempt++ {
		if attempt > 0 {
			base := 100 * time.Millisecond << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(base / 2)))
			select {
			case <-time.After(base + jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		out, err := a.client.Generate(callCtx, prompt, llm.GenerationParams{})
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !retryableCall(err) {
			return "", err
		}
		a.log.Warn("Model call failed", "attempt", attempt+1, "error", err)
	}
	return "", datatypes.WrapError(datatypes.KindTransient, lastErr, "model call exhausted retries")
}

// retryableCall classifies a backend failure. Typed errors use their
// own Retryable flag; untyped transport errors are retried.
func retryableCall(err error) bool {
	var ce *datatypes.CoreError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return true
}

// usableObjects strips fences, filters refusals, and extracts objects.
// Returns nil when nothing usable remains.
func usableObjects(out string) []string {
	cleaned := StripCodeFences(out)
	if HasRefusalMarker(cleaned) {
		return nil
	}
	return ExtractJSONObjects(cleaned)
}

// schemaValidator is implemented by analyzer output types that carry
// required fields or enum-constrained values.
type schemaValidator interface {
	ValidateSchema() error
}

// decodeValid extracts, decodes, and schema-checks every object in the
// model output. Individual bad objects are skipped; a nil result means
// the whole output is unusable and goes through the repair round.
func decodeValid[T any](a *Analyzer, promptName, out string) []T {
	var items []T
	for _, obj := range usableObjects(out) {
		var item T
		if err := json.Unmarshal([]byte(obj), &item); err != nil {
			a.log.Warn("Skipping undecodable object", "prompt", promptName, "error", err)
			continue
		}
		if v, ok := any(item).(schemaValidator); ok {
			if err := v.ValidateSchema(); err != nil {
				a.log.Warn("Skipping schema-invalid object", "prompt", promptName, "error", err)
				continue
			}
		}
		items = append(items, item)
	}
	return items
}

// StructuredList renders the named prompt, runs it, and decodes every
// extracted JSON object into T, dropping objects that fail the type's
// schema check. A response with no valid object gets one repair round;
// a second failure is an InvalidStructuredOutput error.
func StructuredList[T any](ctx context.Context, a *Analyzer, promptName string, data map[string]any) ([]T, error) {
	prompt, err := a.prompts.Render(promptName, data)
	if err != nil {
		return nil, err
	}
	out, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if items := decodeValid[T](a, promptName, out); items != nil {
		return items, nil
	}

	// One repair round: show the model its own output and the expected
	// shape. More rounds rarely converge and burn the review deadline.
	a.log.Info("Structured output unusable, attempting repair", "prompt", promptName)
	repairPrompt, err := a.prompts.Render(PromptRepair, map[string]any{"BrokenOutput": out})
	if err != nil {
		return nil, err
	}
	repaired, err := a.generate(ctx, repairPrompt)
	if err != nil {
		return nil, err
	}
	if items := decodeValid[T](a, promptName, repaired); items != nil {
		return items, nil
	}
	return nil, datatypes.NewError(datatypes.KindInvalidStructuredOutput,
		"prompt %s yielded no schema-valid object after repair", promptName)
}

// StructuredOne is StructuredList for prompts that yield a single object.
// Extra objects beyond the first are ignored.
func StructuredOne[T any](ctx context.Context, a *Analyzer, promptName string, data map[string]any) (T, error) {
	items, err := StructuredList[T](ctx, a, promptName, data)
	if err != nil {
		var zero T
		return zero, err
	}
	return items[0], nil
}
