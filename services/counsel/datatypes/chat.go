// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request, response, and persistence types for
// the counsel service.
//
// This file contains the unified chat types. Review pipeline types live in
// review.go, retrieval types in retrieval.go.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes bounds a single chat message body. Byte length,
	// not rune count, so oversized payloads are rejected before allocation.
	MaxMessageContentBytes = 32 * 1024

	// MaxSessionTitleRunes is the display truncation applied to
	// auto-generated session titles.
	MaxSessionTitleRunes = 40

	// UnifiedThresholdChars is the message length (in runes) above which
	// UNIFIED routing escalates to the retrieval-augmented remote model.
	UnifiedThresholdChars = 120
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator for chat datatypes, with the custom
// maxbytes rule registered.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Routing Enums
// =============================================================================

// ModelType selects the chat routing policy.
type ModelType string

const (
	// ModelTypeBasic uses the local model with a 15-turn history window.
	ModelTypeBasic ModelType = "BASIC"

	// ModelTypeAdvanced uses the remote reasoning model with a 30-turn window.
	ModelTypeAdvanced ModelType = "ADVANCED"

	// ModelTypeAdvancedRAG is ADVANCED plus query rewriting and
	// re-retrieval with re-ranking.
	ModelTypeAdvancedRAG ModelType = "ADVANCED_RAG"

	// ModelTypeUnified picks ADVANCED or ADVANCED_RAG per query.
	ModelTypeUnified ModelType = "UNIFIED"
)

// ModelName selects the backend when routing leaves a choice.
type ModelName string

const (
	ModelNameLocal  ModelName = "LOCAL"
	ModelNameRemote ModelName = "REMOTE"
)

// HistoryWindow returns the number of prior turns recalled for this
// model type.
func (m ModelType) HistoryWindow() int {
	switch m {
	case ModelTypeBasic:
		return 15
	default:
		return 30
	}
}

// =============================================================================
// Unified Chat Request / Response
// =============================================================================

// UnifiedChatRequest is the body of POST /chat and POST /chat/stream.
//
// # Description
//
// A single entry point for every chat mode. ConversationId is optional; when
// absent a new session is created and its id returned in the response.
// UseKnowledgeBase defaults to true and controls whether retrieval context
// is injected into the prompt.
//
// # Validation
//
//   - Message: required, at most 32KB.
//   - ModelType/ModelName: must be one of the declared enum values after
//     EnsureDefaults.
type UnifiedChatRequest struct {
	Message          string    `json:"message" validate:"required,maxbytes"`
	ConversationID   string    `json:"conversationId,omitempty" validate:"omitempty,uuid4"`
	UseKnowledgeBase *bool     `json:"useKnowledgeBase,omitempty"`
	ModelType        ModelType `json:"modelType,omitempty" validate:"omitempty,oneof=BASIC ADVANCED ADVANCED_RAG UNIFIED"`
	ModelName        ModelName `json:"modelName,omitempty" validate:"omitempty,oneof=LOCAL REMOTE"`
	Stream           bool      `json:"stream,omitempty"`
	TopK             int       `json:"topK,omitempty" validate:"omitempty,min=1,max=50"`
}

// EnsureDefaults fills unset optional fields in place.
func (r *UnifiedChatRequest) EnsureDefaults() {
	if r.ModelType == "" {
		r.ModelType = ModelTypeUnified
	}
	if r.ModelName == "" {
		r.ModelName = ModelNameLocal
	}
	if r.UseKnowledgeBase == nil {
		t := true
		r.UseKnowledgeBase = &t
	}
	if r.TopK == 0 {
		r.TopK = 5
	}
}

// Validate checks the request after EnsureDefaults has been applied.
func (r *UnifiedChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// WantsKnowledgeBase reports the effective UseKnowledgeBase value.
func (r *UnifiedChatRequest) WantsKnowledgeBase() bool {
	return r.UseKnowledgeBase == nil || *r.UseKnowledgeBase
}

// SourceRef identifies one retrieved passage cited by an answer.
type SourceRef struct {
	DocumentTitle string  `json:"documentTitle"`
	ArticleNumber string  `json:"articleNumber,omitempty"`
	Chapter       string  `json:"chapter,omitempty"`
	Snippet       string  `json:"snippet,omitempty"`
	Score         float64 `json:"score"`
}

// ChatUsage summarizes token accounting for one turn.
type ChatUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// UnifiedChatResponse is the non-streaming chat reply.
type UnifiedChatResponse struct {
	Answer         string      `json:"answer"`
	ConversationID string      `json:"conversationId"`
	Model          string      `json:"model"`
	ModelType      ModelType   `json:"modelType"`
	Sources        []SourceRef `json:"sources"`
	Usage          *ChatUsage  `json:"usage,omitempty"`
	DurationMs     int64       `json:"durationMs"`
}

// =============================================================================
// Stream Chunks
// =============================================================================

// ChunkType discriminates stream frames.
type ChunkType string

const (
	ChunkTypeContent  ChunkType = "content"
	ChunkTypeComplete ChunkType = "complete"
	ChunkTypeError    ChunkType = "error"
)

// StreamChunk is one frame of a chat stream. Content frames carry text;
// the terminator frame has type "complete"; error frames carry a message
// and close the stream.
type StreamChunk struct {
	Type           ChunkType   `json:"type"`
	Content        string      `json:"content,omitempty"`
	Error          string      `json:"error,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	Sources        []SourceRef `json:"sources,omitempty"`
}

// =============================================================================
// Persisted Session Model
// =============================================================================

// ChatSession is the persisted conversation record.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageRole is restricted to the two persisted roles. System prompts and
// tool outputs are transient prompt parts and are never stored.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is one persisted turn. Seq is strictly monotonic and
// gap-free within a session.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Seq       int64          `json:"seq"`
	CreatedAt time.Time      `json:"createdAt"`
}

// TruncateTitle derives a session title from the first user message,
// cutting at MaxSessionTitleRunes code points. It prefers a space boundary
// within the last 10 runes of the cut.
func TruncateTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= MaxSessionTitleRunes {
		return message
	}
	cut := MaxSessionTitleRunes
	for i := cut - 1; i > cut-10 && i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return string(runes[:cut])
}
