// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/clauselens/clauselens/pkg/validation"
	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/observability"
	"github.com/clauselens/clauselens/services/counsel/retrieval"
	"github.com/clauselens/clauselens/services/counsel/review"
	"github.com/clauselens/clauselens/services/counsel/sessionstore"
	"github.com/clauselens/clauselens/services/counsel/splitter"
	"github.com/clauselens/clauselens/services/llm"
)

var chatTracer = otel.Tracer("clauselens.counsel.handlers")

// Searcher is the retrieval dependency of the chat handlers.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]datatypes.ScoredSegment, error)
}

// ChatService bundles the chat handlers' dependencies and shared state.
type ChatService struct {
	Sessions sessionstore.Store
	Search   Searcher
	Local    llm.LLMClient
	Remote   llm.LLMClient
	Prompts  *review.PromptLibrary
	Metrics  *observability.Metrics
	Log      *slog.Logger

	titleFlight singleflight.Group
}

// resolveModelType collapses UNIFIED into a concrete routing decision.
// Long questions and short open-ended semantic questions get the
// double-retrieval leg; everything else goes to the model directly
// (retrieval still runs once whenever the knowledge base is enabled).
func (s *ChatService) resolveModelType(req *datatypes.UnifiedChatRequest) datatypes.ModelType {
	if req.ModelType != datatypes.ModelTypeUnified {
		return req.ModelType
	}
	if !req.WantsKnowledgeBase() {
		return datatypes.ModelTypeAdvanced
	}
	if utf8.RuneCountInString(req.Message) > datatypes.UnifiedThresholdChars {
		return datatypes.ModelTypeAdvancedRAG
	}
	intent := retrieval.Analyze(req.Message)
	if intent.QueryType == datatypes.QuerySemantic && isOpenEnded(req.Message) {
		return datatypes.ModelTypeAdvancedRAG
	}
	return datatypes.ModelTypeAdvanced
}

// openEndedMarkers flag questions asking for explanation rather than a
// citation lookup. Short SEMANTIC queries containing one are routed to
// ADVANCED_RAG by the UNIFIED policy.
var openEndedMarkers = []string{
	"如何", "怎么", "怎样", "什么", "为什么", "是否", "能否", "可以",
	"哪些", "多久", "多少", "吗", "呢", "？", "?",
}

func isOpenEnded(message string) bool {
	for _, marker := range openEndedMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

// clientFor picks the backend. BASIC always runs locally; otherwise the
// request's model name decides.
func (s *ChatService) clientFor(modelType datatypes.ModelType, name datatypes.ModelName) (llm.LLMClient, string) {
	if modelType == datatypes.ModelTypeBasic || name == datatypes.ModelNameLocal || s.Remote == nil {
		return s.Local, "local"
	}
	return s.Remote, "remote"
}

// retrieve runs the retrieval leg. Every model type retrieves once when
// the knowledge base is enabled; ADVANCED_RAG additionally rewrites the
// query, retrieves again, and re-ranks the merged union.
func (s *ChatService) retrieve(ctx context.Context, req *datatypes.UnifiedChatRequest, modelType datatypes.ModelType) []datatypes.ScoredSegment {
	if !req.WantsKnowledgeBase() || s.Search == nil {
		return nil
	}

	segments, err := s.Search.Search(ctx, req.Message, req.TopK)
	if err != nil {
		// Retrieval is an enrichment; the turn proceeds without context.
		s.Log.Warn("Retrieval failed, answering without context", "error", err)
		segments = nil
	}
	if modelType != datatypes.ModelTypeAdvancedRAG {
		return segments
	}

	rewritten := s.rewriteQuery(ctx, req.Message)
	if rewritten == "" || rewritten == req.Message {
		return segments
	}
	second, err := s.Search.Search(ctx, rewritten, req.TopK)
	if err != nil {
		s.Log.Warn("Re-retrieval failed, keeping first pass", "error", err)
		return segments
	}
	return mergeRanked(segments, second, req.TopK)
}

// mergeRanked unions two result lists, keeping the best score for
// duplicates, and re-ranks by score descending truncated to k.
func mergeRanked(first, second []datatypes.ScoredSegment, k int) []datatypes.ScoredSegment {
	merged := make([]datatypes.ScoredSegment, 0, len(first)+len(second))
	seen := make(map[string]int, len(first)+len(second))
	for _, seg := range slices.Concat(first, second) {
		key := seg.SegmentID
		if key == "" {
			key = seg.DocumentTitle + "\x00" + seg.Text
		}
		if idx, ok := seen[key]; ok {
			if seg.Score > merged[idx].Score {
				merged[idx] = seg
			}
			continue
		}
		seen[key] = len(merged)
		merged = append(merged, seg)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func (s *ChatService) rewriteQuery(ctx context.Context, message string) string {
	prompt, err := s.Prompts.Render(review.PromptQueryRewrite, map[string]any{"Query": message})
	if err != nil {
		return ""
	}
	rewriteCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := s.Local.Generate(rewriteCtx, prompt, llm.GenerationParams{})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// ensureSession loads or creates the conversation, persisting the user
// turn before any generation so a crashed turn is never lost.
func (s *ChatService) ensureSession(ctx context.Context, req *datatypes.UnifiedChatRequest, userID string) (datatypes.ChatSession, bool, error) {
	if req.ConversationID != "" {
		session, err := s.Sessions.GetSession(ctx, req.ConversationID)
		return session, false, err
	}
	session, err := s.Sessions.CreateSession(ctx, userID, datatypes.TruncateTitle(req.Message))
	return session, true, err
}

// generateTitle asks the model for a short session title in the
// background. Concurrent first turns on the same session share one call.
func (s *ChatService) generateTitle(sessionID, message string) {
	go func() {
		_, _, _ = s.titleFlight.Do(sessionID, func() (any, error) {
			prompt, err := s.Prompts.Render(review.PromptTitleGen, map[string]any{"Message": message})
			if err != nil {
				return nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			title, err := s.Local.Generate(ctx, prompt, llm.GenerationParams{})
			if err != nil {
				return nil, err
			}
			title = datatypes.TruncateTitle(strings.TrimSpace(title))
			if title == "" {
				return nil, nil
			}
			return nil, s.Sessions.UpdateTitle(ctx, sessionID, title)
		})
	}()
}

// systemPrompt returns the chat system prompt, empty on render failure.
func (s *ChatService) systemPrompt() string {
	out, err := s.Prompts.Render(review.PromptChatSystem, nil)
	if err != nil {
		return ""
	}
	return out
}

// HandleUnifiedChat serves POST /chat.
//
// # Description
//
// The single non-streaming chat entry point. Routes UNIFIED requests,
// runs retrieval when the knowledge base is enabled, assembles the
// prompt under the token budget, and persists both turns.
func HandleUnifiedChat(s *ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleUnifiedChat")
		defer span.End()
		started := time.Now()

		var req datatypes.UnifiedChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session, created, err := s.ensureSession(ctx, &req, userIDFrom(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if _, err := s.Sessions.AppendMessage(ctx, session.ID, datatypes.RoleUser, req.Message, nil); err != nil {
			abortWithError(c, err)
			return
		}
		if created {
			s.generateTitle(session.ID, req.Message)
		}

		modelType := s.resolveModelType(&req)
		client, modelName := s.clientFor(modelType, req.ModelName)
		segments := s.retrieve(ctx, &req, modelType)

		history, err := s.Sessions.RecentMessages(ctx, session.ID, modelType.HistoryWindow())
		if err != nil {
			abortWithError(c, err)
			return
		}
		// The user turn was just persisted; drop it from history so it
		// only appears once in the prompt.
		if n := len(history); n > 0 && history[n-1].Role == datatypes.RoleUser && history[n-1].Content == req.Message {
			history = history[:n-1]
		}

		prompt, promptTokens := buildPrompt(s.systemPrompt(), contextBlock(segments), history, req.Message)

		answer, err := client.Generate(ctx, prompt, llm.GenerationParams{})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.Metrics.RecordError(observability.EndpointChat, "llm_error")
			s.Metrics.RecordRequest(observability.EndpointChat, false)
			abortWithError(c, err)
			return
		}

		if _, err := s.Sessions.AppendMessage(ctx, session.ID, datatypes.RoleAssistant, answer,
			assistantMetadata(modelType, modelName, segments)); err != nil {
			s.Log.Error("Failed to persist assistant turn", "sessionID", session.ID, "error", err)
		}

		completionTokens := splitter.EstimateTokens(answer)
		s.Metrics.RecordTokens(promptTokens, completionTokens, modelName)
		s.Metrics.RecordRequest(observability.EndpointChat, true)

		c.JSON(http.StatusOK, datatypes.UnifiedChatResponse{
			Answer:         answer,
			ConversationID: session.ID,
			Model:          modelName,
			ModelType:      modelType,
			Sources:        toSourceRefs(segments),
			Usage: &datatypes.ChatUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
			DurationMs: time.Since(started).Milliseconds(),
		})
	}
}

// assistantMetadata records how an assistant turn was produced.
func assistantMetadata(modelType datatypes.ModelType, modelName string, segments []datatypes.ScoredSegment) map[string]any {
	md := map[string]any{
		"modelType": string(modelType),
		"model":     modelName,
	}
	if len(segments) > 0 {
		md["sources"] = toSourceRefs(segments)
	}
	return md
}

// userIDFrom resolves the caller identity. Header-based for now; a
// gateway in front injects the authenticated subject. Identifiers that
// fail validation are treated as absent rather than rejected.
func userIDFrom(c *gin.Context) string {
	if id := c.GetHeader("X-User-Id"); id != "" {
		if err := validation.ValidateUserID(id); err == nil {
			return id
		}
	}
	return "anonymous"
}

// abortWithError maps domain errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	c.JSON(datatypes.HTTPStatus(err), datatypes.ErrorResponse{
		ErrorCode: string(datatypes.KindOf(err)),
		Message:   err.Error(),
	})
}
