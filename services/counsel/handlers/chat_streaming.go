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
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/observability"
	"github.com/clauselens/clauselens/services/counsel/splitter"
	"github.com/clauselens/clauselens/services/llm"
)

// keepAliveInterval spaces SSE comment pings during model silence.
const keepAliveInterval = 15 * time.Second

// HandleChatStream serves POST /chat/stream.
//
// # Description
//
// The streaming variant of unified chat. Content arrives as data-only SSE
// frames ({"type":"content",...}); the stream ends with a sources frame
// (when retrieval ran) and a terminal {"type":"complete"} frame.
//
// When the client disconnects mid-generation, the turn keeps running in
// the background so the assistant message is still persisted; the partial
// flag is recorded in the message metadata.
func HandleChatStream(s *ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatStream")
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
		if n := len(history); n > 0 && history[n-1].Role == datatypes.RoleUser && history[n-1].Content == req.Message {
			history = history[:n-1]
		}
		prompt, promptTokens := buildPrompt(s.systemPrompt(), contextBlock(segments), history, req.Message)

		stream, err := NewSSEStream(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}
		s.Metrics.StreamStarted(observability.EndpointChatStream)
		defer s.Metrics.StreamEnded(observability.EndpointChatStream)

		// Generation runs on a context detached from the request so a
		// client disconnect does not cancel it; the turn finishes in the
		// background and is persisted either way.
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
		defer cancel()

		chunks, err := client.GenerateStream(genCtx, prompt, llm.GenerationParams{})
		if err != nil {
			span.RecordError(err)
			s.Metrics.RecordError(observability.EndpointChatStream, "llm_error")
			s.Metrics.RecordRequest(observability.EndpointChatStream, false)
			_ = stream.WriteFrame(datatypes.StreamChunk{Type: datatypes.ChunkTypeError, Error: "生成失败，请稍后重试", ConversationID: session.ID})
			return
		}

		var answer strings.Builder
		clientGone := c.Request.Context().Done()
		disconnected := false
		firstToken := true
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		success := true
	consume:
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					break consume
				}
				switch chunk.Type {
				case llm.ChunkContent:
					answer.WriteString(chunk.Content)
					if firstToken {
						s.Metrics.RecordTimeToFirstToken(observability.EndpointChatStream, time.Since(started).Seconds())
						firstToken = false
					}
					if !disconnected {
						if err := stream.WriteFrame(datatypes.StreamChunk{Type: datatypes.ChunkTypeContent, Content: chunk.Content}); err != nil {
							disconnected = true
						}
					}
				case llm.ChunkError:
					success = false
					span.RecordError(chunk.Err)
					s.Metrics.RecordError(observability.EndpointChatStream, "llm_error")
					if !disconnected {
						_ = stream.WriteFrame(datatypes.StreamChunk{Type: datatypes.ChunkTypeError, Error: "生成失败，请稍后重试", ConversationID: session.ID})
					}
					break consume
				case llm.ChunkComplete:
					break consume
				}
			case <-clientGone:
				disconnected = true
				// nil channel blocks forever; stops this case re-firing
				clientGone = nil
				s.Metrics.RecordClientDisconnect(observability.EndpointChatStream)
				s.Log.Info("Client disconnected, finishing turn in background", "sessionID", session.ID)
			case <-keepAlive.C:
				if !disconnected {
					_ = stream.WriteKeepAlive()
				}
			}
		}

		if success && !disconnected {
			// Citations ride the terminal frame.
			_ = stream.WriteFrame(datatypes.StreamChunk{
				Type:           datatypes.ChunkTypeComplete,
				ConversationID: session.ID,
				Sources:        toSourceRefs(segments),
			})
		}

		if answer.Len() > 0 {
			md := assistantMetadata(modelType, modelName, segments)
			if disconnected {
				md["cancelled"] = true
			}
			if _, err := s.Sessions.AppendMessage(genCtx, session.ID, datatypes.RoleAssistant, answer.String(), md); err != nil {
				s.Log.Error("Failed to persist assistant turn", "sessionID", session.ID, "error", err)
			}
		}

		s.Metrics.RecordTokens(promptTokens, splitter.EstimateTokens(answer.String()), modelName)
		s.Metrics.RecordRequest(observability.EndpointChatStream, success)
		s.Metrics.RecordStreamDuration(observability.EndpointChatStream, time.Since(started).Seconds(), success)
	}
}
