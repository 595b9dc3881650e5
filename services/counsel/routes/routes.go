// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/clauselens/clauselens/services/counsel/handlers"
	"github.com/clauselens/clauselens/services/counsel/ingest"
	"github.com/clauselens/clauselens/services/counsel/observability"
	"github.com/clauselens/clauselens/services/counsel/review"
)

// Deps carries everything the route tree needs.
type Deps struct {
	Weaviate    *weaviate.Client
	Chat        *handlers.ChatService
	Coordinator *ingest.Coordinator
	Reviews     *review.Engine
	Metrics     *observability.Metrics
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.Weaviate != nil {
		router.GET("/ready", handlers.ReadyCheck(deps.Weaviate))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat", handlers.HandleUnifiedChat(deps.Chat))
		v1.POST("/chat/stream", handlers.HandleChatStream(deps.Chat))

		if deps.Chat.Search != nil {
			v1.GET("/search", handlers.SearchCorpus(deps.Chat.Search))
		}

		sessions := v1.Group("/chat/sessions")
		{
			sessions.GET("", handlers.ListSessions(deps.Chat.Sessions))
			sessions.GET("/:sessionId", handlers.GetSessionHistory(deps.Chat.Sessions))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(deps.Chat.Sessions))
		}

		// Corpus management needs the vector index; in lightweight mode
		// these routes are absent rather than half-working.
		if deps.Coordinator != nil {
			documents := v1.Group("/documents")
			{
				documents.POST("", handlers.CreateDocument(deps.Coordinator, deps.Metrics))
				documents.GET("", handlers.ListDocuments(deps.Coordinator))
				documents.GET("/stats", handlers.GetCorpusStats(deps.Coordinator))
				documents.DELETE("/:documentId", handlers.DeleteDocument(deps.Coordinator))
			}
		}

		contracts := v1.Group("/contracts")
		{
			contracts.POST("/upload", handlers.UploadContract(deps.Reviews, deps.Metrics))
			contracts.GET("", handlers.ListReviews(deps.Reviews))
			contracts.GET("/:reviewId", handlers.GetReview(deps.Reviews))
			contracts.GET("/:reviewId/analyze-async", handlers.StreamReviewProgress(deps.Reviews, deps.Metrics))
			contracts.GET("/:reviewId/report", handlers.DownloadReport(deps.Reviews))
			contracts.DELETE("/:reviewId", handlers.DeleteReview(deps.Reviews))
		}
	}
}
