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
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clauselens/clauselens/pkg/validation"
	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/ingest"
	"github.com/clauselens/clauselens/services/counsel/observability"
)

// CreateDocument serves POST /documents (multipart). Fields: file
// (required), category, title.
func CreateDocument(coordinator *ingest.Coordinator, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}

		filename, err := validation.SanitizeFilename(header.Filename)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
			return
		}
		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(filename))
		}
		category := datatypes.DocumentCategory(c.PostForm("category"))
		meta := map[string]string{"source_filename": filename}
		if title := c.PostForm("title"); title != "" {
			meta["title"] = title
		}

		result, err := coordinator.IngestDocument(c.Request.Context(), data, mimeType, category, meta)
		if err != nil {
			metrics.RecordRequest(observability.EndpointIngest, false)
			abortWithError(c, err)
			return
		}
		if !result.Deduplicated {
			metrics.RecordIngestedSegments(string(category), result.Segments)
		}
		metrics.RecordRequest(observability.EndpointIngest, true)

		status := http.StatusCreated
		if result.Deduplicated {
			status = http.StatusOK
		}
		c.JSON(status, result)
	}
}

// ListDocuments serves GET /documents.
func ListDocuments(coordinator *ingest.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := coordinator.ListDocuments(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		if docs == nil {
			docs = []datatypes.DocumentRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs})
	}
}

// DeleteDocument serves DELETE /documents/:documentId.
func DeleteDocument(coordinator *ingest.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := coordinator.DeleteDocument(c.Request.Context(), c.Param("documentId")); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// GetCorpusStats serves GET /documents/stats.
func GetCorpusStats(coordinator *ingest.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := coordinator.Stats(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// SearchCorpus serves GET /search?q=...&topK=N. Used by operators and the
// CLI to inspect retrieval behavior directly.
func SearchCorpus(search Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
			return
		}
		topK, _ := strconv.Atoi(c.DefaultQuery("topK", "5"))

		segments, err := search.Search(c.Request.Context(), query, topK)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if segments == nil {
			segments = []datatypes.ScoredSegment{}
		}
		c.JSON(http.StatusOK, gin.H{"query": query, "results": segments})
	}
}
