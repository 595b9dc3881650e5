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
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clauselens/clauselens/pkg/validation"
	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/observability"
	"github.com/clauselens/clauselens/services/counsel/review"
)

// UploadContract serves POST /contracts/upload (multipart). The review
// starts asynchronously; progress is available on the progress stream.
func UploadContract(engine *review.Engine, metrics *observability.Metrics) gin.HandlerFunc {
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

		resp, err := engine.Submit(c.Request.Context(), userIDFrom(c), filename, mimeType, data)
		if err != nil {
			metrics.RecordRequest(observability.EndpointReview, false)
			abortWithError(c, err)
			return
		}
		metrics.RecordRequest(observability.EndpointReview, true)
		c.JSON(http.StatusAccepted, resp)
	}
}

// StreamReviewProgress serves GET /contracts/:reviewId/analyze-async as SSE.
//
// A subscriber that connects mid-pipeline receives the latest stage
// first; the stream closes itself after the terminal frame.
func StreamReviewProgress(engine *review.Engine, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewID := c.Param("reviewId")
		if _, err := engine.Get(reviewID); err != nil {
			abortWithError(c, err)
			return
		}

		stream, err := NewSSEStream(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}
		metrics.StreamStarted(observability.EndpointReview)
		defer metrics.StreamEnded(observability.EndpointReview)

		events, cancel := engine.Subscribe(reviewID)
		defer cancel()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := stream.WriteFrame(event); err != nil {
					metrics.RecordClientDisconnect(observability.EndpointReview)
					return
				}
			case <-clientGone:
				metrics.RecordClientDisconnect(observability.EndpointReview)
				return
			}
		}
	}
}

// GetReview serves GET /contracts/:reviewId.
func GetReview(engine *review.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := engine.Get(c.Param("reviewId"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// ListReviews serves GET /contracts for the calling user.
func ListReviews(engine *review.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviews, err := engine.List(userIDFrom(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if reviews == nil {
			reviews = []datatypes.ContractReview{}
		}
		c.JSON(http.StatusOK, gin.H{"reviews": reviews})
	}
}

// DeleteReview serves DELETE /contracts/:reviewId.
func DeleteReview(engine *review.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.Delete(c.Param("reviewId")); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// DownloadReport serves GET /contracts/:reviewId/report?format=pdf|md.
//
// The Content-Disposition filename is RFC 5987 encoded so Chinese
// contract names survive the round trip.
func DownloadReport(engine *review.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := engine.Get(c.Param("reviewId"))
		if err != nil {
			abortWithError(c, err)
			return
		}

		var renderer review.Renderer = review.PDFRenderer{}
		if c.DefaultQuery("format", "pdf") == "md" {
			renderer = review.MarkdownRenderer{}
		}

		body, mimeType, ext, err := renderer.Render(rec)
		if err != nil {
			abortWithError(c, err)
			return
		}

		base := strings.TrimSuffix(rec.Filename, filepath.Ext(rec.Filename))
		if base == "" {
			base = rec.ID
		}
		filename := fmt.Sprintf("%s-审查报告.%s", base, ext)
		c.Header("Content-Disposition",
			fmt.Sprintf(`attachment; filename="report.%s"; filename*=UTF-8''%s`, ext, url.PathEscape(filename)))
		c.Data(http.StatusOK, mimeType, body)
	}
}
