// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse converts Weaviate's dynamic response payload
// (map[string]models.JSONObject) into a strongly-typed struct via a
// marshal/unmarshal round trip. The target type's json tags must match
// the response shape; type mismatches yield zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// =============================================================================
// Typed Query Responses
// =============================================================================

// LegalSegmentQueryResponse is the shape of Get queries on LegalSegment.
type LegalSegmentQueryResponse struct {
	Get struct {
		LegalSegment []LegalSegmentResult `json:"LegalSegment"`
	} `json:"Get"`
}

// LegalSegmentResult is a single LegalSegment hit.
type LegalSegmentResult struct {
	Content         string `json:"content"`
	DocumentID      string `json:"document_id"`
	DocumentTitle   string `json:"document_title"`
	Ordinal         *int   `json:"ordinal"`
	EstimatedTokens *int   `json:"estimated_tokens"`
	Book            string `json:"book"`
	Chapter         string `json:"chapter"`
	Section         string `json:"section"`
	ArticleNumber   string `json:"article_number"`
	Part            *int   `json:"part"`
	TotalParts      *int   `json:"total_parts"`
	SplitType       string `json:"split_type"`
	SourceFilename  string `json:"source_filename"`
	Category        string `json:"category"`
	Additional      struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
	} `json:"_additional"`
}

// ToScoredSegment projects a query hit into the retrieval result type.
// Certainty, when present, becomes the raw Score.
func (r LegalSegmentResult) ToScoredSegment() ScoredSegment {
	md := map[string]any{}
	if r.Book != "" {
		md["book"] = r.Book
	}
	if r.Chapter != "" {
		md["chapter"] = r.Chapter
	}
	if r.Section != "" {
		md["section"] = r.Section
	}
	if r.ArticleNumber != "" {
		md["article_number"] = r.ArticleNumber
	}
	if r.SplitType != "" {
		md["split_type"] = r.SplitType
	}
	if r.SourceFilename != "" {
		md["source_filename"] = r.SourceFilename
	}
	if r.Category != "" {
		md["category"] = r.Category
	}
	if r.Part != nil {
		md["part"] = *r.Part
	}
	if r.TotalParts != nil {
		md["total_parts"] = *r.TotalParts
	}

	ordinal := 0
	if r.Ordinal != nil {
		ordinal = *r.Ordinal
	}
	score := 0.0
	if r.Additional.Certainty != nil {
		score = *r.Additional.Certainty
	}
	return ScoredSegment{
		SegmentID:     r.Additional.ID,
		DocumentID:    r.DocumentID,
		DocumentTitle: r.DocumentTitle,
		Text:          r.Content,
		Ordinal:       ordinal,
		Score:         score,
		Metadata:      md,
	}
}

// LegalDocumentQueryResponse is the shape of Get queries on LegalDocument.
type LegalDocumentQueryResponse struct {
	Get struct {
		LegalDocument []LegalDocumentResult `json:"LegalDocument"`
	} `json:"Get"`
}

// LegalDocumentResult is a single LegalDocument hit.
type LegalDocumentResult struct {
	Title            string `json:"title"`
	MimeType         string `json:"mime_type"`
	Category         string `json:"category"`
	ContentHash      string `json:"content_hash"`
	SegmentCount     *int   `json:"segment_count"`
	PartiallyIndexed *bool  `json:"partially_indexed"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
	Additional       struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToDocumentRecord projects the hit into the API document record.
func (r LegalDocumentResult) ToDocumentRecord() DocumentRecord {
	count := 0
	if r.SegmentCount != nil {
		count = *r.SegmentCount
	}
	rec := DocumentRecord{
		ID:           r.Additional.ID,
		Title:        r.Title,
		MimeType:     r.MimeType,
		Category:     DocumentCategory(r.Category),
		ContentHash:  r.ContentHash,
		SegmentCount: count,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		UpdatedAt:    time.UnixMilli(r.UpdatedAt),
	}
	if r.PartiallyIndexed != nil && *r.PartiallyIndexed {
		rec.Metadata = map[string]string{"partially_indexed": "true"}
	}
	return rec
}

// ChatSessionQueryResponse is the shape of Get queries on ChatSession.
type ChatSessionQueryResponse struct {
	Get struct {
		ChatSession []ChatSessionResult `json:"ChatSession"`
	} `json:"Get"`
}

// ChatSessionResult is a single ChatSession hit.
type ChatSessionResult struct {
	UserID     string `json:"user_id"`
	Title      string `json:"title"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToChatSession projects the hit into the session model.
func (r ChatSessionResult) ToChatSession() ChatSession {
	return ChatSession{
		ID:        r.Additional.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		CreatedAt: time.UnixMilli(r.CreatedAt),
		UpdatedAt: time.UnixMilli(r.UpdatedAt),
	}
}

// ChatMessageQueryResponse is the shape of Get queries on ChatMessage.
type ChatMessageQueryResponse struct {
	Get struct {
		ChatMessage []ChatMessageResult `json:"ChatMessage"`
	} `json:"Get"`
}

// ChatMessageResult is a single ChatMessage hit.
type ChatMessageResult struct {
	SessionID    string `json:"session_id"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	MetadataJSON string `json:"metadata_json"`
	Seq          *int64 `json:"seq"`
	CreatedAt    int64  `json:"created_at"`
	Additional   struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToChatMessage projects the hit into the message model. Malformed
// metadata JSON is dropped rather than failing the read.
func (r ChatMessageResult) ToChatMessage() ChatMessage {
	var md map[string]any
	if r.MetadataJSON != "" {
		_ = json.Unmarshal([]byte(r.MetadataJSON), &md)
	}
	var seq int64
	if r.Seq != nil {
		seq = *r.Seq
	}
	return ChatMessage{
		ID:        r.Additional.ID,
		SessionID: r.SessionID,
		Role:      MessageRole(r.Role),
		Content:   r.Content,
		Metadata:  md,
		Seq:       seq,
		CreatedAt: time.UnixMilli(r.CreatedAt),
	}
}

// =============================================================================
// Aggregate Responses
// =============================================================================

// AggregateCountResponse is the shape of Aggregate meta{count} queries.
// The class name is dynamic, so the payload keeps raw JSON per class.
type AggregateCountResponse struct {
	Aggregate map[string][]struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
		GroupedBy *struct {
			Value string `json:"value"`
		} `json:"groupedBy"`
	} `json:"Aggregate"`
}
