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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Class names used by the counsel service.
const (
	ClassLegalDocument = "LegalDocument"
	ClassLegalSegment  = "LegalSegment"
	ClassChatSession   = "ChatSession"
	ClassChatMessage   = "ChatMessage"
)

func GetLegalDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassLegalDocument,
		Description: "An ingested legal source document (statute, regulation, case, template).",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Display title, usually the source filename without extension.",
				Tokenization: "word",
			},
			{
				Name:            "mime_type",
				DataType:        []string{"text"},
				Description:     "MIME type of the uploaded bytes.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "LAW, REGULATION, CASE, CONTRACT_TEMPLATE, or GENERAL.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "content_hash",
				DataType:        []string{"text"},
				Description:     "sha-256 hex of the raw upload. Unique per logical source.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "segment_count",
				DataType:    []string{"int"},
				Description: "Number of indexed segments for this document.",
			},
			{
				Name:            "partially_indexed",
				DataType:        []string{"boolean"},
				Description:     "True when at least one embedding batch was dead-lettered.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "created_at",
				DataType:    []string{"number"},
				Description: "Unix ms of first ingestion.",
			},
			{
				Name:        "updated_at",
				DataType:    []string{"number"},
				Description: "Unix ms of the last write touching this document.",
			},
		},
	}
}

func GetLegalSegmentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassLegalSegment,
		Description: "One retrieval atom: an article or paragraph chunk with hierarchy metadata.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Segment text.",
				Tokenization: "word",
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Owning document id (content-hash derived).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "document_title",
				DataType:        []string{"text"},
				Description:     "Denormalized document title for citation rendering.",
				IndexFilterable: indexFilterable,
				Tokenization:    "word",
			},
			{
				Name:            "ordinal",
				DataType:        []string{"int"},
				Description:     "0-based position within the document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "estimated_tokens",
				DataType:    []string{"int"},
				Description: "ceil(utf8 bytes / 3).",
			},
			{
				Name:            "book",
				DataType:        []string{"text"},
				Description:     "Enclosing 编 heading, canonical numeral form.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chapter",
				DataType:        []string{"text"},
				Description:     "Enclosing 章 heading, canonical numeral form.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "section",
				DataType:        []string{"text"},
				Description:     "Enclosing 节 heading, canonical numeral form.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "article_number",
				DataType:        []string{"text"},
				Description:     "Canonical article label, e.g. 第三十条.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "part",
				DataType:    []string{"int"},
				Description: "1-based part index when an article was sub-split.",
			},
			{
				Name:        "total_parts",
				DataType:    []string{"int"},
				Description: "Sibling count for sub-split articles.",
			},
			{
				Name:            "split_type",
				DataType:        []string{"text"},
				Description:     "article or paragraph.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source_filename",
				DataType:        []string{"text"},
				Description:     "Original upload filename.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Document category, denormalized for filtering.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "embedding_failed",
				DataType:        []string{"boolean"},
				Description:     "True when the segment's batch exhausted embedding retries.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetChatSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassChatSession,
		Description: "A chat conversation owned by a user.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Owning user.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Display title, derived from the first user message.",
				Tokenization: "word",
			},
			{
				Name:     "created_at",
				DataType: []string{"number"},
			},
			{
				Name:        "updated_at",
				DataType:    []string{"number"},
				Description: "Unix ms of the last message write. Drives session listing order.",
			},
		},
	}
}

func GetChatMessageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassChatMessage,
		Description: "One persisted chat turn. Ordered by seq within its session.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Owning session id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "user or assistant.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:        "metadata_json",
				DataType:    []string{"text"},
				Description: "JSON-encoded metadata: model, sources, tokens, cancelled flag.",
			},
			{
				Name:            "seq",
				DataType:        []string{"int"},
				Description:     "Strictly monotonic, gap-free per session.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:     "created_at",
				DataType: []string{"number"},
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing counsel classes. Existing
// classes are left untouched.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	classes := []*models.Class{
		GetLegalDocumentSchema(),
		GetLegalSegmentSchema(),
		GetChatSessionSchema(),
		GetChatMessageSchema(),
	}

	for _, class := range classes {
		exists, err := client.Schema().ClassExistenceChecker().WithClassName(class.Class).Do(ctx)
		if err != nil {
			return fmt.Errorf("checking class %s: %w", class.Class, err)
		}
		if exists {
			slog.Debug("Schema already exists", "class", class.Class)
			continue
		}
		slog.Info("Schema not found, creating it", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("creating class %s: %w", class.Class, err)
		}
	}
	return nil
}
