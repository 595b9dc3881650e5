// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest coordinates document ingestion: text extraction,
// splitting, batch embedding, and vector-index writes with content-hash
// deduplication.
package ingest

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// Text Extractor Port
// =============================================================================

// TextExtractor turns uploaded bytes into plain UTF-8 text. PDF and DOCX
// extraction is provided by an external service behind this port; the
// in-process implementation handles plain text formats only.
type TextExtractor interface {
	// Extract returns the text plus non-fatal warnings. Fails with
	// InvalidInput kinds for unsupported MIME types or corrupt payloads.
	Extract(ctx context.Context, data []byte, mime string) (string, []string, error)
}

// PlainTextExtractor handles text/plain, markdown, and similar formats
// that need no external parsing.
type PlainTextExtractor struct{}

var plainTextMimes = map[string]bool{
	"text/plain":      true,
	"text/markdown":   true,
	"text/html":       false, // needs stripping, not supported in-process
	"application/json": false,
}

// Extract implements TextExtractor.
func (PlainTextExtractor) Extract(_ context.Context, data []byte, mime string) (string, []string, error) {
	base := mime
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if ok, known := plainTextMimes[base]; !known || !ok {
		return "", nil, datatypes.NewError(datatypes.KindInvalidInput,
			"unsupported mime type %q", mime)
	}
	if !utf8.Valid(data) {
		return "", nil, datatypes.NewError(datatypes.KindInvalidInput,
			"payload is not valid UTF-8")
	}

	text := string(data)
	var warnings []string
	if strings.ContainsRune(text, '�') {
		warnings = append(warnings, "text contains replacement characters")
	}
	// Normalize line endings so the splitter sees plain \n.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return text, warnings, nil
}
