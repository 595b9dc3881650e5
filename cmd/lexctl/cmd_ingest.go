// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	ingestCategory string // Document category (law, regulation, judicial_interpretation, contract_template)
	ingestTitle    string // Override the filename-derived title
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// ingestCmd uploads one or more files into the legal corpus.
//
// Re-uploading identical bytes is a no-op on the server; the command
// reports the dedup so batch re-runs are safe.
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Upload documents into the legal corpus",
	Long: `Uploads one or more files to the counsel service for segmentation,
embedding, and indexing.

Examples:
  lexctl ingest 民法典.txt --category law
  lexctl ingest contracts/*.txt --category contract_template
  lexctl ingest 解释.md --category judicial_interpretation --title "合同编通则解释"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngestCommand,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCategory, "category", "c", "law",
		"Document category: law, regulation, judicial_interpretation, contract_template")
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "",
		"Document title (default: derived from filename; only valid with a single file)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runIngestCommand(cmd *cobra.Command, args []string) error {
	if ingestTitle != "" && len(args) > 1 {
		return fmt.Errorf("--title cannot be combined with multiple files")
	}

	for _, path := range args {
		result, err := ingestFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		switch {
		case result.Deduplicated:
			fmt.Printf("%s: already indexed (doc %s)\n", path, result.DocumentID)
		case len(result.Warnings) > 0:
			fmt.Printf("%s: indexed %d segments as doc %s (warnings: %v)\n",
				path, result.Segments, result.DocumentID, result.Warnings)
		default:
			fmt.Printf("%s: indexed %d segments as doc %s\n",
				path, result.Segments, result.DocumentID)
		}
	}
	return nil
}

// ingestFile posts one file as multipart form data.
func ingestFile(path string) (*datatypes.IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.WriteField("category", ingestCategory); err != nil {
		return nil, err
	}
	if ingestTitle != "" {
		if err := writer.WriteField("title", ingestTitle); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, apiURL("/v1/documents"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, err
	}

	var result datatypes.IngestResult
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
