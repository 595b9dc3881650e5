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
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	searchTopK int  // Number of results to return
	searchJSON bool // Raw JSON output for scripting
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// searchCmd runs a retrieval query against the corpus without going
// through a chat turn. Useful for inspecting what the retriever would
// hand the model for a given question.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query the legal corpus directly",
	Long: `Runs the retrieval pipeline (intent analysis, exact-article lookup,
vector search) against the corpus and prints the scored segments.

Examples:
  lexctl search "合同解除的条件"
  lexctl search "民法典第五百条" --top-k 3
  lexctl search "违约金调整" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearchCommand,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5,
		"Number of results to return")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false,
		"Output raw JSON for scripting")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runSearchCommand(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	params := url.Values{}
	params.Set("q", query)
	params.Set("topK", fmt.Sprintf("%d", searchTopK))

	resp, err := apiClient.Get(apiURL("/v1/search?" + params.Encode()))
	if err != nil {
		return fmt.Errorf("service unreachable: %w", err)
	}

	var body struct {
		Query   string                    `json:"query"`
		Results []datatypes.ScoredSegment `json:"results"`
	}
	if err := decodeResponse(resp, &body); err != nil {
		return err
	}

	if searchJSON {
		printJSON(body)
		return nil
	}

	if len(body.Results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, seg := range body.Results {
		ref := seg.DocumentTitle
		if article := seg.ArticleNumber(); article != "" {
			ref += " " + article
		}
		fmt.Printf("%d. [%.3f] %s\n", i+1, seg.Score, ref)
		fmt.Printf("   %s\n", truncateText(seg.Text, 120))
	}
	return nil
}

// truncateText shortens long segments for terminal display, keeping
// rune boundaries intact.
func truncateText(s string, maxRunes int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[:maxRunes]) + "…"
}
