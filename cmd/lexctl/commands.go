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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "lexctl",
	Short: "Operator CLI for the ClauseLens legal analysis service",
	Long: `lexctl manages the legal corpus and inspects retrieval behavior
of a running ClauseLens service.

Examples:
  lexctl ingest 民法典.txt --category law
  lexctl search "合同解除的条件" --top-k 5
  lexctl stats
  lexctl health`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("LEXCTL_SERVER", "http://localhost:12310"),
		"Base URL of the counsel service")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// =============================================================================
// API CLIENT HELPERS
// =============================================================================

var apiClient = &http.Client{Timeout: 2 * time.Minute}

// apiURL joins the server base URL and a path.
func apiURL(path string) string {
	return strings.TrimSuffix(serverURL, "/") + path
}

// decodeResponse reads the body and decodes JSON into out, surfacing
// non-2xx statuses with the server's error body.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// printJSON pretty-prints v to stdout.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(data))
}

// =============================================================================
// HEALTH COMMAND
// =============================================================================

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check liveness and readiness of the counsel service",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient.Get(apiURL("/health"))
		if err != nil {
			return fmt.Errorf("service unreachable: %w", err)
		}
		if err := decodeResponse(resp, nil); err != nil {
			return err
		}
		fmt.Println("live:  ok")

		resp, err = apiClient.Get(apiURL("/ready"))
		if err != nil {
			return fmt.Errorf("service unreachable: %w", err)
		}
		if err := decodeResponse(resp, nil); err != nil {
			fmt.Println("ready: no (vector index unavailable)")
			return nil
		}
		fmt.Println("ready: ok")
		return nil
	},
}
