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
	"sort"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

var statsJSON bool // Raw JSON output for scripting

// statsCmd prints corpus-wide document and segment counts.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	RunE:  runStatsCommand,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false,
		"Output raw JSON for scripting")
}

func runStatsCommand(cmd *cobra.Command, args []string) error {
	resp, err := apiClient.Get(apiURL("/v1/documents/stats"))
	if err != nil {
		return fmt.Errorf("service unreachable: %w", err)
	}

	var stats datatypes.IngestStats
	if err := decodeResponse(resp, &stats); err != nil {
		return err
	}

	if statsJSON {
		printJSON(stats)
		return nil
	}

	fmt.Printf("documents: %d\n", stats.Documents)
	fmt.Printf("segments:  %d\n", stats.Segments)
	if len(stats.ByCategory) > 0 {
		fmt.Println("by category:")
		categories := make([]string, 0, len(stats.ByCategory))
		for category := range stats.ByCategory {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			fmt.Printf("  %-26s %d\n", category, stats.ByCategory[category])
		}
	}
	return nil
}
