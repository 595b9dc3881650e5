// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lexctl is the operator CLI for a running ClauseLens service.
//
// It talks to the counsel HTTP API for corpus management and retrieval
// inspection:
//
//	lexctl ingest 民法典.txt --category law
//	lexctl search "合同解除的条件" --top-k 5
//	lexctl stats
//	lexctl health
//
// The server address comes from --server or LEXCTL_SERVER
// (default http://localhost:12310).
package main

import (
	"os"

	"github.com/clauselens/clauselens/pkg/logging"
)

// logger writes to stderr, plus a daily file when LEXCTL_LOG_DIR is set.
var logger *logging.Logger

func main() {
	logger = logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("LEXCTL_LOG_DIR"),
		Service: "lexctl",
	})
	defer logger.Close()

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err.Error())
		logger.Close()
		os.Exit(1)
	}
}
