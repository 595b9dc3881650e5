// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command counsel starts the ClauseLens HTTP server.
//
// This is the main entry point for the containerized counsel service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - COUNSEL_PORT: HTTP server port (default: 12310)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional; lightweight mode without it)
//   - EMBEDDING_SERVICE_URL: embedding service base URL
//   - EMBEDDING_DIM: embedding vector dimension (default: 768)
//   - LOCAL_LLM_URL: llama.cpp server base URL (default: http://localhost:8081)
//   - OPENAI_API_KEY: enables the remote backend when set
//   - OPENAI_MODEL: remote model name (default: gpt-4o-mini)
//   - OPENAI_BASE_URL: OpenAI-compatible gateway override (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: clauselens-otel-collector:4317)
//   - BADGER_PATH: warm-tier storage directory (in-memory when unset)
//   - PROMPT_LIBRARY_PATH: YAML prompt library, hot-reloaded (built-ins when unset)
//   - COUNSEL_ENABLE_METRICS: Prometheus instruments on /metrics (default: true)
//
// # Usage
//
//	# Build
//	go build -o counsel ./cmd/counsel
//
//	# Run
//	./counsel
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/clauselens/clauselens/services/counsel"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := counsel.Config{
		Port:          getEnvInt("COUNSEL_PORT", 12310),
		WeaviateURL:   os.Getenv("WEAVIATE_SERVICE_URL"),
		EmbedURL:      os.Getenv("EMBEDDING_SERVICE_URL"),
		EmbedDim:      getEnvInt("EMBEDDING_DIM", 768),
		LocalLLMURL:   getEnvString("LOCAL_LLM_URL", "http://localhost:8081"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OTelEndpoint:  getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "clauselens-otel-collector:4317"),
		BadgerPath:    os.Getenv("BADGER_PATH"),
		PromptPath:    os.Getenv("PROMPT_LIBRARY_PATH"),
		GinMode:       os.Getenv("GIN_MODE"),
		EnableMetrics: getEnvBool("COUNSEL_ENABLE_METRICS", true),
	}

	slog.Info("Starting counsel service",
		"port", cfg.Port,
		"weaviate_url", cfg.WeaviateURL,
		"remote_llm", cfg.OpenAIAPIKey != "",
	)

	svc, err := counsel.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create counsel service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Counsel service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
