// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "lexctl",
		Quiet:   true,
	})
	logger.Info("document indexed", "document_id", "doc-1", "segments", 12)
	require.NoError(t, logger.Close())

	filename := "lexctl_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "document indexed", entry["msg"])
	assert.Equal(t, "lexctl", entry["service"])
	assert.Equal(t, "doc-1", entry["document_id"])
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "test",
		Quiet:   true,
	})
	logger.Info("should be filtered")
	logger.Warn("should appear")
	require.NoError(t, logger.Close())

	filename := "test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be filtered")
	assert.Contains(t, string(data), "should appear")
}

func TestWithAddsAttributes(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test",
		Quiet:   true,
	})
	child := logger.With("session_id", "sess-1")
	child.Info("processing turn")
	require.NoError(t, logger.Close())

	filename := "test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sess-1")
}

func TestBufferedExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Quiet:    true,
		Service:  "test",
		Exporter: exporter,
	})

	logger.Info("exported message", "key", "value")

	// Export runs asynchronously
	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries := exporter.Entries()
	assert.Equal(t, "exported message", entries[0].Message)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "test", entries[0].Service)
	assert.Equal(t, "value", entries[0].Attrs["key"])

	require.NoError(t, logger.Close())
}

func TestExporterRespectsLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelError,
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Debug("dropped")
	logger.Error("kept")

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "kept", exporter.Entries()[0].Message)

	require.NoError(t, logger.Close())
}

func TestArgsToMapSkipsNonStringKeys(t *testing.T) {
	m := argsToMap([]any{"a", 1, 2, "orphan-value", "b", "x"})
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, "x", m["b"])
	assert.Len(t, m, 2)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".clauselens/logs"), expandPath("~/.clauselens/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "relative", expandPath("relative"))
}

func TestDefaultLoggerDoesNotPanic(t *testing.T) {
	logger := Default()
	logger.Info("hello")
	require.NoError(t, logger.Close())
}
