// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseFrames extracts the JSON payload of every "data:" frame in an
// SSE body.
func parseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestSSEStreamSetsHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	_, err := NewSSEStream(w)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}

func TestWriteFrameFormatsDataOnly(t *testing.T) {
	w := httptest.NewRecorder()
	stream, err := NewSSEStream(w)
	require.NoError(t, err)

	require.NoError(t, stream.WriteFrame(map[string]any{"type": "content", "content": "你好"}))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "))
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.NotContains(t, body, "event:")

	frames := parseFrames(t, body)
	require.Len(t, frames, 1)
	assert.Equal(t, "content", frames[0]["type"])
	assert.Equal(t, "你好", frames[0]["content"])
}

func TestWriteFrameHashChain(t *testing.T) {
	w := httptest.NewRecorder()
	stream, err := NewSSEStream(w)
	require.NoError(t, err)

	require.NoError(t, stream.WriteFrame(map[string]any{"type": "content", "content": "a"}))
	require.NoError(t, stream.WriteFrame(map[string]any{"type": "content", "content": "b"}))
	require.NoError(t, stream.WriteFrame(map[string]any{"type": "complete"}))

	frames := parseFrames(t, w.Body.String())
	require.Len(t, frames, 3)

	for _, frame := range frames {
		assert.NotEmpty(t, frame["id"])
		assert.NotZero(t, frame["createdAt"])
		assert.NotEmpty(t, frame["hash"])
	}
	assert.Equal(t, "", frames[0]["prevHash"])
	assert.Equal(t, frames[0]["hash"], frames[1]["prevHash"])
	assert.Equal(t, frames[1]["hash"], frames[2]["prevHash"])
}

func TestWriteKeepAliveIsCommentOnly(t *testing.T) {
	w := httptest.NewRecorder()
	stream, err := NewSSEStream(w)
	require.NoError(t, err)

	require.NoError(t, stream.WriteKeepAlive())
	require.NoError(t, stream.WriteFrame(map[string]any{"type": "content", "content": "a"}))

	body := w.Body.String()
	assert.Contains(t, body, ": ping\n\n")

	// The keepalive must not advance the hash chain.
	frames := parseFrames(t, body)
	require.Len(t, frames, 1)
	assert.Equal(t, "", frames[0]["prevHash"])
}

func TestWriteFrameRejectsNonObjectPayload(t *testing.T) {
	w := httptest.NewRecorder()
	stream, err := NewSSEStream(w)
	require.NoError(t, err)

	assert.Error(t, stream.WriteFrame("just a string"))
	assert.Error(t, stream.WriteFrame([]int{1, 2, 3}))
}
