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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SSE Stream Writer
// =============================================================================

// SSEStream writes data-only SSE frames. Every frame is a JSON object on
// a single "data:" line followed by a blank line; clients parse the
// embedded "type" field instead of SSE event names.
//
// Each frame carries a hash chain for integrity verification: "hash" is
// the SHA-256 of the frame's identifying fields and "prevHash" links to
// the preceding frame. A client can detect dropped or reordered frames
// by walking the chain.
//
// Safe for concurrent use; frames from different goroutines interleave
// whole, never byte-wise.
type SSEStream struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEStream sets SSE headers and wraps the ResponseWriter. Fails when
// the writer cannot flush, which SSE requires.
func NewSSEStream(w http.ResponseWriter) (*SSEStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &SSEStream{writer: w, flusher: flusher}, nil
}

// WriteFrame serializes payload, augments it with the chain metadata, and
// writes one "data:" frame. The payload must marshal to a JSON object.
func (s *SSEStream) WriteFrame(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("frame payload is not a JSON object: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frame["id"] = uuid.NewString()
	frame["createdAt"] = time.Now().UnixMilli()
	frame["prevHash"] = s.prevHash
	frame["hash"] = frameHash(frame, raw)
	s.prevHash = frame["hash"].(string)

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// frameHash hashes the frame identity plus the original payload bytes, so
// the chain covers content, ordering, and timestamps.
func frameHash(frame map[string]any, payload []byte) string {
	input := fmt.Sprintf("%v|%v|%v|%s", frame["id"], frame["createdAt"], frame["prevHash"], payload)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// WriteKeepAlive sends an SSE comment to hold the connection open through
// load-balancer idle timeouts. Comments are not frames and do not advance
// the hash chain.
func (s *SSEStream) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}
