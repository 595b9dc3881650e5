// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import "testing"

// With metrics disabled the handlers hold a nil *Metrics; every recorder
// must be a safe no-op rather than a panic.
func TestNilMetricsRecordersAreNoOps(t *testing.T) {
	var m *Metrics

	m.RecordRequest(EndpointChat, true)
	m.RecordError(EndpointChat, "llm_error")
	m.RecordTokens(10, 20, "local")
	m.StreamStarted(EndpointChatStream)
	m.StreamEnded(EndpointChatStream)
	m.RecordTimeToFirstToken(EndpointChatStream, 0.5)
	m.RecordStreamDuration(EndpointChatStream, 1.5, true)
	m.RecordClientDisconnect(EndpointChatStream)
	m.RecordReviewStage("ANALYZING", 12.0)
	m.RecordIngestedSegments("LAW", 42)
}

func TestStatusLabel(t *testing.T) {
	if got := statusLabel(true); got != "success" {
		t.Errorf("statusLabel(true) = %q, want success", got)
	}
	if got := statusLabel(false); got != "error" {
		t.Errorf("statusLabel(false) = %q, want error", got)
	}
}
