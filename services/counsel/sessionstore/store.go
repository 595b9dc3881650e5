// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessionstore persists chat sessions and their message history.
//
// The store guarantees that message sequence numbers within a session are
// strictly monotonic and gap-free, even under concurrent appends. Callers
// never pick sequence numbers; AppendMessage assigns them.
package sessionstore

import (
	"context"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// Store is the session persistence port.
type Store interface {
	// CreateSession creates a new session owned by userID. Title may be
	// empty; it is usually filled in later from the first user message.
	CreateSession(ctx context.Context, userID, title string) (datatypes.ChatSession, error)

	// GetSession returns the session or a NotFound error.
	GetSession(ctx context.Context, sessionID string) (datatypes.ChatSession, error)

	// ListSessions returns the user's sessions, most recently updated
	// first.
	ListSessions(ctx context.Context, userID string, limit int) ([]datatypes.ChatSession, error)

	// UpdateTitle replaces the session title.
	UpdateTitle(ctx context.Context, sessionID, title string) error

	// AppendMessage persists one turn, assigning the next sequence number.
	// It also bumps the session's updated_at.
	AppendMessage(ctx context.Context, sessionID string, role datatypes.MessageRole, content string, metadata map[string]any) (datatypes.ChatMessage, error)

	// RecentMessages returns the last limit messages of a session in
	// ascending sequence order.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]datatypes.ChatMessage, error)

	// DeleteSession removes the session and all of its messages. Deleting
	// a missing session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) error
}
