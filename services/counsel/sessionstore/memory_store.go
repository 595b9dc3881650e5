// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessionstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// MemoryStore is an in-process Store used by tests and local development.
// It honors the same sequence and cascade-delete contracts as the
// Weaviate-backed store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]datatypes.ChatSession
	messages map[string][]datatypes.ChatMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]datatypes.ChatSession{},
		messages: map[string][]datatypes.ChatMessage{},
	}
}

// CreateSession implements Store.
func (m *MemoryStore) CreateSession(_ context.Context, userID, title string) (datatypes.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	session := datatypes.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[session.ID] = session
	return session, nil
}

// GetSession implements Store.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (datatypes.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return datatypes.ChatSession{}, datatypes.NewError(datatypes.KindNotFound,
			"session %s not found", sessionID)
	}
	return session, nil
}

// ListSessions implements Store.
func (m *MemoryStore) ListSessions(_ context.Context, userID string, limit int) ([]datatypes.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []datatypes.ChatSession
	for _, session := range m.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateTitle implements Store.
func (m *MemoryStore) UpdateTitle(_ context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return datatypes.NewError(datatypes.KindNotFound, "session %s not found", sessionID)
	}
	session.Title = title
	session.UpdatedAt = time.Now()
	m.sessions[sessionID] = session
	return nil
}

// AppendMessage implements Store.
func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, role datatypes.MessageRole, content string, metadata map[string]any) (datatypes.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return datatypes.ChatMessage{}, datatypes.NewError(datatypes.KindNotFound,
			"session %s not found", sessionID)
	}

	now := time.Now()
	msg := datatypes.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Seq:       int64(len(m.messages[sessionID])) + 1,
		CreatedAt: now,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)

	session.UpdatedAt = now
	m.sessions[sessionID] = session
	return msg, nil
}

// RecentMessages implements Store.
func (m *MemoryStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]datatypes.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 30
	}
	msgs := m.messages[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]datatypes.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// DeleteSession implements Store.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}
