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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// Weaviate Store
// =============================================================================

// WeaviateStore persists sessions in the ChatSession class and messages in
// the ChatMessage class.
//
// Sequence numbers are assigned under a per-session mutex. The next value
// is cached after the first append; a cold cache is seeded by querying the
// highest persisted seq. Because every append for a session funnels through
// the same mutex in this process, the sequence is gap-free as long as a
// single service instance owns writes for the session.
type WeaviateStore struct {
	client *weaviate.Client
	log    *slog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	nextSeq map[string]int64
}

func NewWeaviateStore(client *weaviate.Client, log *slog.Logger) *WeaviateStore {
	if log == nil {
		log = slog.Default()
	}
	return &WeaviateStore{
		client:  client,
		log:     log,
		locks:   map[string]*sync.Mutex{},
		nextSeq: map[string]int64{},
	}
}

// sessionLock returns the mutex guarding one session's sequence counter.
func (s *WeaviateStore) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

var sessionFields = []graphql.Field{
	{Name: "user_id"},
	{Name: "title"},
	{Name: "created_at"},
	{Name: "updated_at"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

var messageFields = []graphql.Field{
	{Name: "session_id"},
	{Name: "role"},
	{Name: "content"},
	{Name: "metadata_json"},
	{Name: "seq"},
	{Name: "created_at"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

// CreateSession implements Store.
func (s *WeaviateStore) CreateSession(ctx context.Context, userID, title string) (datatypes.ChatSession, error) {
	now := time.Now()
	session := datatypes.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.client.Data().Creator().
		WithClassName(datatypes.ClassChatSession).
		WithID(session.ID).
		WithProperties(map[string]any{
			"user_id":    session.UserID,
			"title":      session.Title,
			"created_at": now.UnixMilli(),
			"updated_at": now.UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		return datatypes.ChatSession{}, fmt.Errorf("failed to create session: %w", err)
	}

	// A fresh session has no messages, so the counter starts at 1.
	s.mu.Lock()
	s.nextSeq[session.ID] = 1
	s.mu.Unlock()
	return session, nil
}

// GetSession implements Store.
func (s *WeaviateStore) GetSession(ctx context.Context, sessionID string) (datatypes.ChatSession, error) {
	where := filters.Where().
		WithPath([]string{"id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassChatSession).
		WithFields(sessionFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return datatypes.ChatSession{}, fmt.Errorf("session lookup failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatSessionQueryResponse](result)
	if err != nil {
		return datatypes.ChatSession{}, fmt.Errorf("failed to parse session lookup: %w", err)
	}
	if len(parsed.Get.ChatSession) == 0 {
		return datatypes.ChatSession{}, datatypes.NewError(datatypes.KindNotFound,
			"session %s not found", sessionID)
	}
	return parsed.Get.ChatSession[0].ToChatSession(), nil
}

// ListSessions implements Store.
func (s *WeaviateStore) ListSessions(ctx context.Context, userID string, limit int) ([]datatypes.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	where := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueText(userID)

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassChatSession).
		WithFields(sessionFields...).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"updated_at"}, Order: graphql.Desc}).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("session list failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatSessionQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session list: %w", err)
	}
	sessions := make([]datatypes.ChatSession, 0, len(parsed.Get.ChatSession))
	for _, hit := range parsed.Get.ChatSession {
		sessions = append(sessions, hit.ToChatSession())
	}
	return sessions, nil
}

// UpdateTitle implements Store.
func (s *WeaviateStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	err := s.client.Data().Updater().
		WithClassName(datatypes.ClassChatSession).
		WithID(sessionID).
		WithProperties(map[string]any{
			"title":      title,
			"updated_at": time.Now().UnixMilli(),
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to update session title: %w", err)
	}
	return nil
}

// AppendMessage implements Store.
func (s *WeaviateStore) AppendMessage(ctx context.Context, sessionID string, role datatypes.MessageRole, content string, metadata map[string]any) (datatypes.ChatMessage, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	seq, err := s.reserveSeq(ctx, sessionID)
	if err != nil {
		return datatypes.ChatMessage{}, err
	}

	now := time.Now()
	msg := datatypes.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Seq:       seq,
		CreatedAt: now,
	}

	metadataJSON := ""
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return datatypes.ChatMessage{}, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	_, err = s.client.Data().Creator().
		WithClassName(datatypes.ClassChatMessage).
		WithID(msg.ID).
		WithProperties(map[string]any{
			"session_id":    sessionID,
			"role":          string(role),
			"content":       content,
			"metadata_json": metadataJSON,
			"seq":           seq,
			"created_at":    now.UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		// The reserved seq was never persisted; roll the counter back so
		// the sequence stays gap-free.
		s.mu.Lock()
		s.nextSeq[sessionID] = seq
		s.mu.Unlock()
		return datatypes.ChatMessage{}, fmt.Errorf("failed to persist message: %w", err)
	}

	if err := s.touchSession(ctx, sessionID, now); err != nil {
		s.log.Warn("Failed to bump session updated_at", "sessionID", sessionID, "error", err)
	}
	return msg, nil
}

// reserveSeq hands out the next sequence number, seeding the cache from
// the index on first use. Caller holds the session lock.
func (s *WeaviateStore) reserveSeq(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	next, ok := s.nextSeq[sessionID]
	s.mu.Unlock()

	if !ok {
		highest, err := s.highestSeq(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		next = highest + 1
	}

	s.mu.Lock()
	s.nextSeq[sessionID] = next + 1
	s.mu.Unlock()
	return next, nil
}

// highestSeq returns the largest persisted seq for a session, 0 when the
// session has no messages.
func (s *WeaviateStore) highestSeq(ctx context.Context, sessionID string) (int64, error) {
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassChatMessage).
		WithFields(graphql.Field{Name: "seq"}).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"seq"}, Order: graphql.Desc}).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("seq lookup failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatMessageQueryResponse](result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse seq lookup: %w", err)
	}
	if len(parsed.Get.ChatMessage) == 0 || parsed.Get.ChatMessage[0].Seq == nil {
		return 0, nil
	}
	return *parsed.Get.ChatMessage[0].Seq, nil
}

func (s *WeaviateStore) touchSession(ctx context.Context, sessionID string, at time.Time) error {
	return s.client.Data().Updater().
		WithClassName(datatypes.ClassChatSession).
		WithID(sessionID).
		WithProperties(map[string]any{"updated_at": at.UnixMilli()}).
		WithMerge().
		Do(ctx)
}

// RecentMessages implements Store. The window is fetched newest-first and
// reversed, so a long history never leaves the index.
func (s *WeaviateStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]datatypes.ChatMessage, error) {
	if limit <= 0 {
		limit = 30
	}
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassChatMessage).
		WithFields(messageFields...).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"seq"}, Order: graphql.Desc}).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("message list failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatMessageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message list: %w", err)
	}

	messages := make([]datatypes.ChatMessage, len(parsed.Get.ChatMessage))
	for i, hit := range parsed.Get.ChatMessage {
		messages[len(messages)-1-i] = hit.ToChatMessage()
	}
	return messages, nil
}

// DeleteSession implements Store. Messages are deleted first so a crash
// between the two steps never leaves orphaned messages behind a live
// session.
func (s *WeaviateStore) DeleteSession(ctx context.Context, sessionID string) error {
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ClassChatMessage).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}

	err = s.client.Data().Deleter().
		WithClassName(datatypes.ClassChatSession).
		WithID(sessionID).
		Do(ctx)
	if err != nil {
		s.log.Debug("Session delete returned error, treating missing as no-op",
			"sessionID", sessionID, "error", err)
	}

	s.mu.Lock()
	delete(s.nextSeq, sessionID)
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}
