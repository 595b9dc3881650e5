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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/observability"
	"github.com/clauselens/clauselens/services/counsel/review"
	"github.com/clauselens/clauselens/services/counsel/sessionstore"
	"github.com/clauselens/clauselens/services/llm"
)

// =============================================================================
// Test Fakes
// =============================================================================

// fakeLLM returns a fixed response and records every prompt it saw.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, params llm.GenerationParams) (<-chan llm.Chunk, error) {
	out, err := f.Generate(ctx, prompt, params)
	ch := make(chan llm.Chunk, 8)
	go func() {
		defer close(ch)
		if err != nil {
			ch <- llm.Chunk{Type: llm.ChunkError, Err: err}
			return
		}
		// Two content chunks so tests can observe accumulation.
		half := len(out) / 2
		for half > 0 && !isRuneBoundary(out, half) {
			half++
		}
		ch <- llm.Chunk{Type: llm.ChunkContent, Content: out[:half]}
		if half < len(out) {
			ch <- llm.Chunk{Type: llm.ChunkContent, Content: out[half:]}
		}
		ch <- llm.Chunk{Type: llm.ChunkComplete}
	}()
	return ch, nil
}

func isRuneBoundary(s string, i int) bool {
	return i >= len(s) || (s[i]&0xC0) != 0x80
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// fakeSearcher returns canned segments and records queries. When
// perCall is set, call n returns perCall[n] (the last entry repeats).
type fakeSearcher struct {
	mu       sync.Mutex
	segments []datatypes.ScoredSegment
	perCall  [][]datatypes.ScoredSegment
	err      error
	queries  []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]datatypes.ScoredSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.queries)
	f.queries = append(f.queries, query)
	if f.perCall != nil {
		if call >= len(f.perCall) {
			call = len(f.perCall) - 1
		}
		return f.perCall[call], f.err
	}
	return f.segments, f.err
}

func (f *fakeSearcher) seenQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// =============================================================================
// Harness
// =============================================================================

var (
	metricsOnce sync.Once
	testMetrics *observability.Metrics
)

func sharedMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		testMetrics = observability.InitMetrics()
	})
	return testMetrics
}

func newTestChatService(local, remote *fakeLLM, search Searcher) *ChatService {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := &ChatService{
		Sessions: sessionstore.NewMemoryStore(),
		Search:   search,
		Local:    local,
		Prompts:  review.DefaultPrompts(log),
		Metrics:  sharedMetrics(),
		Log:      log,
	}
	if remote != nil {
		svc.Remote = remote
	}
	return svc
}

func newChatRouter(svc *ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/chat", HandleUnifiedChat(svc))
	router.POST("/chat/stream", HandleChatStream(svc))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestResolveModelType(t *testing.T) {
	svc := newTestChatService(&fakeLLM{}, nil, nil)
	off := false

	cases := []struct {
		name string
		req  datatypes.UnifiedChatRequest
		want datatypes.ModelType
	}{
		{
			name: "explicit type passes through",
			req:  datatypes.UnifiedChatRequest{Message: "你好", ModelType: datatypes.ModelTypeBasic},
			want: datatypes.ModelTypeBasic,
		},
		{
			name: "unified short conversational goes direct",
			req:  datatypes.UnifiedChatRequest{Message: "谢谢，明白了。", ModelType: datatypes.ModelTypeUnified},
			want: datatypes.ModelTypeAdvanced,
		},
		{
			name: "unified long question escalates to double retrieval",
			req: datatypes.UnifiedChatRequest{
				Message:   strings.Repeat("这是一个很长的法律问题，", 20),
				ModelType: datatypes.ModelTypeUnified,
			},
			want: datatypes.ModelTypeAdvancedRAG,
		},
		{
			name: "unified short open-ended semantic question escalates",
			req:  datatypes.UnifiedChatRequest{Message: "劳动合同试用期最长多久", ModelType: datatypes.ModelTypeUnified},
			want: datatypes.ModelTypeAdvancedRAG,
		},
		{
			name: "unified article citation goes direct, single retrieval",
			req:  datatypes.UnifiedChatRequest{Message: "民法典第五百七十七条", ModelType: datatypes.ModelTypeUnified},
			want: datatypes.ModelTypeAdvanced,
		},
		{
			name: "knowledge base off never escalates",
			req: datatypes.UnifiedChatRequest{
				Message:          strings.Repeat("这是一个很长的法律问题，", 20),
				ModelType:        datatypes.ModelTypeUnified,
				UseKnowledgeBase: &off,
			},
			want: datatypes.ModelTypeAdvanced,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.EnsureDefaults()
			assert.Equal(t, tc.want, svc.resolveModelType(&tc.req))
		})
	}
}

func TestRetrieveRunsForDirectModelTypes(t *testing.T) {
	search := &fakeSearcher{segments: []datatypes.ScoredSegment{
		{DocumentTitle: "民法典", Text: "条文", Score: 0.9},
	}}
	svc := newTestChatService(&fakeLLM{response: "ok"}, nil, search)

	for _, modelType := range []datatypes.ModelType{datatypes.ModelTypeBasic, datatypes.ModelTypeAdvanced} {
		req := datatypes.UnifiedChatRequest{Message: "试用期最长多久", ModelType: modelType}
		req.EnsureDefaults()
		segments := svc.retrieve(context.Background(), &req, modelType)
		require.Len(t, segments, 1, string(modelType))
	}
	assert.Equal(t, []string{"试用期最长多久", "试用期最长多久"}, search.seenQueries())

	// Disabling the knowledge base suppresses retrieval entirely.
	off := false
	req := datatypes.UnifiedChatRequest{
		Message:          "试用期最长多久",
		ModelType:        datatypes.ModelTypeBasic,
		UseKnowledgeBase: &off,
	}
	req.EnsureDefaults()
	assert.Nil(t, svc.retrieve(context.Background(), &req, datatypes.ModelTypeBasic))
	assert.Len(t, search.seenQueries(), 2)
}

func TestRetrieveAdvancedRAGRetrievesTwiceAndReRanks(t *testing.T) {
	search := &fakeSearcher{perCall: [][]datatypes.ScoredSegment{
		{
			{SegmentID: "seg-1", DocumentTitle: "民法典", Text: "共同命中", Score: 0.70},
			{SegmentID: "seg-2", DocumentTitle: "民法典", Text: "第一轮命中", Score: 0.60},
		},
		{
			{SegmentID: "seg-3", DocumentTitle: "劳动合同法", Text: "第二轮命中", Score: 0.90},
			{SegmentID: "seg-1", DocumentTitle: "民法典", Text: "共同命中", Score: 0.75},
		},
	}}
	local := &fakeLLM{response: "重写后的查询"}
	svc := newTestChatService(local, nil, search)

	req := datatypes.UnifiedChatRequest{Message: "违约责任如何认定", ModelType: datatypes.ModelTypeAdvancedRAG}
	req.EnsureDefaults()
	segments := svc.retrieve(context.Background(), &req, datatypes.ModelTypeAdvancedRAG)

	// First pass uses the original query, second the rewritten one.
	assert.Equal(t, []string{"违约责任如何认定", "重写后的查询"}, search.seenQueries())

	// Union of both passes, deduplicated on segment id with the better
	// score kept, re-ranked by score descending.
	require.Len(t, segments, 3)
	assert.Equal(t, "seg-3", segments[0].SegmentID)
	assert.Equal(t, "seg-1", segments[1].SegmentID)
	assert.Equal(t, 0.75, segments[1].Score)
	assert.Equal(t, "seg-2", segments[2].SegmentID)
}

func TestClientForRouting(t *testing.T) {
	local := &fakeLLM{response: "local"}
	remote := &fakeLLM{response: "remote"}
	svc := newTestChatService(local, remote, nil)

	client, name := svc.clientFor(datatypes.ModelTypeBasic, datatypes.ModelNameRemote)
	assert.Same(t, local, client.(*fakeLLM))
	assert.Equal(t, "local", name)

	client, name = svc.clientFor(datatypes.ModelTypeAdvanced, datatypes.ModelNameRemote)
	assert.Same(t, remote, client.(*fakeLLM))
	assert.Equal(t, "remote", name)

	noRemote := newTestChatService(local, nil, nil)
	client, name = noRemote.clientFor(datatypes.ModelTypeAdvanced, datatypes.ModelNameRemote)
	assert.Same(t, local, client.(*fakeLLM))
	assert.Equal(t, "local", name)
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandleUnifiedChat(t *testing.T) {
	local := &fakeLLM{response: "重写后的查询"}
	remote := &fakeLLM{response: "根据民法典第五百七十七条，违约方应当承担违约责任。"}
	search := &fakeSearcher{segments: []datatypes.ScoredSegment{{
		DocumentTitle: "民法典",
		Text:          "当事人一方不履行合同义务的，应当承担继续履行、采取补救措施或者赔偿损失等违约责任。",
		Score:         0.95,
		Metadata:      map[string]any{"article_number": "第五百七十七条"},
	}}}
	svc := newTestChatService(local, remote, search)
	router := newChatRouter(svc)

	w := postJSON(t, router, "/chat", datatypes.UnifiedChatRequest{
		Message:   "民法典第五百七十七条对违约责任是怎么规定的？",
		ModelType: datatypes.ModelTypeAdvancedRAG,
		ModelName: datatypes.ModelNameRemote,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.UnifiedChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, remote.response, resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "remote", resp.Model)
	assert.Equal(t, datatypes.ModelTypeAdvancedRAG, resp.ModelType)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "民法典", resp.Sources[0].DocumentTitle)
	require.NotNil(t, resp.Usage)
	assert.Positive(t, resp.Usage.PromptTokens)

	// Both turns persisted, user first.
	msgs, err := svc.Sessions.RecentMessages(context.Background(), resp.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Equal(t, datatypes.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "remote", msgs[1].Metadata["model"])

	// Retrieval context made it into the generation prompt.
	assert.Contains(t, remote.lastPrompt(), "参考法律条文：")
	assert.Contains(t, remote.lastPrompt(), "[doc:民法典 §第五百七十七条]")
}

func TestHandleUnifiedChatContinuesSession(t *testing.T) {
	local := &fakeLLM{response: "第一轮回答"}
	svc := newTestChatService(local, nil, nil)
	router := newChatRouter(svc)

	w := postJSON(t, router, "/chat", datatypes.UnifiedChatRequest{
		Message:   "什么是违约责任？",
		ModelType: datatypes.ModelTypeBasic,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var first datatypes.UnifiedChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	local.response = "第二轮回答"
	w = postJSON(t, router, "/chat", datatypes.UnifiedChatRequest{
		Message:        "那违约金呢？",
		ConversationID: first.ConversationID,
		ModelType:      datatypes.ModelTypeBasic,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second datatypes.UnifiedChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.ConversationID, second.ConversationID)

	// Earlier turns appear in the second prompt as history.
	assert.Contains(t, local.lastPrompt(), "用户：什么是违约责任？")
	assert.Contains(t, local.lastPrompt(), "助手：第一轮回答")

	msgs, err := svc.Sessions.RecentMessages(context.Background(), first.ConversationID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestHandleUnifiedChatUnknownSession(t *testing.T) {
	svc := newTestChatService(&fakeLLM{response: "ok"}, nil, nil)
	router := newChatRouter(svc)

	w := postJSON(t, router, "/chat", datatypes.UnifiedChatRequest{
		Message:        "你好",
		ConversationID: "2f1f9a36-8f0f-4a5e-9e57-0a6d3c1b2e4d",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleUnifiedChatRejectsBadRequests(t *testing.T) {
	svc := newTestChatService(&fakeLLM{response: "ok"}, nil, nil)
	router := newChatRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/chat", datatypes.UnifiedChatRequest{Message: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/chat", datatypes.UnifiedChatRequest{
		Message:        "你好",
		ConversationID: "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUnifiedChatRetrievalFailureDegrades(t *testing.T) {
	local := &fakeLLM{response: "没有上下文也能回答。"}
	search := &fakeSearcher{err: datatypes.NewError(datatypes.KindTransient, "index down")}
	svc := newTestChatService(local, nil, search)
	router := newChatRouter(svc)

	w := postJSON(t, router, "/chat", datatypes.UnifiedChatRequest{
		Message:   "民法典第五百七十七条规定了什么？",
		ModelType: datatypes.ModelTypeAdvancedRAG,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.UnifiedChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Sources)
	assert.NotContains(t, local.lastPrompt(), "参考法律条文：")
}

// =============================================================================
// Streaming Tests
// =============================================================================

func TestHandleChatStream(t *testing.T) {
	local := &fakeLLM{response: "流式回答的完整内容。"}
	svc := newTestChatService(local, nil, nil)
	router := newChatRouter(svc)

	w := postJSON(t, router, "/chat/stream", datatypes.UnifiedChatRequest{
		Message:   "你好",
		ModelType: datatypes.ModelTypeBasic,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := parseFrames(t, w.Body.String())
	require.NotEmpty(t, frames)

	var content strings.Builder
	for _, frame := range frames[:len(frames)-1] {
		assert.Equal(t, "content", frame["type"])
		content.WriteString(frame["content"].(string))
	}
	assert.Equal(t, local.response, content.String())

	terminal := frames[len(frames)-1]
	assert.Equal(t, "complete", terminal["type"])
	conversationID := terminal["conversationId"].(string)
	assert.NotEmpty(t, conversationID)

	// Hash chain is intact across the whole stream.
	prev := ""
	for _, frame := range frames {
		assert.Equal(t, prev, frame["prevHash"])
		prev = frame["hash"].(string)
	}

	// The assembled answer was persisted.
	msgs, err := svc.Sessions.RecentMessages(context.Background(), conversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, local.response, msgs[1].Content)
	assert.NotContains(t, msgs[1].Metadata, "cancelled")
}

func TestHandleChatStreamErrorFrame(t *testing.T) {
	local := &fakeLLM{err: datatypes.NewError(datatypes.KindTransient, "backend down")}
	svc := newTestChatService(local, nil, nil)
	router := newChatRouter(svc)

	w := postJSON(t, router, "/chat/stream", datatypes.UnifiedChatRequest{
		Message:   "你好",
		ModelType: datatypes.ModelTypeBasic,
	})
	require.Equal(t, http.StatusOK, w.Code)

	frames := parseFrames(t, w.Body.String())
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last["type"])
	assert.NotEmpty(t, last["error"])
}
