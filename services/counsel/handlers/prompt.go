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
	"fmt"
	"strings"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/splitter"
)

// PromptBudgetTokens caps the assembled prompt. History is dropped
// oldest-first to fit; the system prompt, retrieval context, and the
// current message are never dropped.
const PromptBudgetTokens = 8000

// =============================================================================
// Prompt Assembly
// =============================================================================

// contextBlock formats retrieved segments as a citation block. Each
// passage is prefixed with its provenance so the model can cite it.
func contextBlock(segments []datatypes.ScoredSegment) string {
	if len(segments) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("参考法律条文：\n")
	for _, seg := range segments {
		ref := fmt.Sprintf("[doc:%s", seg.DocumentTitle)
		if article := seg.ArticleNumber(); article != "" {
			ref += " §" + article
		}
		ref += "]"
		fmt.Fprintf(&sb, "%s %s\n", ref, seg.Text)
	}
	return sb.String()
}

// buildPrompt assembles system prompt, retrieval context, history window,
// and the current message under PromptBudgetTokens.
//
// The fixed parts are budgeted first; history fills the remainder newest
// turns last, dropping oldest turns when the budget runs out. Returns the
// prompt and its estimated token count.
func buildPrompt(systemPrompt, retrievalCtx string, history []datatypes.ChatMessage, message string) (string, int) {
	userBlock := "用户：" + message + "\n助手："
	fixed := splitter.EstimateTokens(systemPrompt) +
		splitter.EstimateTokens(retrievalCtx) +
		splitter.EstimateTokens(userBlock)

	budget := PromptBudgetTokens - fixed
	var kept []string
	// Walk newest to oldest, keep what fits, then restore order.
	for i := len(history) - 1; i >= 0; i-- {
		turn := historyLine(history[i])
		cost := splitter.EstimateTokens(turn)
		if cost > budget {
			break
		}
		budget -= cost
		kept = append(kept, turn)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	if retrievalCtx != "" {
		sb.WriteString(retrievalCtx)
		sb.WriteString("\n")
	}
	for _, turn := range kept {
		sb.WriteString(turn)
		sb.WriteString("\n")
	}
	sb.WriteString(userBlock)

	prompt := sb.String()
	return prompt, splitter.EstimateTokens(prompt)
}

func historyLine(msg datatypes.ChatMessage) string {
	role := "用户"
	if msg.Role == datatypes.RoleAssistant {
		role = "助手"
	}
	return role + "：" + msg.Content
}

// toSourceRefs projects retrieval hits into the response citation shape.
func toSourceRefs(segments []datatypes.ScoredSegment) []datatypes.SourceRef {
	refs := make([]datatypes.SourceRef, 0, len(segments))
	for _, seg := range segments {
		refs = append(refs, seg.SourceRef())
	}
	return refs
}
