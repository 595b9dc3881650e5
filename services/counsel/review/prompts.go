// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package review

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// Prompt Library
// =============================================================================

// Prompt names used by the review pipeline and chat handlers.
const (
	PromptRiskDimensions   = "risk_dimensions"
	PromptKeyClauses       = "key_clauses"
	PromptExecutiveSummary = "executive_summary"
	PromptImprovements     = "improvements"
	PromptRepair           = "repair"
	PromptChatSystem       = "chat_system"
	PromptTitleGen         = "title_gen"
	PromptQueryRewrite     = "query_rewrite"
)

// PromptLibrary holds named prompt templates loaded from a YAML file.
//
// When constructed with Watch, edits to the file are hot-reloaded, so
// prompt tuning does not require a restart. A reload that fails to parse
// keeps the previous templates.
type PromptLibrary struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	log       *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPromptLibrary parses templates from raw YAML. The YAML document is a
// flat map of prompt name to template text.
func NewPromptLibrary(raw []byte, log *slog.Logger) (*PromptLibrary, error) {
	if log == nil {
		log = slog.Default()
	}
	lib := &PromptLibrary{log: log}
	templates, err := parseTemplates(raw)
	if err != nil {
		return nil, err
	}
	lib.templates = templates
	return lib, nil
}

// LoadPromptLibrary reads templates from a YAML file.
func LoadPromptLibrary(path string, log *slog.Logger) (*PromptLibrary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", path, err)
	}
	return NewPromptLibrary(raw, log)
}

func parseTemplates(raw []byte) (map[string]*template.Template, error) {
	var doc map[string]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse prompt YAML: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("prompt file declares no prompts")
	}

	templates := make(map[string]*template.Template, len(doc))
	for name, text := range doc {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %q: %w", name, err)
		}
		templates[name] = tmpl
	}
	return templates, nil
}

// Watch hot-reloads the library whenever path changes. Call Close to stop
// the watcher.
func (p *PromptLibrary) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch prompt file %s: %w", path, err)
	}

	p.watcher = watcher
	p.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				raw, err := os.ReadFile(path)
				if err != nil {
					p.log.Error("Prompt reload read failed", "path", path, "error", err)
					continue
				}
				templates, err := parseTemplates(raw)
				if err != nil {
					p.log.Error("Prompt reload parse failed, keeping previous prompts",
						"path", path, "error", err)
					continue
				}
				p.mu.Lock()
				p.templates = templates
				p.mu.Unlock()
				p.log.Info("Prompts reloaded", "path", path, "count", len(templates))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Error("Prompt watcher error", "error", err)
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if any.
func (p *PromptLibrary) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	return p.watcher.Close()
}

// Render executes the named template with data.
func (p *PromptLibrary) Render(name string, data map[string]any) (string, error) {
	p.mu.RLock()
	tmpl, ok := p.templates[name]
	p.mu.RUnlock()
	if !ok {
		return "", datatypes.NewError(datatypes.KindInternal, "unknown prompt %q", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return sb.String(), nil
}

// Has reports whether the named prompt exists.
func (p *PromptLibrary) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.templates[name]
	return ok
}

// DefaultPrompts returns the built-in prompt set used when no prompt file
// is configured.
func DefaultPrompts(log *slog.Logger) *PromptLibrary {
	lib, err := NewPromptLibrary([]byte(defaultPromptYAML), log)
	if err != nil {
		// The built-in YAML is a compile-time constant; a parse failure
		// here is a programming error.
		panic(fmt.Sprintf("built-in prompts failed to parse: %v", err))
	}
	return lib
}

const defaultPromptYAML = `
risk_dimensions: |
  你是一名资深合同审查律师。请从以下维度评估合同风险：付款与结算、违约责任、
  知识产权、保密义务、争议解决、合同解除。
  对每个存在风险的维度输出一个JSON对象，字段为：
  dimensionName, riskLevel (HIGH/MEDIUM/LOW), riskPoints (字符串数组),
  description, legalBasis, improvements (字符串数组)。
  只输出JSON对象，不要输出其他内容。

  合同全文：
  {{.ContractText}}

key_clauses: |
  你是一名资深合同审查律师。请识别以下合同中的关键条款。
  对每个关键条款输出一个JSON对象，字段为：
  title, content, analysis, importance, isComplete (布尔), suggestion。
  只输出JSON对象，不要输出其他内容。

  合同全文：
  {{.ContractText}}

executive_summary: |
  你是一名资深合同审查律师。请基于以下风险分析结果，给出合同审查执行摘要。
  输出一个JSON对象，字段为：
  contractType, riskLevel (HIGH/MEDIUM/LOW), reason,
  coreRisks (字符串数组), actionSuggestions (字符串数组)。
  只输出JSON对象，不要输出其他内容。

  风险分析结果：
  {{.Findings}}

improvements: |
  你是一名资深合同审查律师。请基于以下风险分析结果，给出合同修改建议。
  对每条建议输出一个JSON对象，字段为：
  priority (高/中/低), problem, modification, expectedEffect。
  只输出JSON对象，不要输出其他内容。

  风险分析结果：
  {{.Findings}}

repair: |
  你上一次的输出无法解析为合法的JSON。请修正格式问题后重新输出，
  只输出JSON，不要输出任何解释性文字。

  上一次的输出：
  {{.BrokenOutput}}

chat_system: |
  你是一名专业的中国法律助手。请基于提供的法律条文回答用户问题，
  引用条文时注明出处。对于提供的条文未覆盖的问题，请明确说明依据不足。

title_gen: |
  请用不超过15个字概括以下对话主题，直接输出标题，不要标点和引号。

  对话内容：
  {{.Message}}

query_rewrite: |
  请将以下用户问题改写为更适合法律条文检索的查询语句，保留法律名称和
  条文编号，直接输出改写后的查询。

  用户问题：
  {{.Query}}
`
