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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultPromptsComplete(t *testing.T) {
	lib := DefaultPrompts(nil)
	for _, name := range []string{
		PromptRiskDimensions, PromptKeyClauses, PromptExecutiveSummary,
		PromptImprovements, PromptRepair, PromptChatSystem,
		PromptTitleGen, PromptQueryRewrite,
	} {
		if !lib.Has(name) {
			t.Errorf("built-in prompt %q missing", name)
		}
	}
}

func TestRenderSubstitutes(t *testing.T) {
	lib := DefaultPrompts(nil)
	out, err := lib.Render(PromptRiskDimensions, map[string]any{"ContractText": "甲方乙方合同全文"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "甲方乙方合同全文") {
		t.Error("contract text not substituted")
	}
	if strings.Contains(out, "{{") {
		t.Error("unrendered template markers remain")
	}
}

func TestRenderUnknownPrompt(t *testing.T) {
	lib := DefaultPrompts(nil)
	if _, err := lib.Render("no_such_prompt", nil); err == nil {
		t.Error("expected error for unknown prompt")
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	if _, err := NewPromptLibrary([]byte(":\n  - not yaml"), nil); err == nil {
		t.Error("expected parse error")
	}
	if _, err := NewPromptLibrary([]byte(""), nil); err == nil {
		t.Error("expected error for empty prompt file")
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	if err := os.WriteFile(path, []byte("greeting: 你好\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	lib, err := LoadPromptLibrary(path, nil)
	if err != nil {
		t.Fatalf("LoadPromptLibrary failed: %v", err)
	}
	if err := lib.Watch(path); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer lib.Close()

	if err := os.WriteFile(path, []byte("greeting: 您好\nextra: 新增\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if lib.Has("extra") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reload did not pick up the new prompt")
		case <-time.After(20 * time.Millisecond):
		}
	}

	out, err := lib.Render("greeting", nil)
	if err != nil {
		t.Fatalf("Render after reload failed: %v", err)
	}
	if out != "您好" {
		t.Errorf("greeting = %q, want 您好", out)
	}
}
