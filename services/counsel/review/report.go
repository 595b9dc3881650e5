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
	"bytes"
	"fmt"
	"strings"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// Report Rendering
// =============================================================================

// Renderer turns a completed review into a downloadable artifact.
type Renderer interface {
	// Render returns the report bytes, MIME type, and file extension.
	Render(review datatypes.ContractReview) ([]byte, string, string, error)
}

// MarkdownRenderer renders the report as a Chinese-language markdown
// document.
type MarkdownRenderer struct{}

func (MarkdownRenderer) Render(review datatypes.ContractReview) ([]byte, string, string, error) {
	if review.Result == nil {
		return nil, "", "", datatypes.NewError(datatypes.KindConflict,
			"review %s has no report", review.ID)
	}
	report := review.Result

	var sb strings.Builder
	fmt.Fprintf(&sb, "# 合同审查报告\n\n")
	fmt.Fprintf(&sb, "**文件**：%s  \n", review.Filename)
	fmt.Fprintf(&sb, "**生成时间**：%s  \n", report.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "**合规评分**：%d/100\n\n", report.ComplianceScore)

	fmt.Fprintf(&sb, "## 执行摘要\n\n")
	fmt.Fprintf(&sb, "- 合同类型：%s\n", report.Summary.ContractType)
	fmt.Fprintf(&sb, "- 整体风险：%s\n", report.Summary.RiskLevel)
	if report.Summary.Reason != "" {
		fmt.Fprintf(&sb, "- 评级理由：%s\n", report.Summary.Reason)
	}
	if len(report.Summary.CoreRisks) > 0 {
		fmt.Fprintf(&sb, "\n**核心风险**\n\n")
		for _, risk := range report.Summary.CoreRisks {
			fmt.Fprintf(&sb, "- %s\n", risk)
		}
	}
	if len(report.Summary.ActionSuggestions) > 0 {
		fmt.Fprintf(&sb, "\n**行动建议**\n\n")
		for _, action := range report.Summary.ActionSuggestions {
			fmt.Fprintf(&sb, "- %s\n", action)
		}
	}

	fmt.Fprintf(&sb, "\n## 风险统计\n\n")
	fmt.Fprintf(&sb, "| 等级 | 数量 |\n|---|---|\n")
	fmt.Fprintf(&sb, "| 高 | %d |\n| 中 | %d |\n| 低 | %d |\n",
		report.RiskStats.High, report.RiskStats.Medium, report.RiskStats.Low)

	if len(report.Analysis.RiskAssessments) > 0 {
		fmt.Fprintf(&sb, "\n## 风险分析\n\n")
		for _, dim := range report.Analysis.RiskAssessments {
			fmt.Fprintf(&sb, "### %s（%s）\n\n%s\n\n", dim.DimensionName, dim.RiskLevel, dim.Description)
			for _, point := range dim.RiskPoints {
				fmt.Fprintf(&sb, "- %s\n", point)
			}
			if dim.LegalBasis != "" {
				fmt.Fprintf(&sb, "\n法律依据：%s\n", dim.LegalBasis)
			}
			sb.WriteString("\n")
		}
	}

	if len(report.Analysis.KeyClauses) > 0 {
		fmt.Fprintf(&sb, "## 关键条款\n\n")
		for _, clause := range report.Analysis.KeyClauses {
			fmt.Fprintf(&sb, "### %s\n\n%s\n\n", clause.Title, clause.Analysis)
			if !clause.IsComplete && clause.Suggestion != "" {
				fmt.Fprintf(&sb, "建议：%s\n\n", clause.Suggestion)
			}
		}
	}

	if len(report.Improvements) > 0 {
		fmt.Fprintf(&sb, "## 修改建议\n\n")
		for i, item := range report.Improvements {
			fmt.Fprintf(&sb, "%d. **[%s]** %s\n   修改方案：%s\n", i+1, item.Priority, item.Problem, item.Modification)
		}
	}

	return []byte(sb.String()), "text/markdown; charset=utf-8", "md", nil
}

// PDFRenderer wraps the markdown report body in a minimal single-stream
// PDF container, written by hand because no PDF composition library is
// in the dependency tree.
//
// Known limitation: the only embedded font is Type1 Helvetica with
// WinAnsi encoding, which cannot encode CJK characters, so the Chinese
// report text does not render as glyphs in most viewers. The container
// is structurally valid PDF; the markdown and JSON renderings are the
// faithful report artifacts.
type PDFRenderer struct{}

func (PDFRenderer) Render(review datatypes.ContractReview) ([]byte, string, string, error) {
	body, _, _, err := MarkdownRenderer{}.Render(review)
	if err != nil {
		return nil, "", "", err
	}

	stream := new(bytes.Buffer)
	fmt.Fprintf(stream, "BT /F1 10 Tf 50 780 Td 14 TL\n")
	for _, line := range strings.Split(string(body), "\n") {
		fmt.Fprintf(stream, "(%s) Tj T*\n", escapePDFString(line))
	}
	fmt.Fprintf(stream, "ET\n")

	var buf bytes.Buffer
	var offsets [6]int
	write := func(obj int, s string) {
		offsets[obj] = buf.Len()
		buf.WriteString(s)
	}

	buf.WriteString("%PDF-1.4\n")
	write(1, "1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	write(2, "2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	write(3, "3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] "+
		"/Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>\nendobj\n")
	write(4, "4 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	write(5, fmt.Sprintf("5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		stream.Len(), stream.String()))

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), "application/pdf", "pdf", nil
}

// escapePDFString escapes the delimiters of a PDF literal string.
func escapePDFString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `(`, `\(`)
	s = strings.ReplaceAll(s, `)`, `\)`)
	return s
}
