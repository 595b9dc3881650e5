// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"time"
)

// =============================================================================
// Review State Machine
// =============================================================================

// ReviewStatus is the coarse review state. Transitions are monotonic:
// PENDING → PROCESSING → COMPLETED | FAILED, never backward.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "PENDING"
	ReviewProcessing ReviewStatus = "PROCESSING"
	ReviewCompleted  ReviewStatus = "COMPLETED"
	ReviewFailed     ReviewStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewCompleted || s == ReviewFailed
}

// CanTransitionTo enforces the one-way lifecycle.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	switch s {
	case ReviewPending:
		return next == ReviewProcessing || next == ReviewFailed
	case ReviewProcessing:
		return next == ReviewCompleted || next == ReviewFailed
	default:
		return false
	}
}

// ReviewStage names the pipeline stage reported in progress events.
type ReviewStage string

const (
	StageParsing          ReviewStage = "PARSING"
	StageAnalyzing        ReviewStage = "ANALYZING"
	StageGeneratingReport ReviewStage = "GENERATING_REPORT"
	StageCompleted        ReviewStage = "COMPLETED"
	StageError            ReviewStage = "ERROR"
)

// StageProgress maps each stage to its reported percentage.
func StageProgress(stage ReviewStage) int {
	switch stage {
	case StageParsing:
		return 20
	case StageAnalyzing:
		return 60
	case StageGeneratingReport:
		return 90
	case StageCompleted:
		return 100
	default:
		return 0
	}
}

// ProgressEvent is one SSE frame on the review progress stream. The
// terminal frame has Completed=true and Stage COMPLETED or ERROR.
type ProgressEvent struct {
	ReviewID  string      `json:"reviewId"`
	Stage     ReviewStage `json:"stage"`
	Progress  int         `json:"progress"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Completed bool        `json:"completed"`
	Timestamp int64       `json:"timestamp"`
}

// =============================================================================
// Risk Model
// =============================================================================

// RiskLevel orders contract risks. Max aggregation uses the declared order.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// riskRank supports max aggregation over levels.
var riskRank = map[RiskLevel]int{RiskLow: 1, RiskMedium: 2, RiskHigh: 3}

// Valid reports whether the level is a declared enum value.
func (l RiskLevel) Valid() bool {
	_, ok := riskRank[l]
	return ok
}

// MaxRiskLevel returns the higher of two levels. Unknown levels rank
// below LOW.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// ContractReview is the persisted review record.
type ContractReview struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	Filename      string       `json:"filename"`
	Size          int64        `json:"size"`
	Hash          string       `json:"hash"`
	ExtractedText string       `json:"-"`
	Status        ReviewStatus `json:"status"`
	RiskLevel     RiskLevel    `json:"riskLevel,omitempty"`
	TotalRisks    int          `json:"totalRisks,omitempty"`
	Result        *ReportModel `json:"result,omitempty"`
	ErrorMessage  string       `json:"errorMessage,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
}

// RiskClause is one identified risky clause, owned by its review.
type RiskClause struct {
	ReviewID      string    `json:"reviewId"`
	ClauseText    string    `json:"clauseText"`
	RiskType      string    `json:"riskType"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Description   string    `json:"description"`
	Suggestion    string    `json:"suggestion"`
	LegalBasis    string    `json:"legalBasis,omitempty"`
	PositionStart int       `json:"positionStart,omitempty"`
	PositionEnd   int       `json:"positionEnd,omitempty"`
}

// UploadContractResponse is returned by POST /contracts/upload.
type UploadContractResponse struct {
	ReviewID string       `json:"reviewId"`
	Status   ReviewStatus `json:"status"`
	FileHash string       `json:"fileHash"`
	Size     int64        `json:"size"`
}

// =============================================================================
// Structured Analyzer Outputs
// =============================================================================

// RiskDimension is one entry of the risk-dimensions analysis prompt.
type RiskDimension struct {
	DimensionName string    `json:"dimensionName"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	RiskPoints    []string  `json:"riskPoints"`
	Description   string    `json:"description"`
	LegalBasis    string    `json:"legalBasis,omitempty"`
	Improvements  []string  `json:"improvements,omitempty"`
}

// ValidateSchema checks the fields a usable dimension must carry.
// Objects that parse as JSON but fail here count as invalid structured
// output, not as findings.
func (d RiskDimension) ValidateSchema() error {
	if strings.TrimSpace(d.DimensionName) == "" {
		return NewError(KindInvalidStructuredOutput, "risk dimension missing dimensionName")
	}
	if !d.RiskLevel.Valid() {
		return NewError(KindInvalidStructuredOutput,
			"risk dimension %q has riskLevel %q, want LOW/MEDIUM/HIGH", d.DimensionName, d.RiskLevel)
	}
	return nil
}

// KeyClause is one entry of the key-clauses analysis prompt.
type KeyClause struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Analysis   string `json:"analysis"`
	Importance string `json:"importance,omitempty"`
	IsComplete bool   `json:"isComplete"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidateSchema requires a title and the clause text.
func (k KeyClause) ValidateSchema() error {
	if strings.TrimSpace(k.Title) == "" {
		return NewError(KindInvalidStructuredOutput, "key clause missing title")
	}
	if strings.TrimSpace(k.Content) == "" {
		return NewError(KindInvalidStructuredOutput, "key clause %q missing content", k.Title)
	}
	return nil
}

// =============================================================================
// Report Model
// =============================================================================

// ExecutiveSummary opens the report.
type ExecutiveSummary struct {
	ContractType      string    `json:"contractType"`
	RiskLevel         RiskLevel `json:"riskLevel"`
	Reason            string    `json:"reason"`
	CoreRisks         []string  `json:"coreRisks"`
	ActionSuggestions []string  `json:"actionSuggestions"`
}

// ValidateSchema requires a valid overall risk level; prose fields may
// legitimately be short.
func (s ExecutiveSummary) ValidateSchema() error {
	if !s.RiskLevel.Valid() {
		return NewError(KindInvalidStructuredOutput,
			"executive summary has riskLevel %q, want LOW/MEDIUM/HIGH", s.RiskLevel)
	}
	return nil
}

// DeepAnalysis is the analytic body of the report.
type DeepAnalysis struct {
	LegalNature     string          `json:"legalNature,omitempty"`
	KeyClauses      []KeyClause     `json:"keyClauses"`
	RiskAssessments []RiskDimension `json:"riskAssessments"`
	Compliance      string          `json:"compliance,omitempty"`
	BusinessImpact  string          `json:"businessImpact,omitempty"`
}

// ImprovementSuggestion is one actionable report item.
type ImprovementSuggestion struct {
	Priority       string `json:"priority"`
	Problem        string `json:"problem"`
	Modification   string `json:"modification"`
	ExpectedEffect string `json:"expectedEffect,omitempty"`
}

// ValidateSchema requires the problem statement and a concrete
// modification.
func (i ImprovementSuggestion) ValidateSchema() error {
	if strings.TrimSpace(i.Problem) == "" {
		return NewError(KindInvalidStructuredOutput, "improvement missing problem")
	}
	if strings.TrimSpace(i.Modification) == "" {
		return NewError(KindInvalidStructuredOutput, "improvement %q missing modification", i.Problem)
	}
	return nil
}

// RiskStats counts findings per level.
type RiskStats struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns the finding count across levels.
func (r RiskStats) Total() int { return r.High + r.Medium + r.Low }

// ComplianceScore computes 100 minus a capped weighted penalty. The
// penalty caps at 40, so the score floor is 60.
func (r RiskStats) ComplianceScore() int {
	penalty := r.High*15 + r.Medium*7 + r.Low*2
	if penalty > 40 {
		penalty = 40
	}
	return 100 - penalty
}

// ReportModel is the final review artifact. Empty sections are explicitly
// empty, never missing, so clients can render without nil probes.
type ReportModel struct {
	Summary         ExecutiveSummary        `json:"summary"`
	Analysis        DeepAnalysis            `json:"analysis"`
	Improvements    []ImprovementSuggestion `json:"improvements"`
	RiskStats       RiskStats               `json:"riskStats"`
	ComplianceScore int                     `json:"complianceScore"`
	GeneratedAt     time.Time               `json:"generatedAt"`
}
