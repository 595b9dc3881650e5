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

import "testing"

func TestReviewStatusTransitions(t *testing.T) {
	tests := []struct {
		from ReviewStatus
		to   ReviewStatus
		ok   bool
	}{
		{ReviewPending, ReviewProcessing, true},
		{ReviewPending, ReviewFailed, true},
		{ReviewPending, ReviewCompleted, false},
		{ReviewProcessing, ReviewCompleted, true},
		{ReviewProcessing, ReviewFailed, true},
		{ReviewProcessing, ReviewPending, false},
		{ReviewCompleted, ReviewProcessing, false},
		{ReviewCompleted, ReviewFailed, false},
		{ReviewFailed, ReviewProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestStageProgress(t *testing.T) {
	tests := []struct {
		stage ReviewStage
		want  int
	}{
		{StageParsing, 20},
		{StageAnalyzing, 60},
		{StageGeneratingReport, 90},
		{StageCompleted, 100},
		{StageError, 0},
	}
	for _, tt := range tests {
		if got := StageProgress(tt.stage); got != tt.want {
			t.Errorf("StageProgress(%s) = %d, want %d", tt.stage, got, tt.want)
		}
	}
}

func TestComplianceScore(t *testing.T) {
	tests := []struct {
		name  string
		stats RiskStats
		want  int
	}{
		{name: "clean contract", stats: RiskStats{}, want: 100},
		{name: "one low", stats: RiskStats{Low: 1}, want: 98},
		{name: "mixed", stats: RiskStats{High: 1, Medium: 2, Low: 3}, want: 100 - 35},
		{name: "penalty capped at 40", stats: RiskStats{High: 10}, want: 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.ComplianceScore(); got != tt.want {
				t.Errorf("ComplianceScore() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxRiskLevel(t *testing.T) {
	if got := MaxRiskLevel(RiskLow, RiskHigh); got != RiskHigh {
		t.Errorf("MaxRiskLevel(LOW, HIGH) = %s", got)
	}
	if got := MaxRiskLevel(RiskMedium, RiskLow); got != RiskMedium {
		t.Errorf("MaxRiskLevel(MEDIUM, LOW) = %s", got)
	}
	if got := MaxRiskLevel("", RiskLow); got != RiskLow {
		t.Errorf("MaxRiskLevel(unknown, LOW) = %s", got)
	}
}
