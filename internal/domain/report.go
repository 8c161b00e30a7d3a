package domain

import (
	"strings"
	"time"
)

// ShiftLevel is the categorical magnitude the vision judge assigns to a
// lighting or style change between two images.
type ShiftLevel string

const (
	ShiftLow      ShiftLevel = "low"
	ShiftModerate ShiftLevel = "moderate"
	ShiftHigh     ShiftLevel = "high"
)

// NormalizeShiftLevel coerces a free-form model answer to a ShiftLevel.
// Unrecognized values default to moderate rather than failing the parse.
func NormalizeShiftLevel(value string) ShiftLevel {
	switch ShiftLevel(strings.ToLower(strings.TrimSpace(value))) {
	case ShiftLow:
		return ShiftLow
	case ShiftHigh:
		return ShiftHigh
	default:
		return ShiftModerate
	}
}

// StructuralAssessment is the vision judge's structured explanation of how
// a candidate image diverges from the baseline.
type StructuralAssessment struct {
	// FacialStructureChanged reports whether the subject's facial
	// structure visibly changed between baseline and candidate.
	FacialStructureChanged bool `json:"facial_structure_changed"`

	// LightingShift categorizes the magnitude of the lighting change.
	LightingShift ShiftLevel `json:"lighting_shift"`

	// StyleDrift categorizes the magnitude of the stylistic change.
	StyleDrift ShiftLevel `json:"style_drift"`

	// Notes is the judge's free-text commentary. When the vision signal is
	// unavailable it carries the degraded-compare explanation instead.
	Notes string `json:"notes"`
}

// DefaultAssessment is the neutral explanation substituted when the vision
// signal is unavailable.
func DefaultAssessment() StructuralAssessment {
	return StructuralAssessment{
		FacialStructureChanged: false,
		LightingShift:          ShiftModerate,
		StyleDrift:             ShiftModerate,
		Notes:                  "Vision signal unavailable.",
	}
}

// ReportArtifacts holds the rendered comparison artifact references.
type ReportArtifacts struct {
	// DiffHeatmap is the path of the per-pixel difference heatmap image.
	DiffHeatmap string `json:"diff_heatmap"`

	// Overlay is the path of the heatmap blended over the baseline.
	Overlay string `json:"overlay"`
}

// ComparisonReport is the immutable result of one baseline/candidate
// comparison. It is created exactly once per compare invocation and
// persisted by the repository.
type ComparisonReport struct {
	// ReportID uniquely identifies this report.
	ReportID string `json:"report_id"`

	// ProjectID identifies the project the comparison ran in.
	ProjectID string `json:"project_id"`

	// BaselineCommitID is the project's active baseline at compare time.
	BaselineCommitID string `json:"baseline_commit_id"`

	// CandidateCommitID is the commit compared against the baseline.
	CandidateCommitID string `json:"candidate_commit_id"`

	// PixelDiffScore is the deterministic image-space diff score in [0,1].
	PixelDiffScore float64 `json:"pixel_diff_score"`

	// SemanticSimilarity is the embedding-level identity score in [0,1].
	// Holds the neutral 0.5 default when the semantic signal was missing.
	SemanticSimilarity float64 `json:"semantic_similarity"`

	// VisionStructuralScore is the vision judge's divergence score in
	// [0,1]. Holds the neutral 0.5 default when the signal was missing.
	VisionStructuralScore float64 `json:"vision_structural_score"`

	// DriftScore is the weighted composite of the three signals.
	DriftScore float64 `json:"drift_score"`

	// Threshold is the effective drift threshold at evaluation time.
	Threshold float64 `json:"threshold"`

	// Verdict is the pass/fail/inconclusive outcome.
	Verdict Verdict `json:"verdict"`

	// Degraded is true iff the semantic or vision signal was unavailable.
	Degraded bool `json:"degraded"`

	// Explanation is the structured description of the observed drift.
	Explanation StructuralAssessment `json:"explanation"`

	// Artifacts references the rendered heatmap and overlay images.
	Artifacts ReportArtifacts `json:"artifacts"`

	// CreatedAt records when the report was composed.
	CreatedAt time.Time `json:"created_at"`
}
