package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDriftScore_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		pixel    float64
		semantic float64
		vision   float64
	}{
		{"all zero", 0, 0, 0},
		{"all one", 1, 1, 1},
		{"identical images", 0, 1, 0},
		{"maximal drift", 1, 0, 1},
		{"mixed", 0.4, 0.7, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := DriftScore(tt.pixel, tt.semantic, tt.vision)
			assert.GreaterOrEqual(t, score, 0.0, "drift score below lower bound")
			assert.LessOrEqual(t, score, 1.0, "drift score above upper bound")
		})
	}
}

func TestDriftScore_Weighting(t *testing.T) {
	// drift = 0.40*(1-semantic) + 0.30*pixel + 0.30*vision
	score := DriftScore(0.2, 0.8, 0.1)
	assert.InDelta(t, 0.40*0.2+0.30*0.2+0.30*0.1, score, 1e-9, "drift score weighting mismatch")

	assert.InDelta(t, 0.0, DriftScore(0, 1, 0), 1e-9, "identical inputs should yield zero drift")
	assert.InDelta(t, 1.0, DriftScore(1, 0, 1), 1e-9, "maximal inputs should yield full drift")
}

func TestComputeVerdict(t *testing.T) {
	tests := []struct {
		name              string
		drift             float64
		threshold         float64
		degraded          bool
		pixel             float64
		semanticAvailable bool
		visionAvailable   bool
		want              Verdict
	}{
		{"within threshold passes", 0.10, 0.30, false, 0.05, true, true, VerdictPass},
		{"beyond threshold fails", 0.50, 0.30, false, 0.50, true, true, VerdictFail},
		{"degraded with strong pixel evidence fails", 0.01, 0.99, true, 0.80, false, true, VerdictFail},
		{"degraded with weak pixel evidence is inconclusive", 0.99, 0.01, true, 0.50, false, true, VerdictInconclusive},
		{"degraded missing vision is inconclusive", 0.20, 0.30, true, 0.70, true, false, VerdictInconclusive},
		{"exact threshold passes", 0.30, 0.30, false, 0.30, true, true, VerdictPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeVerdict(tt.drift, tt.threshold, tt.degraded, tt.pixel, tt.semanticAvailable, tt.visionAvailable)
			assert.Equal(t, tt.want, got, "verdict mismatch")
		})
	}
}

func TestCompositeScore(t *testing.T) {
	perfect := Rubric{
		PromptAdherence:          1,
		SubjectFidelity:          1,
		CompositionQuality:       1,
		StyleCoherence:           1,
		TechnicalArtifactPenalty: 0,
	}
	assert.InDelta(t, 0.90, CompositeScore(perfect), 1e-9, "perfect rubric should score 0.90")

	worst := Rubric{TechnicalArtifactPenalty: 1}
	assert.InDelta(t, -0.10, CompositeScore(worst), 1e-9, "worst rubric should score -0.10")

	neutral := NeutralFallbackRubric()
	assert.InDelta(t, 0.35*0.5+0.20*0.5+0.20*0.5+0.15*0.5-0.10*0.5, CompositeScore(neutral), 1e-9,
		"neutral fallback composite mismatch")
}

func TestCompositeScore_Deterministic(t *testing.T) {
	rubric := Rubric{
		PromptAdherence:          0.81,
		SubjectFidelity:          0.64,
		CompositionQuality:       0.77,
		StyleCoherence:           0.52,
		TechnicalArtifactPenalty: 0.13,
		Confidence:               0.9,
	}
	first := CompositeScore(rubric)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CompositeScore(rubric), "composite score must be deterministic")
	}
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.3))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.42, Clamp01(0.42))
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, Round4(0.123456))
	assert.Equal(t, 0.1234, Round4(0.12344))
	assert.Equal(t, -0.1, Round4(-0.10004))
}

func TestNormalizeShiftLevel(t *testing.T) {
	assert.Equal(t, ShiftLow, NormalizeShiftLevel("  LOW "))
	assert.Equal(t, ShiftHigh, NormalizeShiftLevel("High"))
	assert.Equal(t, ShiftModerate, NormalizeShiftLevel("moderate"))
	assert.Equal(t, ShiftModerate, NormalizeShiftLevel("extreme"), "unrecognized values default to moderate")
	assert.Equal(t, ShiftModerate, NormalizeShiftLevel(""))
}
