package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

func TestVisionJudge_ParsesAssessment(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: `{
		"facial_structure_changed": true,
		"lighting_shift": "high",
		"style_drift": "low",
		"vision_structural_score": 0.72,
		"notes": "Strong relighting, subject intact."
	}`}
	judge := NewVisionJudge(mockChat{mock})

	score, assessment, err := judge.Judge(t.Context(), baselinePNG, candidatePNG)
	require.NoError(t, err)

	assert.InDelta(t, 0.72, score, 1e-9)
	assert.True(t, assessment.FacialStructureChanged)
	assert.Equal(t, domain.ShiftHigh, assessment.LightingShift)
	assert.Equal(t, domain.ShiftLow, assessment.StyleDrift)
	assert.Equal(t, "Strong relighting, subject intact.", assessment.Notes)
	assert.Len(t, mock.LastRequest.Images, 2)
}

func TestVisionJudge_NormalizesShiftLevels(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: `{
		"facial_structure_changed": false,
		"lighting_shift": " HIGH ",
		"style_drift": "dramatic",
		"vision_structural_score": 0.3,
		"notes": ""
	}`}
	judge := NewVisionJudge(mockChat{mock})

	_, assessment, err := judge.Judge(t.Context(), baselinePNG, candidatePNG)
	require.NoError(t, err)

	assert.Equal(t, domain.ShiftHigh, assessment.LightingShift)
	assert.Equal(t, domain.ShiftModerate, assessment.StyleDrift, "unrecognized level must coerce to moderate")
	assert.Equal(t, "Model-evaluated structural comparison.", assessment.Notes)
}

func TestVisionJudge_MissingScoreIsMalformed(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: `{"facial_structure_changed": false, "notes": "n"}`}
	judge := NewVisionJudge(mockChat{mock})

	_, _, err := judge.Judge(t.Context(), baselinePNG, candidatePNG)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidResponse)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestVisionJudge_RecoversFromFencedReply(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: "```json\n" +
		`{"facial_structure_changed": false, "lighting_shift": "low", "style_drift": "low", "vision_structural_score": 0.1, "notes": "close match"}` +
		"\n```"}
	judge := NewVisionJudge(mockChat{mock})

	score, assessment, err := judge.Judge(t.Context(), baselinePNG, candidatePNG)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, score, 1e-9)
	assert.Equal(t, domain.ShiftLow, assessment.StyleDrift)
}

func TestVisionJudge_NilClientUnavailable(t *testing.T) {
	judge := NewVisionJudge(nil)

	_, _, err := judge.Judge(t.Context(), baselinePNG, candidatePNG)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrSignalUnavailable)
}
