package signals

import (
	"context"
	"fmt"
	"strings"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

const visionSystemPrompt = "Compare baseline image A and candidate image B for structural drift. " +
	"Return strict JSON only with keys: " +
	"facial_structure_changed (bool), " +
	"lighting_shift (one of low/moderate/high), " +
	"style_drift (one of low/moderate/high), " +
	"vision_structural_score (float 0..1), " +
	"notes (short string)."

// visionResponse is the strict-JSON reply contract for the vision judge.
// The enums are normalized after parsing, so free-form shift values do not
// fail the decode.
type visionResponse struct {
	FacialStructureChanged *bool    `json:"facial_structure_changed" validate:"required"`
	LightingShift          string   `json:"lighting_shift"`
	StyleDrift             string   `json:"style_drift"`
	VisionStructuralScore  *float64 `json:"vision_structural_score" validate:"required"`
	Notes                  string   `json:"notes"`
}

// VisionJudge implements ports.VisionJudge on a multimodal chat model.
// Like the semantic scorer it degrades instead of failing when no
// provider is configured.
type VisionJudge struct {
	client ChatClient
}

// NewVisionJudge creates a vision judge. client may be nil when no
// provider is configured.
func NewVisionJudge(client ChatClient) *VisionJudge {
	return &VisionJudge{client: client}
}

// Judge scores the structural divergence between the two images and
// returns the structured explanation alongside the score.
func (v *VisionJudge) Judge(ctx context.Context, baseline, candidate []byte) (float64, domain.StructuralAssessment, error) {
	if v.client == nil {
		return 0, domain.StructuralAssessment{},
			fmt.Errorf("%w: no vision provider configured", ports.ErrSignalUnavailable)
	}

	req := llm.Request{
		System: visionSystemPrompt,
		User:   "Image A is baseline. Image B is candidate.",
		Images: [][]byte{baseline, candidate},
		Options: map[string]any{
			"temperature": 0.0,
		},
	}

	resp, err := chatStrictJSON[visionResponse](ctx, v.client, req)
	if err != nil {
		return 0, domain.StructuralAssessment{}, fmt.Errorf("vision judge: %w", err)
	}

	notes := strings.TrimSpace(resp.Notes)
	if notes == "" {
		notes = "Model-evaluated structural comparison."
	}

	assessment := domain.StructuralAssessment{
		FacialStructureChanged: *resp.FacialStructureChanged,
		LightingShift:          domain.NormalizeShiftLevel(resp.LightingShift),
		StyleDrift:             domain.NormalizeShiftLevel(resp.StyleDrift),
		Notes:                  notes,
	}

	return domain.Clamp01(*resp.VisionStructuralScore), assessment, nil
}
