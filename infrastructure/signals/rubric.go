package signals

import (
	"context"
	"fmt"
	"strings"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

const rubricSystemPrompt = "You are a strict image quality evaluator. Return strict JSON only with keys: " +
	"prompt_adherence, subject_fidelity, composition_quality, style_coherence, " +
	"technical_artifact_penalty, confidence, failure_tags, strength_tags, rationale. " +
	"All score fields must be float 0..1. failure_tags and strength_tags must be arrays of short strings."

// maxRubricTags caps how many failure or strength tags a reply may carry.
const maxRubricTags = 8

// rubricResponse is the strict-JSON reply contract for the rubric judge.
// Every field is optional; missing scores default to the floor and a
// missing penalty defaults to the ceiling, so an evasive reply reads as a
// poor result rather than a good one.
type rubricResponse struct {
	PromptAdherence          *float64 `json:"prompt_adherence"`
	SubjectFidelity          *float64 `json:"subject_fidelity"`
	CompositionQuality       *float64 `json:"composition_quality"`
	StyleCoherence           *float64 `json:"style_coherence"`
	TechnicalArtifactPenalty *float64 `json:"technical_artifact_penalty"`
	Confidence               *float64 `json:"confidence"`
	FailureTags              []string `json:"failure_tags"`
	StrengthTags             []string `json:"strength_tags"`
	Rationale                string   `json:"rationale"`
}

// RubricJudge implements ports.RubricJudge on a multimodal chat model.
type RubricJudge struct {
	client ChatClient
}

// NewRubricJudge creates a rubric judge. client may be nil when no
// provider is configured; the pipeline then records per-variant
// evaluation failures.
func NewRubricJudge(client ChatClient) *RubricJudge {
	return &RubricJudge{client: client}
}

// Evaluate scores one generated image against the prompt that produced it.
func (r *RubricJudge) Evaluate(ctx context.Context, prompt, objective string, image []byte) (domain.Rubric, error) {
	if r.client == nil {
		return domain.Rubric{}, fmt.Errorf("%w: no rubric provider configured", ports.ErrSignalUnavailable)
	}

	userText := fmt.Sprintf(
		"Prompt: %s\nObjective preset: %s\nEvaluate the image against this prompt intent.",
		prompt, objective,
	)

	req := llm.Request{
		System: rubricSystemPrompt,
		User:   userText,
		Images: [][]byte{image},
		Options: map[string]any{
			"temperature": 0.0,
		},
	}

	resp, err := chatStrictJSON[rubricResponse](ctx, r.client, req)
	if err != nil {
		return domain.Rubric{}, fmt.Errorf("rubric judge: %w", err)
	}

	rationale := strings.TrimSpace(resp.Rationale)
	if rationale == "" {
		rationale = "No rationale returned."
	}

	return domain.Rubric{
		PromptAdherence:          clampOrDefault(resp.PromptAdherence, 0.0),
		SubjectFidelity:          clampOrDefault(resp.SubjectFidelity, 0.0),
		CompositionQuality:       clampOrDefault(resp.CompositionQuality, 0.0),
		StyleCoherence:           clampOrDefault(resp.StyleCoherence, 0.0),
		TechnicalArtifactPenalty: clampOrDefault(resp.TechnicalArtifactPenalty, 1.0),
		Confidence:               clampOrDefault(resp.Confidence, 0.0),
		FailureTags:              capTags(resp.FailureTags, maxRubricTags),
		StrengthTags:             capTags(resp.StrengthTags, maxRubricTags),
		Rationale:                rationale,
	}, nil
}

func clampOrDefault(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return domain.Clamp01(*value)
}
