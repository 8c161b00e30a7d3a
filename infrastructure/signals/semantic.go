package signals

import (
	"context"
	"fmt"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

const semanticSystemPrompt = "You score semantic identity consistency between two images. " +
	`Return strict JSON only: {"semantic_similarity": <float 0..1>}.`

// semanticResponse is the strict-JSON reply contract for the semantic
// scorer.
type semanticResponse struct {
	SemanticSimilarity *float64 `json:"semantic_similarity" validate:"required"`
}

// SemanticScorer implements ports.SemanticScorer on a multimodal chat
// model. A nil client marks the signal unavailable rather than failing
// construction, so comparisons can still run in degraded mode.
type SemanticScorer struct {
	client ChatClient
}

// NewSemanticScorer creates a semantic scorer. client may be nil when no
// provider is configured.
func NewSemanticScorer(client ChatClient) *SemanticScorer {
	return &SemanticScorer{client: client}
}

// Score estimates how strongly the two images depict the same subject.
func (s *SemanticScorer) Score(ctx context.Context, baseline, candidate []byte) (float64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("%w: no semantic provider configured", ports.ErrSignalUnavailable)
	}

	req := llm.Request{
		System: semanticSystemPrompt,
		User:   "Image A is baseline. Image B is candidate.",
		Images: [][]byte{baseline, candidate},
		Options: map[string]any{
			"temperature": 0.0,
		},
	}

	resp, err := chatStrictJSON[semanticResponse](ctx, s.client, req)
	if err != nil {
		return 0, fmt.Errorf("semantic score: %w", err)
	}

	return domain.Clamp01(*resp.SemanticSimilarity), nil
}
