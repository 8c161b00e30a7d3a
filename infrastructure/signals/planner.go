package signals

import (
	"context"
	"fmt"
	"strings"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

const plannerSystemPrompt = "You are an expert image prompt-variation planner. " +
	"Return strict JSON only in this shape: " +
	`{"variants":[{"variant_prompt":"...","mutation_tags":["..."]}]} ` +
	"Do not include markdown fences."

// maxMutationTags caps the mutation tags carried per planned variant.
const maxMutationTags = 6

type plannedVariantPayload struct {
	VariantPrompt string   `json:"variant_prompt"`
	MutationTags  []string `json:"mutation_tags"`
}

type plannerResponse struct {
	Variants []plannedVariantPayload `json:"variants" validate:"required"`
}

// Planner implements ports.VariantPlanner on a text chat model. The
// pipeline treats any error or empty result as a cue to fall back to its
// deterministic planner, so this provider only reports what the model
// actually produced.
type Planner struct {
	client ChatClient
}

// NewPlanner creates a variant planner. client may be nil when no
// provider is configured.
func NewPlanner(client ChatClient) *Planner {
	return &Planner{client: client}
}

// Plan asks the model for n semantically distinct prompt variants.
func (p *Planner) Plan(ctx context.Context, basePrompt, objective string, n int, constraints domain.Constraints) ([]ports.PlannedVariant, error) {
	if p.client == nil {
		return nil, fmt.Errorf("%w: no planner provider configured", ports.ErrSignalUnavailable)
	}

	userText := fmt.Sprintf(
		"Base prompt: %s\nObjective preset: %s\nMust include: %v\nMust avoid: %v\n"+
			"Generate exactly %d semantically distinct prompt variants. "+
			"Mutation tags should include details like composition, lighting, lens, style, and negatives.",
		basePrompt, objective, constraints.MustInclude, constraints.MustAvoid, n,
	)

	req := llm.Request{
		System: plannerSystemPrompt,
		User:   userText,
		Options: map[string]any{
			"temperature": 0.7,
		},
	}

	resp, err := chatStrictJSON[plannerResponse](ctx, p.client, req)
	if err != nil {
		return nil, fmt.Errorf("variant planner: %w", err)
	}

	planned := make([]ports.PlannedVariant, 0, len(resp.Variants))
	for _, item := range resp.Variants {
		prompt := strings.TrimSpace(item.VariantPrompt)
		if prompt == "" {
			continue
		}
		planned = append(planned, ports.PlannedVariant{
			Prompt:       prompt,
			MutationTags: capTags(item.MutationTags, maxMutationTags),
		})
		if len(planned) == n {
			break
		}
	}

	return planned, nil
}

// capTags trims entries, drops empties, and caps the list length.
func capTags(tags []string, limit int) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
		if len(out) == limit {
			break
		}
	}
	return out
}
