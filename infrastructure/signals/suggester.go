package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

const suggesterSystemPrompt = "You rewrite image prompts using run outcomes. Return strict JSON only: " +
	`{"conservative":{"prompt_text":"...","rationale":"..."},` +
	`"balanced":{"prompt_text":"...","rationale":"..."},` +
	`"aggressive":{"prompt_text":"...","rationale":"..."}}`

type suggestionPayload struct {
	PromptText string `json:"prompt_text"`
	Rationale  string `json:"rationale"`
}

type suggesterResponse struct {
	Conservative suggestionPayload `json:"conservative"`
	Balanced     suggestionPayload `json:"balanced"`
	Aggressive   suggestionPayload `json:"aggressive"`
}

// Suggester implements ports.SuggestionWriter on a text chat model. A
// reply with any empty prompt_text is an error; the pipeline substitutes
// its deterministic templates instead.
type Suggester struct {
	client ChatClient
}

// NewSuggester creates a suggestion writer. client may be nil when no
// provider is configured.
func NewSuggester(client ChatClient) *Suggester {
	return &Suggester{client: client}
}

// variantSummary is the compact leaderboard view shipped to the model.
type variantSummary struct {
	VariantID      string   `json:"variant_id"`
	VariantPrompt  string   `json:"variant_prompt"`
	CompositeScore float64  `json:"composite_score"`
	StrengthTags   []string `json:"strength_tags"`
	FailureTags    []string `json:"failure_tags"`
}

// Suggest produces the three-tier prompt rewrite proposals.
func (s *Suggester) Suggest(ctx context.Context, outcome ports.RunOutcome) (domain.Suggestions, error) {
	if s.client == nil {
		return domain.Suggestions{}, fmt.Errorf("%w: no suggestion provider configured", ports.ErrSignalUnavailable)
	}

	topJSON, err := json.Marshal(summarize(outcome.Top))
	if err != nil {
		return domain.Suggestions{}, fmt.Errorf("encode top variants: %w", err)
	}
	bottomJSON, err := json.Marshal(summarize(outcome.Bottom))
	if err != nil {
		return domain.Suggestions{}, fmt.Errorf("encode bottom variants: %w", err)
	}

	userText := fmt.Sprintf(
		"Base prompt: %s\nObjective preset: %s\nTop variants summary: %s\nBottom variants summary: %s\n"+
			"Each suggestion must mention concrete strengths/failures from the summaries.",
		outcome.BasePrompt, outcome.Objective, topJSON, bottomJSON,
	)

	req := llm.Request{
		System: suggesterSystemPrompt,
		User:   userText,
		Options: map[string]any{
			"temperature": 0.7,
		},
	}

	resp, err := chatStrictJSON[suggesterResponse](ctx, s.client, req)
	if err != nil {
		return domain.Suggestions{}, fmt.Errorf("suggestion writer: %w", err)
	}

	suggestions := domain.Suggestions{
		Conservative: toSuggestion(resp.Conservative),
		Balanced:     toSuggestion(resp.Balanced),
		Aggressive:   toSuggestion(resp.Aggressive),
	}

	if suggestions.Conservative.PromptText == "" ||
		suggestions.Balanced.PromptText == "" ||
		suggestions.Aggressive.PromptText == "" {
		return domain.Suggestions{}, fmt.Errorf("%w: suggestion reply missing prompt_text", ports.ErrInvalidResponse)
	}

	return suggestions, nil
}

func toSuggestion(payload suggestionPayload) domain.Suggestion {
	return domain.Suggestion{
		PromptText: strings.TrimSpace(payload.PromptText),
		Rationale:  strings.TrimSpace(payload.Rationale),
	}
}

func summarize(variants []domain.Variant) []variantSummary {
	out := make([]variantSummary, 0, len(variants))
	for _, v := range variants {
		out = append(out, variantSummary{
			VariantID:      v.ID,
			VariantPrompt:  v.Prompt,
			CompositeScore: v.CompositeScore,
			StrengthTags:   v.Rubric.StrengthTags,
			FailureTags:    v.Rubric.FailureTags,
		})
	}
	return out
}
