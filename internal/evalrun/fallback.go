package evalrun

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

// nearDuplicateSimilarity is the normalized edit-distance similarity above
// which two planned prompts count as the same variant.
const nearDuplicateSimilarity = 0.9

// foldCaser case-folds prompts before similarity comparison.
var foldCaser = cases.Fold()

// mutationAxes are the deterministic prompt mutations used when the LLM
// planner is unavailable or comes up short. Each axis pairs a tag with a
// concrete mutation line appended to the base prompt.
var mutationAxes = []struct {
	tag  string
	line string
}{
	{"composition", "wide cinematic framing with strong foreground-background depth"},
	{"lighting", "dramatic rim lighting with soft key light and controlled shadows"},
	{"lens", "35mm lens perspective with shallow depth of field"},
	{"style", "editorial color grading with subtle film grain"},
	{"detail", "high texture fidelity on key subject materials and surfaces"},
	{"mood", "high-contrast mood with focused subject isolation"},
	{"camera", "low-angle camera placement emphasizing subject presence"},
	{"negative", "avoid visual clutter and accidental background text"},
}

// FallbackVariants builds n deterministic prompt variants by cycling
// through the mutation axes. The hard constraints are appended verbatim to
// every variant.
func FallbackVariants(basePrompt string, constraints domain.Constraints, n int) []ports.PlannedVariant {
	mustInclude := trimNonEmpty(constraints.MustInclude)
	mustAvoid := trimNonEmpty(constraints.MustAvoid)

	variants := make([]ports.PlannedVariant, 0, n)
	for i := 0; i < n; i++ {
		axis := mutationAxes[i%len(mutationAxes)]

		lines := []string{strings.TrimSpace(basePrompt), axis.line}
		if len(mustInclude) > 0 {
			lines = append(lines, fmt.Sprintf("Must include: %s.", strings.Join(mustInclude, ", ")))
		}
		if len(mustAvoid) > 0 {
			lines = append(lines, fmt.Sprintf("Must avoid: %s.", strings.Join(mustAvoid, ", ")))
		}

		variants = append(variants, ports.PlannedVariant{
			Prompt:       strings.Join(nonEmpty(lines), " "),
			MutationTags: []string{axis.tag},
		})
	}
	return variants
}

// FallbackSuggestions builds the deterministic three-tier suggestions
// from the leaderboard. With an empty leaderboard the tiers derive from
// the base prompt alone.
func FallbackSuggestions(basePrompt, objective string, leaderboard []domain.Variant) domain.Suggestions {
	topPrompt := basePrompt
	topStrength := ""
	topFailure := ""
	if len(leaderboard) > 0 {
		topPrompt = leaderboard[0].Prompt
		if tags := leaderboard[0].Rubric.StrengthTags; len(tags) > 0 {
			topStrength = tags[0]
		}
		if tags := leaderboard[len(leaderboard)-1].Rubric.FailureTags; len(tags) > 0 {
			topFailure = tags[0]
		}
	}

	conservativeRationale := "Keep best-performing structure from the top variant."
	if topStrength != "" {
		conservativeRationale = fmt.Sprintf(
			"Keep best-performing structure from the top variant and preserve strength: %s.", topStrength)
	}

	balancedRationale := "Blend top strengths with targeted fixes."
	if topFailure != "" {
		balancedRationale = fmt.Sprintf("Blend top strengths with targeted fixes for failure tag: %s.", topFailure)
	}

	return domain.Suggestions{
		Conservative: domain.Suggestion{
			PromptText: topPrompt,
			Rationale:  conservativeRationale,
		},
		Balanced: domain.Suggestion{
			PromptText: topPrompt + ". Improve composition clarity and subject fidelity while preserving intent.",
			Rationale:  balancedRationale,
		},
		Aggressive: domain.Suggestion{
			PromptText: basePrompt + ". Dramatically rework camera angle, lighting direction, and style treatment " +
				"for higher visual impact while preserving the core subject.",
			Rationale: fmt.Sprintf(
				"Explore a higher-variance rewrite tuned for objective %q while keeping core intent.", objective),
		},
	}
}

// dedupeVariants drops planned variants whose prompt is a near-duplicate
// of an earlier one, preserving order.
func dedupeVariants(planned []ports.PlannedVariant) []ports.PlannedVariant {
	out := make([]ports.PlannedVariant, 0, len(planned))
	for _, candidate := range planned {
		if !isNearDuplicate(candidate.Prompt, out) {
			out = append(out, candidate)
		}
	}
	return out
}

// isNearDuplicate reports whether the prompt is a near-duplicate of any
// already-accepted variant, by case-folded normalized edit distance.
func isNearDuplicate(prompt string, accepted []ports.PlannedVariant) bool {
	folded := foldCaser.String(strings.TrimSpace(prompt))
	for _, existing := range accepted {
		if promptSimilarity(folded, foldCaser.String(strings.TrimSpace(existing.Prompt))) > nearDuplicateSimilarity {
			return true
		}
	}
	return false
}

// promptSimilarity is 1 minus the edit distance normalized by the longer
// length. Two empty prompts are identical.
func promptSimilarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
