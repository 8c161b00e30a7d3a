package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunClone_Independence(t *testing.T) {
	completed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	original := &Run{
		ID:         "run-1",
		ProjectID:  "proj-1",
		BasePrompt: "a lighthouse at dusk",
		Constraints: Constraints{
			MustInclude: []string{"lighthouse"},
			MustAvoid:   []string{"text"},
		},
		Status: RunCompleted,
		Stage:  RunCompleted,
		Variants: []Variant{
			{
				ID:           "v01",
				MutationTags: []string{"style_transfer"},
				Status:       VariantEvaluated,
				Rubric:       Rubric{FailureTags: []string{"soft focus"}, StrengthTags: []string{"composition"}},
			},
		},
		Leaderboard: []Variant{{ID: "v01", Rank: 1}},
		TopK:        []string{"v01"},
		CompletedAt: &completed,
	}

	clone := original.Clone()
	require.Equal(t, original, clone, "clone must start equal to the source")

	clone.Constraints.MustInclude[0] = "mutated"
	clone.Variants[0].MutationTags[0] = "mutated"
	clone.Variants[0].Rubric.FailureTags[0] = "mutated"
	clone.Variants[0].Rubric.StrengthTags[0] = "mutated"
	clone.Leaderboard[0].Rank = 99
	clone.TopK[0] = "mutated"
	*clone.CompletedAt = clone.CompletedAt.Add(time.Hour)

	assert.Equal(t, "lighthouse", original.Constraints.MustInclude[0])
	assert.Equal(t, "style_transfer", original.Variants[0].MutationTags[0])
	assert.Equal(t, "soft focus", original.Variants[0].Rubric.FailureTags[0])
	assert.Equal(t, "composition", original.Variants[0].Rubric.StrengthTags[0])
	assert.Equal(t, 1, original.Leaderboard[0].Rank)
	assert.Equal(t, "v01", original.TopK[0])
	assert.Equal(t, completed, *original.CompletedAt, "completion timestamp must not be shared")
}

func TestRunClone_PreservesNilSlices(t *testing.T) {
	original := &Run{ID: "run-2", Status: RunQueued, Stage: RunQueued}

	clone := original.Clone()

	assert.Nil(t, clone.Variants)
	assert.Nil(t, clone.TopK)
	assert.Nil(t, clone.CompletedAt)
}

func TestVariantStatus_Rankable(t *testing.T) {
	assert.True(t, VariantEvaluated.Rankable())
	assert.True(t, VariantEvaluatedDegraded.Rankable())
	assert.False(t, VariantPlanned.Rankable())
	assert.False(t, VariantGenerated.Rankable())
	assert.False(t, VariantGenerationFailed.Rankable())
	assert.False(t, VariantEvaluationSkipped.Rankable())
}
