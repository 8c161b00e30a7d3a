package evalrun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsmith/promptsmith/internal/domain"
)

func seedRun(t *testing.T, registry *Registry) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID:     "eval_abc",
		Status: domain.RunQueued,
		Stage:  domain.RunQueued,
		Variants: []domain.Variant{
			{ID: "v01", Status: domain.VariantPlanned},
			{ID: "v02", Status: domain.VariantPlanned},
		},
	}
	registry.Create(run)
	return run
}

func TestRegistry_GetReturnsIndependentSnapshot(t *testing.T) {
	registry := NewRegistry()
	seedRun(t, registry)

	first, err := registry.Get("eval_abc")
	require.NoError(t, err)

	first.Variants[0].Status = domain.VariantGenerated
	first.Status = domain.RunFailed

	second, err := registry.Get("eval_abc")
	require.NoError(t, err)
	assert.Equal(t, domain.VariantPlanned, second.Variants[0].Status, "snapshot mutation must not leak back")
	assert.Equal(t, domain.RunQueued, second.Status)
}

func TestRegistry_GetUnknownRun(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("eval_ghost")
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestRegistry_UpdateBumpsUpdatedAt(t *testing.T) {
	registry := NewRegistry()
	seedRun(t, registry)

	before, err := registry.Get("eval_abc")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	require.NoError(t, registry.Update("eval_abc", func(run *domain.Run) {
		run.Status = domain.RunPlanning
	}))

	after, err := registry.Get("eval_abc")
	require.NoError(t, err)
	assert.Equal(t, domain.RunPlanning, after.Status)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestRegistry_UpdateVariant(t *testing.T) {
	registry := NewRegistry()
	seedRun(t, registry)

	require.NoError(t, registry.UpdateVariant("eval_abc", "v02", func(v *domain.Variant) {
		v.Status = domain.VariantGenerated
		v.CommitID = "c42"
	}))

	run, err := registry.Get("eval_abc")
	require.NoError(t, err)
	assert.Equal(t, domain.VariantGenerated, run.Variants[1].Status)
	assert.Equal(t, "c42", run.Variants[1].CommitID)
	assert.Equal(t, domain.VariantPlanned, run.Variants[0].Status, "sibling variant must be untouched")
}

func TestRegistry_AddProgressAccumulates(t *testing.T) {
	registry := NewRegistry()
	seedRun(t, registry)

	require.NoError(t, registry.AddProgress("eval_abc", 1, 0, 0))
	require.NoError(t, registry.AddProgress("eval_abc", 1, 1, 1))

	run, err := registry.Get("eval_abc")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Progress.GeneratedVariants)
	assert.Equal(t, 1, run.Progress.EvaluatedVariants)
	assert.Equal(t, 1, run.Progress.FailedVariants)
}
