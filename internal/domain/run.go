package domain

import "time"

// Bounds on the number of prompt variants a single eval run may plan.
const (
	MinVariants = 4
	MaxVariants = 8
)

// RunStatus is the lifecycle status of an eval run. The status and stage
// fields track it together: while a run is in flight they hold the active
// stage name, and on completion they hold the terminal status.
type RunStatus string

const (
	RunQueued            RunStatus = "queued"
	RunPlanning          RunStatus = "planning"
	RunGenerating        RunStatus = "generating"
	RunEvaluating        RunStatus = "evaluating"
	RunRefining          RunStatus = "refining"
	RunCompleted         RunStatus = "completed"
	RunCompletedDegraded RunStatus = "completed_degraded"
	RunFailed            RunStatus = "failed"
)

// VariantStatus tracks a single prompt variant through the pipeline.
type VariantStatus string

const (
	VariantPlanned           VariantStatus = "planned"
	VariantGenerated         VariantStatus = "generated"
	VariantGenerationFailed  VariantStatus = "generation_failed"
	VariantEvaluated         VariantStatus = "evaluated"
	VariantEvaluatedDegraded VariantStatus = "evaluated_degraded"
	VariantEvaluationSkipped VariantStatus = "evaluation_skipped"
)

// Rankable reports whether a variant in this status participates in the
// leaderboard. Only variants that went through the judge, degraded or not,
// receive a rank.
func (s VariantStatus) Rankable() bool {
	return s == VariantEvaluated || s == VariantEvaluatedDegraded
}

// Constraints carries the run's hard prompt requirements.
type Constraints struct {
	// MustInclude lists elements every variant prompt must mention.
	MustInclude []string `json:"must_include"`

	// MustAvoid lists elements every variant prompt must exclude.
	MustAvoid []string `json:"must_avoid"`
}

// Progress counts variant-level pipeline outcomes. Counters are only ever
// incremented, never recomputed, so concurrent workers can report progress
// without re-reading run state.
type Progress struct {
	TotalVariants     int `json:"total_variants"`
	GeneratedVariants int `json:"generated_variants"`
	EvaluatedVariants int `json:"evaluated_variants"`
	FailedVariants    int `json:"failed_variants"`
}

// Suggestion is one prompt rewrite proposal derived from run outcomes.
type Suggestion struct {
	PromptText string `json:"prompt_text"`
	Rationale  string `json:"rationale"`
}

// Suggestions holds the three risk tiers of prompt rewrite proposals.
type Suggestions struct {
	Conservative Suggestion `json:"conservative"`
	Balanced     Suggestion `json:"balanced"`
	Aggressive   Suggestion `json:"aggressive"`
}

// Variant is one candidate prompt mutation tracked through generation and
// judging. Pipeline stages mutate it in place through the run registry.
type Variant struct {
	// ID is the stable variant identifier within its run (v01, v02, ...).
	ID string `json:"variant_id"`

	// Prompt is the mutated prompt text for this variant.
	Prompt string `json:"variant_prompt"`

	// MutationTags names the mutation axes applied to the base prompt.
	MutationTags []string `json:"mutation_tags"`

	// ParentCommitID is the anchor commit this variant was edited from.
	ParentCommitID string `json:"parent_commit_id,omitempty"`

	// Status is the variant's position in the pipeline lifecycle.
	Status VariantStatus `json:"status"`

	// GenerationLatencyMs is the wall time of the image generation call.
	GenerationLatencyMs int64 `json:"generation_latency_ms,omitempty"`

	// JudgeLatencyMs is the wall time of the rubric judge call.
	JudgeLatencyMs int64 `json:"judge_latency_ms,omitempty"`

	// CommitID references the commit persisted for this variant's
	// generation attempt, successful or not.
	CommitID string `json:"commit_id,omitempty"`

	// ImageURL references the generated image artifact.
	ImageURL string `json:"image_url,omitempty"`

	// Rubric is the judge's assessment once the variant is evaluated.
	Rubric Rubric `json:"rubric"`

	// CompositeScore is the weighted rubric aggregate used for ranking.
	CompositeScore float64 `json:"composite_score"`

	// Rank is the 1-based dense leaderboard position. Zero means
	// unranked; it is set iff the variant status is rankable.
	Rank int `json:"rank,omitempty"`

	// Error records the per-variant failure, if any.
	Error string `json:"error,omitempty"`
}

// Run is the full state of one multi-variant eval run. It lives only in
// the in-process run registry; a process restart loses all run state.
type Run struct {
	ID              string      `json:"run_id"`
	ProjectID       string      `json:"project_id"`
	BasePrompt      string      `json:"base_prompt"`
	ObjectivePreset string      `json:"objective_preset"`
	ImageModel      string      `json:"image_model"`
	NVariants       int         `json:"n_variants"`
	Quality         string      `json:"quality"`
	ParentCommitID  string      `json:"parent_commit_id,omitempty"`
	AnchorCommitID  string      `json:"anchor_commit_id,omitempty"`
	Constraints     Constraints `json:"constraints"`

	// Status and Stage move together through the run lifecycle.
	Status RunStatus `json:"status"`
	Stage  RunStatus `json:"stage"`

	// Degraded is set when any variant generation or evaluation fell back
	// to a degraded path. It is sticky for the lifetime of the run.
	Degraded bool `json:"degraded"`

	// Error is the terminal failure description for failed runs.
	Error string `json:"error,omitempty"`

	Progress Progress  `json:"progress"`
	Variants []Variant `json:"variants"`

	// Leaderboard is the ranked copy of the evaluated variants.
	Leaderboard []Variant `json:"leaderboard"`

	// TopK lists the best variant ids in rank order (at most 3).
	TopK []string `json:"top_k"`

	Suggestions Suggestions `json:"suggestions"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the run. Registry reads hand out clones so
// callers never observe a run mutating mid-read.
func (r *Run) Clone() *Run {
	out := *r
	out.Constraints.MustInclude = cloneStrings(r.Constraints.MustInclude)
	out.Constraints.MustAvoid = cloneStrings(r.Constraints.MustAvoid)
	out.Variants = cloneVariants(r.Variants)
	out.Leaderboard = cloneVariants(r.Leaderboard)
	out.TopK = cloneStrings(r.TopK)
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}

func cloneVariants(variants []Variant) []Variant {
	if variants == nil {
		return nil
	}
	out := make([]Variant, len(variants))
	for i, v := range variants {
		out[i] = v
		out[i].MutationTags = cloneStrings(v.MutationTags)
		out[i].Rubric.FailureTags = cloneStrings(v.Rubric.FailureTags)
		out[i].Rubric.StrengthTags = cloneStrings(v.Rubric.StrengthTags)
	}
	return out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
