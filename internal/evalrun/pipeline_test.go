package evalrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

type memRepo struct {
	mu      sync.Mutex
	project ports.Project
	commits map[string]ports.Commit
	nextID  int
}

func newMemRepo() *memRepo {
	return &memRepo{
		project: ports.Project{ID: "p1", Name: "demo"},
		commits: map[string]ports.Commit{},
	}
}

func (r *memRepo) GetProject(ctx context.Context, projectID string) (ports.Project, error) {
	if projectID != r.project.ID {
		return ports.Project{}, domain.E(domain.CodeNotFound, "project missing")
	}
	return r.project, nil
}

func (r *memRepo) GetCommit(ctx context.Context, commitID, projectID string) (ports.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	commit, ok := r.commits[commitID]
	if !ok {
		return ports.Commit{}, domain.E(domain.CodeNotFound, "commit missing")
	}
	return commit, nil
}

func (r *memRepo) ReserveCommitID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return fmt.Sprintf("c%03d", r.nextID), nil
}

func (r *memRepo) ReserveReportID(ctx context.Context) (string, error) { return "rep_001", nil }

func (r *memRepo) CreateCommit(ctx context.Context, commit ports.Commit) (ports.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits[commit.ID] = commit
	return commit, nil
}

func (r *memRepo) UploadCommitImage(ctx context.Context, commitID, filename string, data []byte) (string, error) {
	return "storage/" + commitID + "/" + filename, nil
}

func (r *memRepo) GetSettings(ctx context.Context) (ports.EngineSettings, error) {
	return ports.EngineSettings{Threshold: 0.35}, nil
}

func (r *memRepo) CreateComparisonReport(ctx context.Context, report domain.ComparisonReport) (domain.ComparisonReport, error) {
	return report, nil
}

func (r *memRepo) ListHistory(ctx context.Context, projectID string, limit int, cursor string) ([]ports.Commit, string, error) {
	return nil, "", nil
}

func (r *memRepo) commitCount(status ports.CommitStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, commit := range r.commits {
		if commit.Status == status {
			count++
		}
	}
	return count
}

type scriptedGenerator struct {
	mu          sync.Mutex
	failPrompts map[string]bool
	failAll     bool
	requests    []ports.ImageRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req ports.ImageRequest) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	if g.failAll || g.failPrompts[req.Prompt] {
		return nil, fmt.Errorf("%w: simulated generation failure", ports.ErrServiceUnavailable)
	}
	return []byte("img:" + req.Prompt), nil
}

type scriptedJudge struct {
	mu          sync.Mutex
	failPrompts map[string]bool
	rubrics     map[string]domain.Rubric
	calls       int
}

func (j *scriptedJudge) Evaluate(ctx context.Context, prompt, objective string, image []byte) (domain.Rubric, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++

	if j.failPrompts[prompt] {
		return domain.Rubric{}, errors.New("simulated judge failure")
	}
	if rubric, ok := j.rubrics[prompt]; ok {
		return rubric, nil
	}
	return domain.Rubric{
		PromptAdherence:    0.8,
		SubjectFidelity:    0.8,
		CompositionQuality: 0.8,
		StyleCoherence:     0.8,
		Confidence:         0.9,
		Rationale:          "solid match",
	}, nil
}

type scriptedPlanner struct {
	planned []ports.PlannedVariant
	err     error
}

func (p *scriptedPlanner) Plan(ctx context.Context, basePrompt, objective string, n int, constraints domain.Constraints) ([]ports.PlannedVariant, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.planned, nil
}

type scriptedSuggester struct {
	suggestions domain.Suggestions
	err         error
}

func (s *scriptedSuggester) Suggest(ctx context.Context, outcome ports.RunOutcome) (domain.Suggestions, error) {
	return s.suggestions, s.err
}

type staticFetcher struct{ data []byte }

func (f *staticFetcher) Fetch(ctx context.Context, reference string) ([]byte, error) {
	if f.data == nil {
		return nil, errors.New("no image")
	}
	return f.data, nil
}

func plannedPrompts(n int) []ports.PlannedVariant {
	themes := []string{
		"wide cinematic framing of the harbor at dusk",
		"macro detail study of weathered brass instruments",
		"stormy long exposure seascape with crashing spray",
		"minimalist flat illustration in muted pastels",
		"overhead drone perspective of winding coastal roads",
		"candlelit interior portrait with deep shadows",
		"hyperreal botanical closeup with morning dew",
		"grainy black and white street reportage frame",
	}
	out := make([]ports.PlannedVariant, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ports.PlannedVariant{
			Prompt:       themes[i%len(themes)],
			MutationTags: []string{"style"},
		})
	}
	return out
}

type pipelineFixture struct {
	repo      *memRepo
	generator *scriptedGenerator
	judge     *scriptedJudge
	planner   *scriptedPlanner
	suggester *scriptedSuggester
	fetcher   *staticFetcher
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T, n int) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		repo:      newMemRepo(),
		generator: &scriptedGenerator{failPrompts: map[string]bool{}},
		judge:     &scriptedJudge{failPrompts: map[string]bool{}, rubrics: map[string]domain.Rubric{}},
		planner:   &scriptedPlanner{planned: plannedPrompts(n)},
		suggester: &scriptedSuggester{suggestions: domain.Suggestions{
			Conservative: domain.Suggestion{PromptText: "keep it", Rationale: "top variant held"},
			Balanced:     domain.Suggestion{PromptText: "refine it", Rationale: "mixed outcomes"},
			Aggressive:   domain.Suggestion{PromptText: "rework it", Rationale: "high variance"},
		}},
		fetcher: &staticFetcher{data: []byte("anchor-image")},
	}

	f.pipeline = NewPipeline(PipelineConfig{
		Registry:         NewRegistry(),
		Repository:       f.repo,
		Generator:        f.generator,
		Fetcher:          f.fetcher,
		Judge:            f.judge,
		Planner:          f.planner,
		Suggester:        f.suggester,
		StageConcurrency: 2,
	})
	return f
}

func (f *pipelineFixture) runToCompletion(t *testing.T, req CreateRunRequest) *domain.Run {
	t.Helper()

	created, err := f.pipeline.CreateRun(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, created.Status, "create must return the queued snapshot")

	f.pipeline.Wait()

	run, err := f.pipeline.GetRun(created.ID)
	require.NoError(t, err)
	return run
}

func baseRequest(n int) CreateRunRequest {
	return CreateRunRequest{
		ProjectID:       "p1",
		BasePrompt:      "a lighthouse at dusk",
		ObjectivePreset: "photorealism",
		ImageModel:      "gpt-image-1",
		NVariants:       n,
		Quality:         "high",
	}
}

func TestPipeline_CompletesSuccessfully(t *testing.T) {
	f := newPipelineFixture(t, 4)

	run := f.runToCompletion(t, baseRequest(4))

	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.RunCompleted, run.Stage)
	assert.False(t, run.Degraded)
	require.NotNil(t, run.CompletedAt)

	assert.Equal(t, domain.Progress{TotalVariants: 4, GeneratedVariants: 4, EvaluatedVariants: 4}, run.Progress)
	assert.Len(t, run.Leaderboard, 4)
	assert.Len(t, run.TopK, 3)
	assert.Equal(t, 1, run.Leaderboard[0].Rank)
	assert.Equal(t, "keep it", run.Suggestions.Conservative.PromptText)

	// Fresh anchor plus four variant generations.
	assert.NotEmpty(t, run.AnchorCommitID)
	assert.Equal(t, 5, f.repo.commitCount(ports.CommitSuccess))

	for _, variant := range run.Variants {
		assert.Equal(t, domain.VariantEvaluated, variant.Status)
		assert.Equal(t, run.AnchorCommitID, variant.ParentCommitID)
		assert.NotEmpty(t, variant.CommitID)
		assert.NotEmpty(t, variant.ImageURL)
	}
}

func TestPipeline_AllGenerationsFail(t *testing.T) {
	f := newPipelineFixture(t, 4)
	f.generator.failAll = true

	run := f.runToCompletion(t, CreateRunRequest{
		ProjectID:       "p1",
		BasePrompt:      "a lighthouse at dusk",
		ObjectivePreset: "photorealism",
		ImageModel:      "gpt-image-1",
		NVariants:       4,
		Quality:         "high",
		ParentCommitID:  seedParentCommit(t, f.repo),
	})

	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "UPSTREAM_ERROR")
	assert.Equal(t, 4, run.Progress.GeneratedVariants, "failed attempts still count as processed")
	assert.Equal(t, 4, run.Progress.FailedVariants)
	assert.Zero(t, run.Progress.EvaluatedVariants)
	assert.Equal(t, 4, f.repo.commitCount(ports.CommitFailed), "every failed attempt persists a commit")
}

func TestPipeline_PartialGenerationFailureDegrades(t *testing.T) {
	f := newPipelineFixture(t, 6)
	f.planner.planned = plannedPrompts(6)
	f.generator.failPrompts[f.planner.planned[1].Prompt] = true
	f.generator.failPrompts[f.planner.planned[4].Prompt] = true

	run := f.runToCompletion(t, baseRequest(6))

	assert.Equal(t, domain.RunCompletedDegraded, run.Status)
	assert.True(t, run.Degraded)
	assert.Equal(t, 6, run.Progress.GeneratedVariants)
	assert.Equal(t, 2, run.Progress.FailedVariants)
	assert.Equal(t, 4, run.Progress.EvaluatedVariants)

	assert.Len(t, run.Leaderboard, 4, "failed variants must not be ranked")
	for _, id := range run.TopK {
		assert.NotEqual(t, run.Variants[1].ID, id)
	}

	// A failed generation ends as evaluation_skipped once the judge stage
	// passes over it.
	assert.Equal(t, domain.VariantEvaluationSkipped, run.Variants[1].Status)
	assert.Contains(t, run.Variants[1].Rubric.FailureTags, "generation_failed")
	assert.NotEmpty(t, run.Variants[1].Error)
}

func TestPipeline_JudgeFailureFallsBackToNeutralRubric(t *testing.T) {
	f := newPipelineFixture(t, 4)
	f.judge.failPrompts[f.planner.planned[2].Prompt] = true

	run := f.runToCompletion(t, baseRequest(4))

	assert.Equal(t, domain.RunCompletedDegraded, run.Status)

	degraded := run.Variants[2]
	assert.Equal(t, domain.VariantEvaluatedDegraded, degraded.Status)
	assert.InDelta(t, 0.5, degraded.Rubric.PromptAdherence, 1e-9)
	assert.InDelta(t, 0.25, degraded.Rubric.Confidence, 1e-9)
	assert.Equal(t, []string{"evaluation_failed"}, degraded.Rubric.FailureTags)
	assert.NotEmpty(t, degraded.Error)

	assert.Len(t, run.Leaderboard, 4, "degraded evaluations stay rankable")
	assert.Equal(t, 4, run.Progress.EvaluatedVariants)
	assert.Equal(t, 1, run.Progress.FailedVariants)
}

func TestPipeline_RejectsVariantCountOutOfBounds(t *testing.T) {
	f := newPipelineFixture(t, 4)

	for _, n := range []int{0, 3, 9} {
		_, err := f.pipeline.CreateRun(t.Context(), baseRequest(n))
		require.Error(t, err, "n_variants=%d must be rejected", n)
		assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))
	}
}

func TestPipeline_RejectsEmptyBasePrompt(t *testing.T) {
	f := newPipelineFixture(t, 4)
	req := baseRequest(4)
	req.BasePrompt = "   "

	_, err := f.pipeline.CreateRun(t.Context(), req)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))
}

func TestPipeline_RejectsUnusableParentCommit(t *testing.T) {
	f := newPipelineFixture(t, 4)
	f.repo.commits["c_bad"] = ports.Commit{
		ID: "c_bad", ProjectID: "p1", Status: ports.CommitFailed,
	}

	req := baseRequest(4)
	req.ParentCommitID = "c_bad"

	_, err := f.pipeline.CreateRun(t.Context(), req)
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestPipeline_UsesParentCommitAsAnchor(t *testing.T) {
	f := newPipelineFixture(t, 4)
	parentID := seedParentCommit(t, f.repo)

	req := baseRequest(4)
	req.ParentCommitID = parentID

	run := f.runToCompletion(t, req)

	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, parentID, run.AnchorCommitID)
	assert.Equal(t, 4, f.repo.commitCount(ports.CommitSuccess)-1, "no fresh anchor commit when a parent exists")

	for _, generated := range f.generator.requests {
		assert.Equal(t, []byte("anchor-image"), generated.AnchorImage, "variants must edit the parent image")
	}
}

func TestPipeline_PlannerFailureUsesDeterministicFallback(t *testing.T) {
	f := newPipelineFixture(t, 4)
	f.planner.err = errors.New("planner provider down")

	run := f.runToCompletion(t, CreateRunRequest{
		ProjectID:       "p1",
		BasePrompt:      "a lighthouse at dusk",
		ObjectivePreset: "photorealism",
		ImageModel:      "gpt-image-1",
		NVariants:       4,
		Quality:         "high",
		Constraints:     domain.Constraints{MustInclude: []string{"red lantern"}},
	})

	assert.Equal(t, domain.RunCompleted, run.Status, "planner fallback is not a degraded outcome")
	require.Len(t, run.Variants, 4)
	assert.Equal(t, []string{"composition"}, run.Variants[0].MutationTags)
	assert.Equal(t, []string{"lighting"}, run.Variants[1].MutationTags)
	for _, variant := range run.Variants {
		assert.Contains(t, variant.Prompt, "a lighthouse at dusk")
		assert.Contains(t, variant.Prompt, "Must include: red lantern.")
	}
}

func TestPipeline_SuggesterFailureUsesTemplates(t *testing.T) {
	f := newPipelineFixture(t, 4)
	f.suggester.err = errors.New("suggester provider down")

	run := f.runToCompletion(t, baseRequest(4))

	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.NotEmpty(t, run.Suggestions.Conservative.PromptText)
	assert.NotEmpty(t, run.Suggestions.Balanced.PromptText)
	assert.Contains(t, run.Suggestions.Aggressive.PromptText, "Dramatically rework")
}

func TestPipeline_SnapshotsAreIndependent(t *testing.T) {
	f := newPipelineFixture(t, 4)

	run := f.runToCompletion(t, baseRequest(4))
	run.Variants[0].Prompt = "tampered"
	run.TopK[0] = "tampered"

	fresh, err := f.pipeline.GetRun(run.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", fresh.Variants[0].Prompt)
	assert.NotEqual(t, "tampered", fresh.TopK[0])
}

// callGate holds incoming calls until released while tracking how many
// are in flight at once.
type callGate struct {
	mu      sync.Mutex
	current int
	max     int
	release chan struct{}
}

func newCallGate() *callGate {
	return &callGate{release: make(chan struct{})}
}

func (g *callGate) enter() {
	g.mu.Lock()
	g.current++
	if g.current > g.max {
		g.max = g.current
	}
	g.mu.Unlock()
	<-g.release
}

func (g *callGate) exit() {
	g.mu.Lock()
	g.current--
	g.mu.Unlock()
}

func (g *callGate) peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// waitForInflight blocks until want calls are parked at the gate.
func (g *callGate) waitForInflight(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		current := g.current
		g.mu.Unlock()
		if current >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never observed %d in-flight calls", want)
}

type gatedGenerator struct {
	inner ports.ImageGenerator
	gate  *callGate
}

func (g *gatedGenerator) Generate(ctx context.Context, req ports.ImageRequest) ([]byte, error) {
	g.gate.enter()
	defer g.gate.exit()
	return g.inner.Generate(ctx, req)
}

type gatedJudge struct {
	inner ports.RubricJudge
	gate  *callGate
}

func (j *gatedJudge) Evaluate(ctx context.Context, prompt, objective string, image []byte) (domain.Rubric, error) {
	j.gate.enter()
	defer j.gate.exit()
	return j.inner.Evaluate(ctx, prompt, objective, image)
}

// rebuild swaps the pipeline for one with the given generator, judge, and
// stage concurrency, keeping the fixture's other collaborators.
func (f *pipelineFixture) rebuild(generator ports.ImageGenerator, judge ports.RubricJudge, limit int) {
	f.pipeline = NewPipeline(PipelineConfig{
		Registry:         NewRegistry(),
		Repository:       f.repo,
		Generator:        generator,
		Fetcher:          f.fetcher,
		Judge:            judge,
		Planner:          f.planner,
		Suggester:        f.suggester,
		StageConcurrency: limit,
	})
}

func TestPipeline_GenerationConcurrencyIsBounded(t *testing.T) {
	f := newPipelineFixture(t, 8)
	gate := newCallGate()
	f.rebuild(&gatedGenerator{inner: f.generator, gate: gate}, f.judge, 2)

	req := baseRequest(8)
	req.ParentCommitID = seedParentCommit(t, f.repo)

	created, err := f.pipeline.CreateRun(t.Context(), req)
	require.NoError(t, err)

	// With eight variants pending, exactly the configured number of
	// generations may be in flight while the gate is closed.
	gate.waitForInflight(t, 2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, gate.peak(), "in-flight generations must not exceed the stage limit")

	close(gate.release)
	f.pipeline.Wait()

	run, err := f.pipeline.GetRun(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 8, run.Progress.GeneratedVariants)
	assert.Equal(t, 2, gate.peak(), "the ceiling must hold for the whole stage")
}

func TestPipeline_EvaluationConcurrencyIsBounded(t *testing.T) {
	f := newPipelineFixture(t, 8)
	gate := newCallGate()
	f.rebuild(f.generator, &gatedJudge{inner: f.judge, gate: gate}, 3)

	req := baseRequest(8)
	req.ParentCommitID = seedParentCommit(t, f.repo)

	created, err := f.pipeline.CreateRun(t.Context(), req)
	require.NoError(t, err)

	gate.waitForInflight(t, 3)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, gate.peak(), "in-flight evaluations must not exceed the stage limit")

	close(gate.release)
	f.pipeline.Wait()

	run, err := f.pipeline.GetRun(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 8, run.Progress.EvaluatedVariants)
	assert.Equal(t, 3, gate.peak(), "the ceiling must hold for the whole stage")
}

func TestPipeline_UnknownRun(t *testing.T) {
	f := newPipelineFixture(t, 4)

	_, err := f.pipeline.GetRun("eval_ghost")
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func seedParentCommit(t *testing.T, repo *memRepo) string {
	t.Helper()
	repo.commits["c_parent"] = ports.Commit{
		ID:         "c_parent",
		ProjectID:  "p1",
		Status:     ports.CommitSuccess,
		ImagePaths: []string{"storage/c_parent/img_01.png"},
	}
	return "c_parent"
}
