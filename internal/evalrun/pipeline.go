package evalrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

// DefaultStageConcurrency bounds the per-stage fan-out when the
// configuration does not set one.
const DefaultStageConcurrency = 4

// anchorImageFilename is the filename recorded for every uploaded
// generation artifact.
const anchorImageFilename = "img_01.png"

// Pipeline executes eval runs: it plans prompt variants, generates an
// image per variant in edit mode against the anchor, judges each image,
// ranks the results, and writes prompt suggestions. Runs execute on
// tracked background goroutines; Wait blocks until all of them finish.
type Pipeline struct {
	registry  *Registry
	repo      ports.Repository
	generator ports.ImageGenerator
	fetcher   ports.ImageFetcher
	judge     ports.RubricJudge
	planner   ports.VariantPlanner
	suggester ports.SuggestionWriter

	stageConcurrency int
	imageSize        string

	logger  *zap.Logger
	metrics *Metrics

	tasks sync.WaitGroup
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Registry   *Registry
	Repository ports.Repository
	Generator  ports.ImageGenerator
	Fetcher    ports.ImageFetcher
	Judge      ports.RubricJudge
	Planner    ports.VariantPlanner
	Suggester  ports.SuggestionWriter

	// StageConcurrency bounds concurrent generation and evaluation calls
	// within one run. Defaults to DefaultStageConcurrency.
	StageConcurrency int

	// ImageSize is the generation resolution passed to the image provider.
	ImageSize string

	Logger  *zap.Logger
	Metrics *Metrics
}

// NewPipeline creates an eval pipeline. Logger and Metrics may be nil.
func NewPipeline(config PipelineConfig) *Pipeline {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	concurrency := config.StageConcurrency
	if concurrency <= 0 {
		concurrency = DefaultStageConcurrency
	}

	return &Pipeline{
		registry:         config.Registry,
		repo:             config.Repository,
		generator:        config.Generator,
		fetcher:          config.Fetcher,
		judge:            config.Judge,
		planner:          config.Planner,
		suggester:        config.Suggester,
		stageConcurrency: concurrency,
		imageSize:        config.ImageSize,
		logger:           logger,
		metrics:          metrics,
	}
}

// CreateRunRequest describes a new eval run.
type CreateRunRequest struct {
	ProjectID       string
	BasePrompt      string
	ObjectivePreset string
	ImageModel      string
	NVariants       int
	Quality         string
	Constraints     domain.Constraints
	ParentCommitID  string
}

// CreateRun validates the request, registers the run in queued state, and
// starts its background execution. The returned snapshot is taken before
// the pipeline makes any progress, so callers always see the queued run.
func (p *Pipeline) CreateRun(ctx context.Context, req CreateRunRequest) (*domain.Run, error) {
	if req.NVariants < domain.MinVariants || req.NVariants > domain.MaxVariants {
		return nil, domain.E(domain.CodeInvalidRequest,
			fmt.Sprintf("n_variants must be between %d and %d", domain.MinVariants, domain.MaxVariants))
	}
	if strings.TrimSpace(req.BasePrompt) == "" {
		return nil, domain.E(domain.CodeInvalidRequest, "base_prompt must not be empty")
	}

	if _, err := p.repo.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	if req.ParentCommitID != "" {
		commit, err := p.repo.GetCommit(ctx, req.ParentCommitID, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if commit.Status != ports.CommitSuccess || len(commit.ImagePaths) == 0 {
			return nil, domain.E(domain.CodeNotFound,
				fmt.Sprintf("commit %q is not a successful generation with image artifacts", req.ParentCommitID))
		}
	}

	now := time.Now().UTC()
	run := &domain.Run{
		ID:              newRunID(),
		ProjectID:       req.ProjectID,
		BasePrompt:      req.BasePrompt,
		ObjectivePreset: req.ObjectivePreset,
		ImageModel:      req.ImageModel,
		NVariants:       req.NVariants,
		Quality:         req.Quality,
		ParentCommitID:  req.ParentCommitID,
		Constraints:     req.Constraints,
		Status:          domain.RunQueued,
		Stage:           domain.RunQueued,
		Progress:        domain.Progress{TotalVariants: req.NVariants},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	p.registry.Create(run)

	snapshot, err := p.registry.Get(run.ID)
	if err != nil {
		return nil, err
	}

	// The run must outlive the request that created it.
	runCtx := context.WithoutCancel(ctx)
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		p.execute(runCtx, run.ID)
	}()

	return snapshot, nil
}

// GetRun returns a snapshot of the run.
func (p *Pipeline) GetRun(runID string) (*domain.Run, error) {
	return p.registry.Get(runID)
}

// Wait blocks until every background run started by this pipeline has
// finished.
func (p *Pipeline) Wait() { p.tasks.Wait() }

// execute drives one run to a terminal state. Panics and errors both land
// in the failed state so no run is ever left in flight.
func (p *Pipeline) execute(ctx context.Context, runID string) {
	defer func() {
		if rec := recover(); rec != nil {
			p.failRun(runID, fmt.Errorf("run panicked: %v", rec))
		}
	}()

	run, err := p.registry.Get(runID)
	if err != nil {
		p.logger.Error("run vanished before execution", zap.String("run_id", runID))
		return
	}

	if err := p.runStages(ctx, run); err != nil {
		p.failRun(runID, err)
		return
	}

	p.finalize(runID)
}

// runStages executes the pipeline stages in order. A returned error is a
// run-fatal failure; per-variant failures are absorbed inside the stages.
func (p *Pipeline) runStages(ctx context.Context, run *domain.Run) error {
	p.setStage(run.ID, domain.RunPlanning)
	planned := p.planVariants(ctx, run)
	if len(planned) == 0 {
		return domain.E(domain.CodeUpstreamError, "unable to produce prompt variants for this run")
	}

	variants := make([]domain.Variant, len(planned))
	for i, item := range planned {
		variants[i] = domain.Variant{
			ID:           fmt.Sprintf("v%02d", i+1),
			Prompt:       item.Prompt,
			MutationTags: item.MutationTags,
			Status:       domain.VariantPlanned,
			Rubric:       domain.Rubric{TechnicalArtifactPenalty: 1.0},
		}
	}
	if err := p.registry.Update(run.ID, func(r *domain.Run) { r.Variants = variants }); err != nil {
		return err
	}

	p.setStage(run.ID, domain.RunGenerating)
	anchorCommitID, anchorBytes, err := p.resolveAnchor(ctx, run)
	if err != nil {
		return err
	}
	if err := p.registry.Update(run.ID, func(r *domain.Run) { r.AnchorCommitID = anchorCommitID }); err != nil {
		return err
	}

	images := p.generateImages(ctx, run, variants, anchorCommitID, anchorBytes)
	if len(images) == 0 {
		return domain.E(domain.CodeUpstreamError, "all variant image generations failed")
	}

	p.setStage(run.ID, domain.RunEvaluating)
	p.evaluateImages(ctx, run, variants, images)

	snapshot, err := p.registry.Get(run.ID)
	if err != nil {
		return err
	}
	leaderboard, topK := domain.RankVariants(snapshot.Variants)
	if err := p.registry.Update(run.ID, func(r *domain.Run) {
		r.Leaderboard = leaderboard
		r.TopK = topK
	}); err != nil {
		return err
	}

	p.setStage(run.ID, domain.RunRefining)
	suggestions := p.buildSuggestions(ctx, run, leaderboard)
	return p.registry.Update(run.ID, func(r *domain.Run) { r.Suggestions = suggestions })
}

// planVariants resolves the run's prompt variants, preferring the LLM
// planner and falling back to the deterministic templates on any error,
// empty result, or shortfall after near-duplicate rejection.
func (p *Pipeline) planVariants(ctx context.Context, run *domain.Run) []ports.PlannedVariant {
	planned, err := p.planner.Plan(ctx, run.BasePrompt, run.ObjectivePreset, run.NVariants, run.Constraints)
	if err != nil {
		p.logger.Warn("variant planner unavailable, using deterministic templates",
			zap.String("run_id", run.ID), zap.Error(err))
		planned = nil
	}

	planned = dedupeVariants(planned)
	if len(planned) > run.NVariants {
		planned = planned[:run.NVariants]
	}

	if len(planned) < run.NVariants {
		for _, fallback := range FallbackVariants(run.BasePrompt, run.Constraints, run.NVariants) {
			if len(planned) == run.NVariants {
				break
			}
			if !isNearDuplicate(fallback.Prompt, planned) {
				planned = append(planned, fallback)
			}
		}
	}

	return planned
}

// resolveAnchor returns the anchor commit id and image bytes every
// variant is edited from. With a parent commit the anchor is its first
// image; without one a fresh anchor is generated and persisted as a new
// commit. Either path failing is run-fatal.
func (p *Pipeline) resolveAnchor(ctx context.Context, run *domain.Run) (string, []byte, error) {
	if run.ParentCommitID != "" {
		commit, err := p.repo.GetCommit(ctx, run.ParentCommitID, run.ProjectID)
		if err != nil {
			return "", nil, err
		}
		if len(commit.ImagePaths) == 0 {
			return "", nil, domain.E(domain.CodeNotFound,
				fmt.Sprintf("commit %q is missing image artifacts", run.ParentCommitID))
		}

		data, err := p.fetcher.Fetch(ctx, commit.ImagePaths[0])
		if err != nil {
			return "", nil, domain.Wrap(domain.CodePipelineFailed, "failed to resolve anchor image", err)
		}
		return run.ParentCommitID, data, nil
	}

	data, err := p.generator.Generate(ctx, ports.ImageRequest{
		Prompt:  run.BasePrompt,
		Model:   run.ImageModel,
		Quality: run.Quality,
		Size:    p.imageSize,
	})
	if err != nil {
		return "", nil, domain.Wrap(providerCode(err), "anchor image generation failed", err)
	}

	commitID, imageURL, err := p.persistGeneration(ctx, run, run.BasePrompt, "", data)
	if err != nil {
		return "", nil, err
	}
	_ = imageURL
	return commitID, data, nil
}

// generateImages produces one image per variant in edit mode against the
// anchor, bounded by the stage concurrency. Every attempt, successful or
// not, persists a commit; failures degrade the run instead of stopping
// it. Returns the generated bytes keyed by variant id.
func (p *Pipeline) generateImages(
	ctx context.Context,
	run *domain.Run,
	variants []domain.Variant,
	anchorCommitID string,
	anchorBytes []byte,
) map[string][]byte {
	stageStart := time.Now()

	var mu sync.Mutex
	images := make(map[string][]byte, len(variants))

	group := &errgroup.Group{}
	group.SetLimit(p.stageConcurrency)

	for _, variant := range variants {
		group.Go(func() error {
			p.generateVariant(ctx, run, variant, anchorCommitID, anchorBytes, func(data []byte) {
				mu.Lock()
				images[variant.ID] = data
				mu.Unlock()
			})
			return nil
		})
	}
	_ = group.Wait()

	p.metrics.observeStage("generating", time.Since(stageStart))
	return images
}

// generateVariant runs one variant's generation attempt end to end.
func (p *Pipeline) generateVariant(
	ctx context.Context,
	run *domain.Run,
	variant domain.Variant,
	anchorCommitID string,
	anchorBytes []byte,
	store func([]byte),
) {
	start := time.Now()

	data, err := p.generator.Generate(ctx, ports.ImageRequest{
		Prompt:      variant.Prompt,
		Model:       run.ImageModel,
		Quality:     run.Quality,
		Size:        p.imageSize,
		AnchorImage: anchorBytes,
	})

	var commitID, imageURL string
	if err == nil {
		commitID, imageURL, err = p.persistGeneration(ctx, run, variant.Prompt, anchorCommitID, data)
	}
	latency := time.Since(start).Milliseconds()

	if err != nil {
		p.markDegraded(run.ID)
		p.metrics.observeVariantFailure("generating")
		p.logger.Warn("variant generation failed",
			zap.String("run_id", run.ID), zap.String("variant_id", variant.ID), zap.Error(err))

		failedCommitID := p.persistFailedGeneration(ctx, run, variant.Prompt, anchorCommitID, err)
		_ = p.registry.UpdateVariant(run.ID, variant.ID, func(v *domain.Variant) {
			v.Status = domain.VariantGenerationFailed
			v.CommitID = failedCommitID
			v.ParentCommitID = anchorCommitID
			v.GenerationLatencyMs = latency
			v.Error = err.Error()
		})
		_ = p.registry.AddProgress(run.ID, 1, 0, 1)
		return
	}

	store(data)
	_ = p.registry.UpdateVariant(run.ID, variant.ID, func(v *domain.Variant) {
		v.Status = domain.VariantGenerated
		v.CommitID = commitID
		v.ParentCommitID = anchorCommitID
		v.ImageURL = imageURL
		v.GenerationLatencyMs = latency
	})
	_ = p.registry.AddProgress(run.ID, 1, 0, 0)
}

// persistGeneration records a successful generation: it reserves a commit
// id, uploads the image, and creates the commit.
func (p *Pipeline) persistGeneration(
	ctx context.Context,
	run *domain.Run,
	prompt, parentCommitID string,
	data []byte,
) (commitID, imageURL string, err error) {
	commitID, err = p.repo.ReserveCommitID(ctx)
	if err != nil {
		return "", "", domain.Wrap(domain.CodeStorageWriteFailed, "failed to reserve commit id", err)
	}

	imageURL, err = p.repo.UploadCommitImage(ctx, commitID, anchorImageFilename, data)
	if err != nil {
		return "", "", domain.Wrap(domain.CodeStorageWriteFailed, "failed to upload commit image", err)
	}

	_, err = p.repo.CreateCommit(ctx, ports.Commit{
		ID:             commitID,
		ProjectID:      run.ProjectID,
		Prompt:         prompt,
		Model:          run.ImageModel,
		ParentCommitID: parentCommitID,
		ImagePaths:     []string{imageURL},
		Status:         ports.CommitSuccess,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return "", "", domain.Wrap(domain.CodeStorageWriteFailed, "failed to create commit", err)
	}

	return commitID, imageURL, nil
}

// persistFailedGeneration records a failed generation attempt as a commit
// with no images, keeping the lineage complete. Storage errors here are
// logged and swallowed; the variant failure is already recorded.
func (p *Pipeline) persistFailedGeneration(
	ctx context.Context,
	run *domain.Run,
	prompt, parentCommitID string,
	genErr error,
) string {
	commitID, err := p.repo.ReserveCommitID(ctx)
	if err != nil {
		p.logger.Warn("failed to reserve commit id for failed generation",
			zap.String("run_id", run.ID), zap.Error(err))
		return ""
	}

	_, err = p.repo.CreateCommit(ctx, ports.Commit{
		ID:             commitID,
		ProjectID:      run.ProjectID,
		Prompt:         prompt,
		Model:          run.ImageModel,
		ParentCommitID: parentCommitID,
		ImagePaths:     []string{},
		Status:         ports.CommitFailed,
		Error:          fmt.Sprintf("%s: %v", providerCode(genErr), genErr),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("failed to persist failed generation commit",
			zap.String("run_id", run.ID), zap.Error(err))
	}
	return commitID
}

// evaluateImages judges every generated image, bounded by the stage
// concurrency. Variants without an image are skipped; judge failures fall
// back to the neutral rubric and degrade the run.
func (p *Pipeline) evaluateImages(
	ctx context.Context,
	run *domain.Run,
	variants []domain.Variant,
	images map[string][]byte,
) {
	stageStart := time.Now()

	group := &errgroup.Group{}
	group.SetLimit(p.stageConcurrency)

	for _, variant := range variants {
		group.Go(func() error {
			p.evaluateVariant(ctx, run, variant, images[variant.ID])
			return nil
		})
	}
	_ = group.Wait()

	p.metrics.observeStage("evaluating", time.Since(stageStart))
}

// evaluateVariant judges one variant's image.
func (p *Pipeline) evaluateVariant(ctx context.Context, run *domain.Run, variant domain.Variant, image []byte) {
	if image == nil {
		_ = p.registry.UpdateVariant(run.ID, variant.ID, func(v *domain.Variant) {
			v.Status = domain.VariantEvaluationSkipped
			v.Rubric.FailureTags = []string{"generation_failed"}
			v.Rubric.Rationale = "Evaluation skipped because image generation failed."
		})
		return
	}

	start := time.Now()
	rubric, err := p.judge.Evaluate(ctx, variant.Prompt, run.ObjectivePreset, image)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		p.markDegraded(run.ID)
		p.metrics.observeVariantFailure("evaluating")
		p.logger.Warn("variant evaluation failed",
			zap.String("run_id", run.ID), zap.String("variant_id", variant.ID), zap.Error(err))

		fallback := domain.NeutralFallbackRubric()
		fallback.Rationale = fmt.Sprintf("%s (%v)", fallback.Rationale, err)
		score := domain.CompositeScore(fallback)
		_ = p.registry.UpdateVariant(run.ID, variant.ID, func(v *domain.Variant) {
			v.Status = domain.VariantEvaluatedDegraded
			v.JudgeLatencyMs = latency
			v.Rubric = fallback
			v.CompositeScore = score
			v.Error = err.Error()
		})
		_ = p.registry.AddProgress(run.ID, 0, 1, 1)
		return
	}

	score := domain.CompositeScore(rubric)
	_ = p.registry.UpdateVariant(run.ID, variant.ID, func(v *domain.Variant) {
		v.Status = domain.VariantEvaluated
		v.JudgeLatencyMs = latency
		v.Rubric = rubric
		v.CompositeScore = score
	})
	_ = p.registry.AddProgress(run.ID, 0, 1, 0)
}

// buildSuggestions resolves the run's prompt suggestions, preferring the
// LLM writer and substituting the deterministic templates on any error
// or incomplete reply.
func (p *Pipeline) buildSuggestions(ctx context.Context, run *domain.Run, leaderboard []domain.Variant) domain.Suggestions {
	if len(leaderboard) == 0 {
		return FallbackSuggestions(run.BasePrompt, run.ObjectivePreset, nil)
	}

	outcome := ports.RunOutcome{
		BasePrompt: run.BasePrompt,
		Objective:  run.ObjectivePreset,
		Top:        leaderboard[:min(3, len(leaderboard))],
		Bottom:     worstFirst(leaderboard, 2),
	}

	suggestions, err := p.suggester.Suggest(ctx, outcome)
	if err != nil || suggestions.Conservative.PromptText == "" ||
		suggestions.Balanced.PromptText == "" || suggestions.Aggressive.PromptText == "" {
		if err != nil {
			p.logger.Warn("suggestion writer unavailable, using deterministic templates",
				zap.String("run_id", run.ID), zap.Error(err))
		}
		return FallbackSuggestions(run.BasePrompt, run.ObjectivePreset, leaderboard)
	}

	return suggestions
}

// finalize moves the run to its terminal success state.
func (p *Pipeline) finalize(runID string) {
	now := time.Now().UTC()
	var status domain.RunStatus
	_ = p.registry.Update(runID, func(run *domain.Run) {
		status = domain.RunCompleted
		if run.Degraded {
			status = domain.RunCompletedDegraded
		}
		run.Status = status
		run.Stage = status
		run.CompletedAt = &now
	})

	p.metrics.observeRunFinished(status)
	p.logger.Info("eval run finished", zap.String("run_id", runID), zap.String("status", string(status)))
}

// failRun moves the run to the failed terminal state.
func (p *Pipeline) failRun(runID string, err error) {
	now := time.Now().UTC()
	_ = p.registry.Update(runID, func(run *domain.Run) {
		run.Status = domain.RunFailed
		run.Stage = domain.RunFailed
		run.Error = runErrorString(err)
		run.CompletedAt = &now
	})

	p.metrics.observeRunFinished(domain.RunFailed)
	p.logger.Error("eval run failed", zap.String("run_id", runID), zap.Error(err))
}

func (p *Pipeline) setStage(runID string, stage domain.RunStatus) {
	_ = p.registry.Update(runID, func(run *domain.Run) {
		run.Status = stage
		run.Stage = stage
	})
}

func (p *Pipeline) markDegraded(runID string) {
	_ = p.registry.Update(runID, func(run *domain.Run) { run.Degraded = true })
}

// runErrorString renders a terminal run error as "CODE: message".
func runErrorString(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Error()
	}
	return fmt.Sprintf("%s: %v", domain.CodePipelineFailed, err)
}

// providerCode maps a provider error to the engine taxonomy.
func providerCode(err error) domain.Code {
	if errors.Is(err, ports.ErrTimeout) {
		return domain.CodeUpstreamTimeout
	}
	return domain.CodeUpstreamError
}

// worstFirst returns up to limit of the lowest-ranked entries, worst
// first.
func worstFirst(leaderboard []domain.Variant, limit int) []domain.Variant {
	if limit > len(leaderboard) {
		limit = len(leaderboard)
	}
	out := make([]domain.Variant, 0, limit)
	for i := len(leaderboard) - 1; i >= len(leaderboard)-limit; i-- {
		out = append(out, leaderboard[i])
	}
	return out
}

// newRunID allocates an eval run identifier.
func newRunID() string {
	return "eval_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
