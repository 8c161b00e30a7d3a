// Package compare orchestrates one baseline/candidate comparison: it
// resolves both commit images, fans the three divergence signals out
// concurrently, degrades gracefully when the model-backed signals are
// unavailable, and persists the resulting report.
package compare

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

// neutralSignalScore substitutes for a missing semantic or vision signal
// so the drift composite stays computable in degraded mode.
const neutralSignalScore = 0.5

// Orchestrator runs comparisons against the injected collaborators.
type Orchestrator struct {
	repo     ports.Repository
	fetcher  ports.ImageFetcher
	pixel    ports.PixelComparator
	semantic ports.SemanticScorer
	vision   ports.VisionJudge

	// artifactDir is the root under which per-report artifact directories
	// are created.
	artifactDir string

	logger  *zap.Logger
	metrics *Metrics
}

// Config wires an Orchestrator.
type Config struct {
	Repository  ports.Repository
	Fetcher     ports.ImageFetcher
	Pixel       ports.PixelComparator
	Semantic    ports.SemanticScorer
	Vision      ports.VisionJudge
	ArtifactDir string
	Logger      *zap.Logger
	Metrics     *Metrics
}

// NewOrchestrator creates a compare orchestrator. Logger and Metrics may
// be nil; they default to no-ops.
func NewOrchestrator(config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Orchestrator{
		repo:        config.Repository,
		fetcher:     config.Fetcher,
		pixel:       config.Pixel,
		semantic:    config.Semantic,
		vision:      config.Vision,
		artifactDir: config.ArtifactDir,
		logger:      logger,
		metrics:     metrics,
	}
}

// signalOutcome collects the results of the concurrent signal fan-out.
type signalOutcome struct {
	pixel    ports.PixelResult
	pixelErr error

	semanticScore float64
	semanticErr   error

	visionScore      float64
	visionAssessment domain.StructuralAssessment
	visionErr        error
}

// Compare runs the full comparison of the candidate commit against the
// project's active baseline and persists the report. Resolution failures
// surface before any signal call is made; once the signals run, only a
// pixel failure is fatal.
func (o *Orchestrator) Compare(ctx context.Context, projectID, candidateCommitID string) (domain.ComparisonReport, error) {
	started := time.Now()

	project, err := o.repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ComparisonReport{}, err
	}

	baselineCommitID := project.ActiveBaselineCommitID
	if baselineCommitID == "" {
		return domain.ComparisonReport{}, domain.E(domain.CodeBaselineNotSet,
			"set a baseline before comparing commits")
	}

	baselineCommit, err := o.repo.GetCommit(ctx, baselineCommitID, projectID)
	if err != nil {
		return domain.ComparisonReport{}, err
	}
	candidateCommit, err := o.repo.GetCommit(ctx, candidateCommitID, projectID)
	if err != nil {
		return domain.ComparisonReport{}, err
	}

	baselineImage, err := o.resolveCommitImage(ctx, baselineCommit)
	if err != nil {
		return domain.ComparisonReport{}, err
	}
	candidateImage, err := o.resolveCommitImage(ctx, candidateCommit)
	if err != nil {
		return domain.ComparisonReport{}, err
	}

	reportID, err := o.repo.ReserveReportID(ctx)
	if err != nil {
		return domain.ComparisonReport{}, err
	}

	settings, err := o.repo.GetSettings(ctx)
	if err != nil {
		return domain.ComparisonReport{}, err
	}

	outcome := o.runSignals(ctx, baselineImage, candidateImage, filepath.Join(o.artifactDir, reportID))
	if outcome.pixelErr != nil {
		return domain.ComparisonReport{}, domain.Wrap(domain.CodePipelineFailed,
			"pixel comparison failed", outcome.pixelErr)
	}

	report := o.composeReport(reportID, projectID, baselineCommitID, candidateCommitID,
		settings.Threshold, outcome)

	persisted, err := o.repo.CreateComparisonReport(ctx, report)
	if err != nil {
		return domain.ComparisonReport{}, err
	}

	o.metrics.observeCompare(persisted.Verdict, persisted.Degraded, time.Since(started))
	o.logger.Info("comparison completed",
		zap.String("report_id", persisted.ReportID),
		zap.String("project_id", projectID),
		zap.String("verdict", string(persisted.Verdict)),
		zap.Bool("degraded", persisted.Degraded),
		zap.Float64("drift_score", persisted.DriftScore),
	)

	return persisted, nil
}

// runSignals fans the three signals out concurrently. Each signal runs to
// completion independently; a semantic or vision failure must not cancel
// its siblings, so this deliberately avoids errgroup's shared-context
// cancellation.
func (o *Orchestrator) runSignals(ctx context.Context, baseline, candidate []byte, outputDir string) signalOutcome {
	var outcome signalOutcome
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		outcome.pixel, outcome.pixelErr = o.pixel.Compare(ctx, baseline, candidate, outputDir)
	}()
	go func() {
		defer wg.Done()
		outcome.semanticScore, outcome.semanticErr = o.semantic.Score(ctx, baseline, candidate)
	}()
	go func() {
		defer wg.Done()
		outcome.visionScore, outcome.visionAssessment, outcome.visionErr = o.vision.Judge(ctx, baseline, candidate)
	}()

	wg.Wait()
	return outcome
}

// composeReport assembles the report from the signal outcome, applying
// the degraded-mode substitutions and the verdict policy.
func (o *Orchestrator) composeReport(
	reportID, projectID, baselineCommitID, candidateCommitID string,
	threshold float64,
	outcome signalOutcome,
) domain.ComparisonReport {
	semanticAvailable := outcome.semanticErr == nil
	visionAvailable := outcome.visionErr == nil
	degraded := !semanticAvailable || !visionAvailable

	semanticSimilarity := outcome.semanticScore
	if !semanticAvailable {
		semanticSimilarity = neutralSignalScore
		o.metrics.observeSignalFailure("semantic")
		o.logger.Warn("semantic signal unavailable",
			zap.String("report_id", reportID), zap.Error(outcome.semanticErr))
	}

	visionScore := outcome.visionScore
	explanation := outcome.visionAssessment
	if !visionAvailable {
		visionScore = neutralSignalScore
		explanation = domain.DefaultAssessment()
		o.metrics.observeSignalFailure("vision")
		o.logger.Warn("vision signal unavailable",
			zap.String("report_id", reportID), zap.Error(outcome.visionErr))
	}

	if degraded {
		explanation.Notes = degradedNote(semanticAvailable, visionAvailable)
	}

	pixelScore := outcome.pixel.PixelDiffScore
	driftScore := domain.DriftScore(pixelScore, semanticSimilarity, visionScore)
	verdict := domain.ComputeVerdict(driftScore, threshold, degraded, pixelScore,
		semanticAvailable, visionAvailable)

	return domain.ComparisonReport{
		ReportID:              reportID,
		ProjectID:             projectID,
		BaselineCommitID:      baselineCommitID,
		CandidateCommitID:     candidateCommitID,
		PixelDiffScore:        domain.Round4(pixelScore),
		SemanticSimilarity:    domain.Round4(semanticSimilarity),
		VisionStructuralScore: domain.Round4(visionScore),
		DriftScore:            domain.Round4(driftScore),
		Threshold:             domain.Round4(threshold),
		Verdict:               verdict,
		Degraded:              degraded,
		Explanation:           explanation,
		Artifacts:             outcome.pixel.Artifacts,
		CreatedAt:             time.Now().UTC(),
	}
}

// resolveCommitImage fetches the bytes of the commit's first image
// artifact.
func (o *Orchestrator) resolveCommitImage(ctx context.Context, commit ports.Commit) ([]byte, error) {
	if len(commit.ImagePaths) == 0 {
		return nil, domain.E(domain.CodeNotFound,
			fmt.Sprintf("commit %s does not have any image artifacts", commit.ID))
	}

	data, err := o.fetcher.Fetch(ctx, commit.ImagePaths[0])
	if err != nil {
		return nil, domain.Wrap(domain.CodePipelineFailed,
			fmt.Sprintf("failed to resolve image artifact for commit %s", commit.ID), err)
	}
	return data, nil
}

// degradedNote names the missing signals in the report explanation.
func degradedNote(semanticAvailable, visionAvailable bool) string {
	missing := make([]string, 0, 2)
	if !semanticAvailable {
		missing = append(missing, "semantic")
	}
	if !visionAvailable {
		missing = append(missing, "vision")
	}
	return fmt.Sprintf("Degraded compare: missing %s signal(s).", strings.Join(missing, ", "))
}
