package application

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/promptsmith/promptsmith/infrastructure/imagegen"
	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/infrastructure/pixel"
	"github.com/promptsmith/promptsmith/infrastructure/signals"
	"github.com/promptsmith/promptsmith/internal/compare"
	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/evalrun"
	"github.com/promptsmith/promptsmith/internal/ports"
)

// Engine is the facade over the comparison and eval pipelines. It owns
// the provider clients and the in-memory run registry; persistence stays
// behind the injected ports.Repository.
type Engine struct {
	orchestrator *compare.Orchestrator
	pipeline     *evalrun.Pipeline
	logger       *zap.Logger
}

// Options configures engine construction. Repository is required; Logger
// and Registerer may be nil.
type Options struct {
	Config     Config
	Repository ports.Repository
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// NewEngine wires the full engine from configuration: chat clients with
// the operational middleware chain, the image generator, the pixel
// comparator, the model-backed signals, and the two pipelines on top.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}

	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// With no API key the chat clients stay nil. Each signal then reports
	// ErrSignalUnavailable and the pipelines degrade instead of failing
	// to construct.
	var textChat, visionChat signals.ChatClient
	if cfg.APIKey != "" {
		textClient, err := newChatClient(cfg, cfg.TextModel, opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("text model client: %w", err)
		}
		visionClient, err := newChatClient(cfg, cfg.VisionModel, opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("vision model client: %w", err)
		}
		textChat, visionChat = textClient, visionClient
	}

	generator := imagegen.NewGenerator(imagegen.Config{
		APIKey:       cfg.APIKey,
		Timeout:      cfg.UpstreamTimeout,
		DefaultModel: cfg.ImageModel,
		Size:         cfg.ImageSize,
	})

	fetcher := compare.NewFetcher(compare.FetcherConfig{
		Timeout:        cfg.UpstreamTimeout,
		CacheDir:       filepath.Join(cfg.DataDir, "cache"),
		ImageDir:       filepath.Join(cfg.DataDir, "images"),
		StorageBaseURL: cfg.StorageBaseURL,
	})

	orchestrator := compare.NewOrchestrator(compare.Config{
		Repository:  opts.Repository,
		Fetcher:     fetcher,
		Pixel:       pixel.NewComparator(),
		Semantic:    signals.NewSemanticScorer(visionChat),
		Vision:      signals.NewVisionJudge(visionChat),
		ArtifactDir: filepath.Join(cfg.DataDir, "artifacts"),
		Logger:      logger.Named("compare"),
		Metrics:     compare.NewMetrics(opts.Registerer),
	})

	pipeline := evalrun.NewPipeline(evalrun.PipelineConfig{
		Registry:         evalrun.NewRegistry(),
		Repository:       opts.Repository,
		Generator:        generator,
		Fetcher:          fetcher,
		Judge:            signals.NewRubricJudge(visionChat),
		Planner:          signals.NewPlanner(textChat),
		Suggester:        signals.NewSuggester(textChat),
		StageConcurrency: cfg.StageConcurrency,
		ImageSize:        cfg.ImageSize,
		Logger:           logger.Named("evalrun"),
		Metrics:          evalrun.NewMetrics(opts.Registerer),
	})

	return &Engine{
		orchestrator: orchestrator,
		pipeline:     pipeline,
		logger:       logger,
	}, nil
}

// newChatClient builds one provider client with the standard middleware
// chain. Tracing and metrics sit outermost so they observe the retried
// call as a whole; the timeout applies per attempt inside the retry.
func newChatClient(cfg Config, model string, reg prometheus.Registerer) (*llm.Client, error) {
	return llm.NewClient(cfg.ChatProvider, llm.ClientConfig{
		APIKey: cfg.APIKey,
		Model:  model,
		Middleware: []llm.Middleware{
			llm.TracingMiddleware("promptsmith"),
			llm.MetricsMiddleware(reg, cfg.ChatProvider),
			llm.RetryMiddleware(2, 500*time.Millisecond, 5*time.Second),
			llm.TimeoutMiddleware(cfg.UpstreamTimeout),
			llm.RateLimitMiddleware(rate.Limit(5), 10),
			llm.CircuitBreakerMiddleware(5, 30*time.Second),
		},
	})
}

// Compare runs the baseline-versus-candidate comparison and persists the
// resulting report.
func (e *Engine) Compare(ctx context.Context, projectID, candidateCommitID string) (domain.ComparisonReport, error) {
	return e.orchestrator.Compare(ctx, projectID, candidateCommitID)
}

// CreateRun validates and enqueues a multi-variant eval run. The
// returned snapshot is always in the queued state; the run advances in
// the background.
func (e *Engine) CreateRun(ctx context.Context, req evalrun.CreateRunRequest) (*domain.Run, error) {
	return e.pipeline.CreateRun(ctx, req)
}

// GetRun returns an independent snapshot of the run's current state.
func (e *Engine) GetRun(runID string) (*domain.Run, error) {
	return e.pipeline.GetRun(runID)
}

// Wait blocks until every background run launched by CreateRun has
// reached a terminal state. Intended for shutdown and tests.
func (e *Engine) Wait() { e.pipeline.Wait() }
