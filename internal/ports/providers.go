package ports

import (
	"context"

	"github.com/promptsmith/promptsmith/internal/domain"
)

// ImageRequest describes one image generation or edit call.
type ImageRequest struct {
	// Prompt is the full prompt text for the generation.
	Prompt string

	// Model is the image model identifier.
	Model string

	// Quality is the provider quality tier (standard, hd, low, medium,
	// high). An empty value uses the provider default.
	Quality string

	// Size is the requested resolution, width x height.
	Size string

	// AnchorImage, when set, switches the call to edit mode: the provider
	// mutates the anchor toward the prompt instead of generating from
	// scratch.
	AnchorImage []byte
}

// ImageGenerator produces raw image bytes from a prompt. Failures are
// classified through the ports error kinds so callers can distinguish
// timeouts from client, server, and malformed-response failures.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) ([]byte, error)
}

// ImageFetcher resolves a commit's image reference to raw bytes. The
// reference may be a local path, an http(s) URL, or a storage-relative
// path.
type ImageFetcher interface {
	Fetch(ctx context.Context, reference string) ([]byte, error)
}

// PixelResult is the deterministic image-space comparison outcome.
type PixelResult struct {
	// PixelDiffScore is the blended SSIM and histogram distance in [0,1].
	PixelDiffScore float64

	// SSIM is the global structural similarity scalar.
	SSIM float64

	// HistogramDistance is the averaged per-channel histogram distance.
	HistogramDistance float64

	// Artifacts references the rendered heatmap and overlay images.
	Artifacts domain.ReportArtifacts
}

// PixelComparator computes the pixel signal between two images and writes
// the heatmap and overlay artifacts into outputDir. This is the one
// mandatory comparison signal; any failure is pipeline-fatal for the
// caller.
type PixelComparator interface {
	Compare(ctx context.Context, baseline, candidate []byte, outputDir string) (PixelResult, error)
}

// SemanticScorer estimates how strongly two images depict the same
// subject, returning a similarity in [0,1]. Implementations return
// ErrSignalUnavailable when no provider is configured or the provider
// failed past its retry budget.
type SemanticScorer interface {
	Score(ctx context.Context, baseline, candidate []byte) (float64, error)
}

// VisionJudge produces the structural drift assessment between two
// images: a divergence score in [0,1] plus the structured explanation.
// Unavailability follows the SemanticScorer contract.
type VisionJudge interface {
	Judge(ctx context.Context, baseline, candidate []byte) (float64, domain.StructuralAssessment, error)
}

// RubricJudge scores one generated image against the prompt that produced
// it, returning the five-axis rubric.
type RubricJudge interface {
	Evaluate(ctx context.Context, prompt, objective string, image []byte) (domain.Rubric, error)
}

// PlannedVariant is one prompt mutation proposed by a planner.
type PlannedVariant struct {
	Prompt       string
	MutationTags []string
}

// VariantPlanner proposes n distinct prompt mutations of the base prompt.
// Implementations may call an LLM; the pipeline falls back to a
// deterministic planner on any error or empty result.
type VariantPlanner interface {
	Plan(ctx context.Context, basePrompt, objective string, n int, constraints domain.Constraints) ([]PlannedVariant, error)
}

// RunOutcome summarizes a finished run for the suggestion writer: the
// best and worst leaderboard entries plus the run's base prompt.
type RunOutcome struct {
	BasePrompt string
	Objective  string

	// Top holds the top-ranked leaderboard entries, best first, at most 3.
	Top []domain.Variant

	// Bottom holds the lowest-ranked entries, worst first, at most 2.
	Bottom []domain.Variant
}

// SuggestionWriter produces the three-tier prompt rewrite proposals from a
// run outcome. The pipeline falls back to deterministic templates on any
// error or when a tier comes back empty.
type SuggestionWriter interface {
	Suggest(ctx context.Context, outcome RunOutcome) (domain.Suggestions, error)
}
