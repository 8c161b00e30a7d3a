package domain

import "math"

// Weights for the drift score composite. Drift increases with pixel
// difference and structural change and decreases with semantic similarity.
// These are fixed design constants, not learned parameters.
const (
	SemanticWeight = 0.40
	PixelWeight    = 0.30
	VisionWeight   = 0.30
)

// degradedPixelFailCeiling is the pixel diff score above which a degraded
// comparison is still treated as a confident fail. Below it, a comparison
// missing semantic or vision evidence is inconclusive.
const degradedPixelFailCeiling = 0.70

// Clamp01 restricts a value to the [0, 1] interval.
func Clamp01(value float64) float64 {
	return math.Max(0.0, math.Min(1.0, value))
}

// Round4 rounds a value to four decimal places, the precision used for all
// persisted scores.
func Round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}

// DriftScore combines the three divergence signals into a single drift
// score in [0, 1].
func DriftScore(pixelDiffScore, semanticSimilarity, visionStructuralScore float64) float64 {
	drift := SemanticWeight*(1.0-semanticSimilarity) +
		PixelWeight*pixelDiffScore +
		VisionWeight*visionStructuralScore
	return Clamp01(drift)
}

// Verdict is the outcome of a baseline/candidate comparison.
type Verdict string

const (
	// VerdictPass indicates the candidate stayed within the drift threshold.
	VerdictPass Verdict = "pass"
	// VerdictFail indicates the candidate drifted past the threshold, or
	// that a degraded comparison still showed strong pixel divergence.
	VerdictFail Verdict = "fail"
	// VerdictInconclusive indicates a degraded comparison whose pixel
	// evidence alone is not strong enough to call a fail.
	VerdictInconclusive Verdict = "inconclusive"
)

// ComputeVerdict derives the verdict for a comparison. When the comparison
// is degraded because semantic or vision evidence is missing, only the raw
// pixel diff decides: a fail requires the pixel evidence alone to be
// strongly divergent.
func ComputeVerdict(
	driftScore, threshold float64,
	degraded bool,
	pixelDiffScore float64,
	semanticAvailable, visionAvailable bool,
) Verdict {
	if degraded && (!semanticAvailable || !visionAvailable) {
		if pixelDiffScore <= degradedPixelFailCeiling {
			return VerdictInconclusive
		}
		return VerdictFail
	}

	if driftScore <= threshold {
		return VerdictPass
	}
	return VerdictFail
}

// Rubric holds the five-axis quality assessment a judge assigns to a
// generated variant image, along with its confidence and tags.
// All score fields are clamped to [0, 1] at the parsing boundary.
type Rubric struct {
	// PromptAdherence measures how faithfully the image follows the prompt.
	PromptAdherence float64 `json:"prompt_adherence"`

	// SubjectFidelity measures how well the core subject is preserved.
	SubjectFidelity float64 `json:"subject_fidelity"`

	// CompositionQuality measures framing, balance, and layout quality.
	CompositionQuality float64 `json:"composition_quality"`

	// StyleCoherence measures internal stylistic consistency.
	StyleCoherence float64 `json:"style_coherence"`

	// TechnicalArtifactPenalty measures rendering defects; higher is worse.
	TechnicalArtifactPenalty float64 `json:"technical_artifact_penalty"`

	// Confidence indicates how certain the judge is about its assessment.
	Confidence float64 `json:"confidence"`

	// FailureTags lists short defect descriptors (at most 8).
	FailureTags []string `json:"failure_tags"`

	// StrengthTags lists short strength descriptors (at most 8).
	StrengthTags []string `json:"strength_tags"`

	// Rationale is the judge's free-text explanation.
	Rationale string `json:"rationale"`
}

// NeutralFallbackRubric is assigned to a variant whose judge call failed.
// All axes sit at the midpoint with low confidence so the variant stays
// rankable without dominating or sinking the leaderboard.
func NeutralFallbackRubric() Rubric {
	return Rubric{
		PromptAdherence:          0.5,
		SubjectFidelity:          0.5,
		CompositionQuality:       0.5,
		StyleCoherence:           0.5,
		TechnicalArtifactPenalty: 0.5,
		Confidence:               0.25,
		FailureTags:              []string{"evaluation_failed"},
		StrengthTags:             []string{},
		Rationale:                "Evaluation failed, assigned neutral fallback rubric.",
	}
}

// CompositeScore aggregates a rubric into a single comparable score,
// rounded to four decimals. The result is not clamped and may be negative
// when the artifact penalty outweighs the quality axes.
func CompositeScore(r Rubric) float64 {
	score := 0.35*r.PromptAdherence +
		0.20*r.SubjectFidelity +
		0.20*r.CompositionQuality +
		0.15*r.StyleCoherence -
		0.10*r.TechnicalArtifactPenalty
	return Round4(score)
}
