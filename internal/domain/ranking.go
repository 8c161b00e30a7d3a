package domain

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// foldCaser is a package-level Unicode case folder for tag matching.
// This avoids creating a new caser per comparison.
var foldCaser = cases.Fold()

// hardRuleMarkers are tag substrings that indicate a hard quality rule was
// broken (visible artifacts, watermarks, malformed limbs). Variants with
// more of these lose ties against otherwise equal variants.
var hardRuleMarkers = []string{"artifact", "watermark", "limb"}

// topKSize is the number of leaderboard leaders surfaced as top_k.
const topKSize = 3

// HardRuleViolations counts the failure tags that match a hard rule
// marker. Matching is case-folded and substring-based.
func HardRuleViolations(failureTags []string) int {
	violations := 0
	for _, tag := range failureTags {
		folded := foldCaser.String(tag)
		for _, marker := range hardRuleMarkers {
			if strings.Contains(folded, marker) {
				violations++
				break
			}
		}
	}
	return violations
}

// RankVariants builds the leaderboard for a run. It copies the rankable
// variants (evaluated or evaluated_degraded), sorts them best-first, and
// assigns dense 1-based ranks. The input slice is left untouched.
//
// Order is descending by composite score, then descending confidence,
// then ascending technical artifact penalty, then ascending hard-rule
// violation count.
func RankVariants(variants []Variant) (leaderboard []Variant, topK []string) {
	ranked := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if v.Status.Rankable() {
			ranked = append(ranked, v)
		}
	}
	ranked = cloneVariants(ranked)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.Rubric.Confidence != b.Rubric.Confidence {
			return a.Rubric.Confidence > b.Rubric.Confidence
		}
		if a.Rubric.TechnicalArtifactPenalty != b.Rubric.TechnicalArtifactPenalty {
			return a.Rubric.TechnicalArtifactPenalty < b.Rubric.TechnicalArtifactPenalty
		}
		return HardRuleViolations(a.Rubric.FailureTags) < HardRuleViolations(b.Rubric.FailureTags)
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	topK = make([]string, 0, topKSize)
	for _, v := range ranked {
		if len(topK) == topKSize {
			break
		}
		topK = append(topK, v.ID)
	}
	return ranked, topK
}
