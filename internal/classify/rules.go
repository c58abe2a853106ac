package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/memgov/internal/textutil"
)

// Lexical thresholds for the rule-based strategy. The supersede threshold is
// deliberately low: contradictions naturally share few tokens because they
// express different information.
const (
	supersedeMinSim = 0.05
	reinforceMinSim = 0.85
	refineMinSim    = 0.55
)

// supersedeHints indicate contradiction, negation or version change.
var supersedeHints = []string{
	"no longer",
	"replaced",
	"supersede",
	"superseded",
	"instead",
	"changed to",
	"moved from",
	"switched to",
	"switched from",
	"switched",
	"changed",
	"moved",
	"updated",
	"migrated",
	"deprecated",
	"outdated",
	"obsolete",
}

// RuleClassifier assigns relationships from lexical overlap and hint words.
// It is the deterministic fallback when the LLM service is unavailable, and
// the cross-check for medium-confidence LLM decisions.
type RuleClassifier struct{}

// NewRuleClassifier returns the rule-based strategy.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

// Classify never fails: it always produces a label and a heuristic
// confidence.
func (c *RuleClassifier) Classify(_ context.Context, p Pair) (Result, error) {
	sim := textutil.Jaccard(p.Newer.TokenSet(), p.Older.TokenSet())
	body := strings.ToLower(p.Newer.Body)

	hints := 0
	for _, h := range supersedeHints {
		if strings.Contains(body, h) {
			hints++
		}
	}

	switch {
	case sim >= supersedeMinSim && hints > 0:
		conf := textutil.Clamp(0.6 + 0.08*float64(min(hints, 3)) + sim*0.3)
		return Result{
			Relationship: Supersedes,
			Confidence:   conf,
			Reasoning:    fmt.Sprintf("lexical overlap %.2f with %d supersede hint(s)", sim, hints),
		}, nil
	case sim >= reinforceMinSim:
		return Result{
			Relationship: Reinforces,
			Confidence:   textutil.Clamp(sim),
			Reasoning:    fmt.Sprintf("near-duplicate lexical overlap %.2f", sim),
		}, nil
	case sim >= refineMinSim:
		return Result{
			Relationship: Refines,
			Confidence:   textutil.Clamp(sim),
			Reasoning:    fmt.Sprintf("high lexical overlap %.2f without contradiction hints", sim),
		}, nil
	default:
		return Result{
			Relationship: Unrelated,
			Confidence:   textutil.Clamp(0.5 + 0.4*(1-sim)),
			Reasoning:    fmt.Sprintf("lexical overlap %.2f below all thresholds", sim),
		}, nil
	}
}
