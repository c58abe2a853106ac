// Package classify labels the relationship between two memory records using
// an LLM-backed classifier with a deterministic rule-based fallback.
package classify

import (
	"context"
	"errors"
	"strings"

	"github.com/rcliao/memgov/internal/model"
)

// Relationship is the classifier's verdict on how two records relate.
type Relationship string

// The closed set of relationship labels.
const (
	Reinforces Relationship = "REINFORCES"
	Refines    Relationship = "REFINES"
	Supersedes Relationship = "SUPERSEDES"
	Unrelated  Relationship = "UNRELATED"
)

// ErrUnavailable reports that the classifier service cannot be reached. The
// caller may choose to fall back to the rule-based strategy for the rest of
// the run.
var ErrUnavailable = errors.New("classifier service unavailable")

// Pair is a candidate pair ordered by time: Newer postdates Older.
type Pair struct {
	Newer *model.Record
	Older *model.Record
}

// Result is the outcome of classifying one pair.
type Result struct {
	Relationship Relationship
	Confidence   float64
	Reasoning    string
	Cached       bool
}

// Classifier labels the relationship between the records of a pair.
type Classifier interface {
	Classify(ctx context.Context, p Pair) (Result, error)
}

// NormalizeLabel maps free-form label text onto the closed set. Anything
// unrecognized becomes UNRELATED.
func NormalizeLabel(raw string) Relationship {
	switch Relationship(strings.ToUpper(strings.TrimSpace(raw))) {
	case Reinforces:
		return Reinforces
	case Refines:
		return Refines
	case Supersedes:
		return Supersedes
	default:
		return Unrelated
	}
}
