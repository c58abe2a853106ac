// Package consolidate applies confidence-tiered consolidation decisions to
// the record store: classifying candidate pairs, marking superseded records
// historical, and appending the drift audit log.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/memgov/internal/candidate"
	"github.com/rcliao/memgov/internal/classify"
	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/store"
)

// Confidence tiers. At or above AutoAccept a decision applies directly;
// between Review and AutoAccept it is re-derived with the rule classifier
// first; below Review it only queues for manual inspection.
const (
	AutoAcceptConfidence = 0.85
	ReviewConfidence     = 0.6

	// BatchSize is the number of pairs processed between checkpoint writes.
	BatchSize = 10

	// JobName keys the checkpoint file for drift runs.
	JobName = "drift"
)

// Options configure one consolidation run.
type Options struct {
	// DryRun reports intended actions without writing records, audit lines,
	// queue entries or checkpoints.
	DryRun bool
	// FallbackOnError switches to the rule classifier for the rest of the
	// run when the primary classifier becomes unavailable. Without it the
	// run stops with the unavailability error.
	FallbackOnError bool
	// MinConfidence drops results below it outright, without queueing.
	MinConfidence float64
	// Now overrides the clock, mainly for tests. Zero means wall clock.
	Now time.Time
}

// Report summarizes a consolidation run.
type Report struct {
	Pairs      int
	Applied    map[classify.Relationship]int
	Superseded int
	Queued     int
	Dropped    int
	Rederived  int
	CacheHits  int
	RuleOnly   bool
	DryRun     bool
}

// Summary renders the one-line run summary.
func (r Report) Summary() string {
	return fmt.Sprintf("pairs=%d supersedes=%d refines=%d reinforces=%d unrelated=%d queued=%d dropped=%d cached=%d dry_run=%t",
		r.Pairs,
		r.Applied[classify.Supersedes],
		r.Applied[classify.Refines],
		r.Applied[classify.Reinforces],
		r.Applied[classify.Unrelated],
		r.Queued, r.Dropped, r.CacheHits, r.DryRun)
}

// Engine runs the classification and application pipeline over candidate
// pairs.
type Engine struct {
	store      *store.Store
	classifier classify.Classifier
	rules      *classify.RuleClassifier
	log        *logrus.Logger
}

// NewEngine creates an engine using the given primary classifier.
func NewEngine(st *store.Store, classifier classify.Classifier, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		store:      st,
		classifier: classifier,
		rules:      classify.NewRuleClassifier(),
		log:        log,
	}
}

// Run classifies each pair and applies the tiered decision policy. files
// must contain the records the pairs reference; mutated files are rewritten
// atomically per batch.
func (e *Engine) Run(ctx context.Context, files []*store.File, pairs []candidate.Pair, opts Options) (Report, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	report := Report{
		Pairs:   len(pairs),
		Applied: map[classify.Relationship]int{},
		DryRun:  opts.DryRun,
	}

	queue, err := e.store.LoadReviewQueue()
	if err != nil {
		return report, err
	}
	queued := make(map[string]bool, len(queue))
	for _, item := range queue {
		queued[item.NewID+"|"+item.OldID] = true
	}

	// The drift log records each (action, new, old) triple once. A rerun
	// over an unchanged corpus regenerates the same pairs but must not
	// append their lines again.
	recorded, err := e.store.AuditKeys()
	if err != nil {
		return report, err
	}

	classifier := e.classifier
	dirty := map[*store.File]bool{}

	for start := 0; start < len(pairs); start += BatchSize {
		end := min(start+BatchSize, len(pairs))
		for _, pair := range pairs[start:end] {
			res, err := classifier.Classify(ctx, classify.Pair{Newer: pair.Newer, Older: pair.Older})
			if err != nil {
				if errors.Is(err, classify.ErrUnavailable) && opts.FallbackOnError && !report.RuleOnly {
					e.log.WithError(err).Warn("classifier unavailable, switching to rules for the rest of the run")
					classifier = e.rules
					report.RuleOnly = true
					res, err = classifier.Classify(ctx, classify.Pair{Newer: pair.Newer, Older: pair.Older})
				}
				if err != nil {
					return report, fmt.Errorf("classify %s/%s: %w", pair.Newer.ID, pair.Older.ID, err)
				}
			}
			if res.Cached {
				report.CacheHits++
			}

			if res.Confidence < opts.MinConfidence {
				report.Dropped++
				continue
			}

			switch {
			case res.Confidence >= AutoAcceptConfidence:
				// Apply directly.
			case res.Confidence >= ReviewConfidence:
				// Medium confidence never drives an edit unchecked: the rule
				// classifier re-derives the decision and its verdict is the
				// one applied.
				rres, rerr := e.rules.Classify(ctx, classify.Pair{Newer: pair.Newer, Older: pair.Older})
				if rerr != nil {
					return report, rerr
				}
				report.Rederived++
				res = rres
			default:
				key := pair.Newer.ID + "|" + pair.Older.ID
				if queued[key] {
					continue
				}
				queued[key] = true
				report.Queued++
				queue = append(queue, store.ReviewItem{
					QueuedAt:     now,
					Relationship: string(res.Relationship),
					Confidence:   res.Confidence,
					NewID:        pair.Newer.ID,
					OldID:        pair.Older.ID,
					Reasoning:    res.Reasoning,
				})
				continue
			}

			if err := e.apply(files, pair, res, now, opts.DryRun, dirty, recorded, &report); err != nil {
				return report, err
			}
		}

		if !opts.DryRun {
			if err := e.flush(dirty); err != nil {
				return report, err
			}
			if err := e.store.SaveCheckpoint(JobName, store.Checkpoint{LastRun: now}); err != nil {
				return report, err
			}
		}
		e.log.WithFields(logrus.Fields{
			"done":  end,
			"total": len(pairs),
		}).Debug("batch complete")
	}

	if !opts.DryRun {
		if report.Queued > 0 {
			if err := e.store.SaveReviewQueue(queue); err != nil {
				return report, err
			}
		}
		if err := e.store.SaveCheckpoint(JobName, store.Checkpoint{LastRun: now}); err != nil {
			return report, err
		}
	}
	return report, nil
}

// apply mutates the store for one accepted decision.
func (e *Engine) apply(files []*store.File, pair candidate.Pair, res classify.Result, now time.Time, dryRun bool, dirty map[*store.File]bool, recorded map[string]bool, report *Report) error {
	switch res.Relationship {
	case classify.Supersedes:
		oldFile, oldRec := store.FindRecord(files, pair.Older.ID)
		newFile, newRec := store.FindRecord(files, pair.Newer.ID)
		if oldRec == nil || newRec == nil {
			return fmt.Errorf("pair %s/%s references unknown record", pair.Newer.ID, pair.Older.ID)
		}
		if wouldCycle(files, newRec.ID, oldRec.ID) {
			e.log.WithFields(logrus.Fields{
				"new": newRec.ID,
				"old": oldRec.ID,
			}).Warn("refusing supersede edit that would create a cycle")
			return nil
		}

		changed := false
		if !oldRec.Historical() {
			oldRec.Status = model.StatusHistorical
			changed = true
		}
		if newRec.Supersedes != oldRec.ID {
			newRec.Supersedes = oldRec.ID
			changed = true
		}
		if !changed {
			// Reapplying to an already-settled pair is a no-op, which is what
			// makes interrupted runs safe to resume.
			return nil
		}
		report.Applied[classify.Supersedes]++
		report.Superseded++
		if dryRun {
			return nil
		}
		dirty[oldFile] = true
		dirty[newFile] = true
		entry := store.AuditEntry{
			Date:       now,
			Action:     string(classify.Supersedes),
			NewID:      newRec.ID,
			OldID:      oldRec.ID,
			Confidence: res.Confidence,
		}
		recorded[entry.Key()] = true
		return e.store.AppendAudit(entry)

	case classify.Refines, classify.Reinforces:
		entry := store.AuditEntry{
			Date:       now,
			Action:     string(res.Relationship),
			NewID:      pair.Newer.ID,
			OldID:      pair.Older.ID,
			Confidence: res.Confidence,
		}
		if recorded[entry.Key()] {
			// Logged on a prior run. These actions mutate no records, so the
			// log itself is what keeps the rerun a no-op.
			return nil
		}
		report.Applied[res.Relationship]++
		if dryRun {
			return nil
		}
		recorded[entry.Key()] = true
		return e.store.AppendAudit(entry)

	default:
		report.Applied[classify.Unrelated]++
		return nil
	}
}

// flush rewrites mutated files and clears the dirty set.
func (e *Engine) flush(dirty map[*store.File]bool) error {
	for f, d := range dirty {
		if !d {
			continue
		}
		if err := e.store.WriteFile(f); err != nil {
			return err
		}
		dirty[f] = false
	}
	return nil
}

// wouldCycle reports whether linking new.supersedes = old closes a loop in
// the supersedes chain.
func wouldCycle(files []*store.File, newID, oldID string) bool {
	seen := map[string]bool{}
	cur := oldID
	for cur != "" && !seen[cur] {
		if cur == newID {
			return true
		}
		seen[cur] = true
		_, rec := store.FindRecord(files, cur)
		if rec == nil {
			return false
		}
		cur = rec.Supersedes
	}
	return false
}
