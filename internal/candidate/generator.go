// Package candidate narrows the O(n²) record pair space down to a bounded,
// high-recall candidate set using temporal windows, tag and domain overlap, a
// pluggable semantic prefilter, and per-tag-combination diversity caps.
package candidate

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/memgov/internal/index"
	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/textutil"
)

// Defaults for candidate generation.
const (
	DefaultWindowDays      = 7
	DefaultOlderWindowDays = 30
	DefaultMaxCandidates   = 400

	searchLimit = 50
)

// Config controls the candidate pipeline.
type Config struct {
	WindowDays          int
	OlderWindowDays     int
	SimilarityThreshold float64
	MaxCandidates       int
	SlidingWindow       bool
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.WindowDays <= 0 {
		c.WindowDays = DefaultWindowDays
	}
	if c.OlderWindowDays <= 0 {
		c.OlderWindowDays = DefaultOlderWindowDays
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	return c
}

// Searcher is the semantic similarity backend of the prefilter. A nil
// Searcher, or one returning no matches, degrades the prefilter to lexical
// token overlap.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]index.Match, error)
}

// Pair is one candidate pair, Newer postdating Older, with its prefilter
// score and the reasons it survived filtering.
type Pair struct {
	Newer   *model.Record
	Older   *model.Record
	Score   float64
	Reasons []string
}

// Key returns the order-independent identity of the pair.
func (p Pair) Key() string {
	ids := []string{p.Newer.ID, p.Older.ID}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

// Generator runs the candidate pipeline.
type Generator struct {
	cfg      Config
	searcher Searcher
	log      *logrus.Logger
}

// New creates a generator. searcher may be nil.
func New(cfg Config, searcher Searcher, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.New()
	}
	return &Generator{cfg: cfg.withDefaults(), searcher: searcher, log: log}
}

// Generate produces candidate pairs from the record set, sorted by prefilter
// score descending and truncated to MaxCandidates. Historical records never
// pair. A zero reference time is derived from the records themselves so
// historical corpora can be analyzed offline.
func (g *Generator) Generate(ctx context.Context, records []*model.Record, reference time.Time) ([]Pair, error) {
	active := make([]*model.Record, 0, len(records))
	for _, r := range records {
		if !r.Historical() && !r.Time.IsZero() {
			active = append(active, r)
		}
	}
	if reference.IsZero() {
		reference = referenceTime(active)
	}

	n := len(active)
	recent, older := g.temporalWindow(active, reference)
	scored := g.overlapFilter(recent, older)
	pairs := g.semanticPrefilter(ctx, scored)
	pairs = g.diversityCap(pairs)

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Score > pairs[j].Score })
	if len(pairs) > g.cfg.MaxCandidates {
		pairs = pairs[:g.cfg.MaxCandidates]
	}

	g.log.WithFields(logrus.Fields{
		"records":    n,
		"full_pairs": n * (n - 1) / 2,
		"candidates": len(pairs),
	}).Debug("candidate generation complete")
	return pairs, nil
}

// referenceTime picks "now" for temporal filtering. When the newest record is
// more than 30 days old the corpus is historical and the day after its newest
// record is used instead of the wall clock.
func referenceTime(records []*model.Record) time.Time {
	now := time.Now().UTC()
	if len(records) == 0 {
		return now
	}
	newest := records[0].Time
	for _, r := range records[1:] {
		if r.Time.After(newest) {
			newest = r.Time
		}
	}
	if now.Sub(newest) > 30*24*time.Hour || newest.After(now.Add(24*time.Hour)) {
		return newest.Add(24 * time.Hour)
	}
	return now
}

// temporalWindow splits records into the recent window and the older
// lookback. Sliding mode returns the full set on both sides; overlapFilter
// then orders each pair by time.
func (g *Generator) temporalWindow(records []*model.Record, reference time.Time) (recent, older []*model.Record) {
	if g.cfg.SlidingWindow {
		return records, records
	}
	recentCutoff := reference.AddDate(0, 0, -g.cfg.WindowDays)
	olderCutoff := reference.AddDate(0, 0, -g.cfg.OlderWindowDays)
	for _, r := range records {
		switch {
		case !r.Time.Before(recentCutoff):
			recent = append(recent, r)
		case !r.Time.Before(olderCutoff):
			older = append(older, r)
		}
	}
	return recent, older
}

type scoredPair struct {
	newer    *model.Record
	older    *model.Record
	tagScore float64
}

// newerThan orders records by time, breaking equal timestamps by id so a
// same-instant pair still generates exactly once.
func newerThan(a, b *model.Record) bool {
	if a.Time.Equal(b.Time) {
		return a.ID > b.ID
	}
	return a.Time.After(b.Time)
}

// overlapFilter keeps pairs that share at least one explicit tag or one
// detected domain. Tag overlap scores 0.5 + 0.5·|shared|/|union|; domain-only
// overlap scores 0.3 · shared fraction.
func (g *Generator) overlapFilter(recent, older []*model.Record) []scoredPair {
	sliding := g.cfg.SlidingWindow

	tagIndex := map[string][]*model.Record{}
	domainIndex := map[string][]*model.Record{}
	domainsByID := map[string]map[string]struct{}{}
	for _, r := range older {
		for tag := range r.TagSet() {
			tagIndex[tag] = append(tagIndex[tag], r)
		}
		domains := detectDomains(r.Body, r.Tags)
		domainsByID[r.ID] = domains
		for d := range domains {
			domainIndex[d] = append(domainIndex[d], r)
		}
	}

	var pairs []scoredPair
	for _, newer := range recent {
		newerTags := newer.TagSet()
		newerDomains := domainsByID[newer.ID]
		if newerDomains == nil {
			newerDomains = detectDomains(newer.Body, newer.Tags)
		}

		type hit struct {
			rec     *model.Record
			tags    map[string]struct{}
			domains map[string]struct{}
		}
		hits := map[string]*hit{}
		record := func(other *model.Record) *hit {
			h, ok := hits[other.ID]
			if !ok {
				h = &hit{rec: other, tags: map[string]struct{}{}, domains: map[string]struct{}{}}
				hits[other.ID] = h
			}
			return h
		}

		for tag := range newerTags {
			for _, other := range tagIndex[tag] {
				if other.ID == newer.ID || (sliding && !newerThan(newer, other)) {
					continue
				}
				record(other).tags[tag] = struct{}{}
			}
		}
		for d := range newerDomains {
			for _, other := range domainIndex[d] {
				if other.ID == newer.ID || (sliding && !newerThan(newer, other)) {
					continue
				}
				record(other).domains[d] = struct{}{}
			}
		}

		for _, h := range hits {
			var score float64
			if len(h.tags) > 0 {
				union := len(newerTags)
				otherTags := h.rec.TagSet()
				for t := range otherTags {
					if _, ok := newerTags[t]; !ok {
						union++
					}
				}
				if union == 0 {
					union = 1
				}
				score = 0.5 + 0.5*float64(len(h.tags))/float64(union)
			} else if len(h.domains) > 0 {
				union := len(newerDomains)
				for d := range domainsByID[h.rec.ID] {
					if _, ok := newerDomains[d]; !ok {
						union++
					}
				}
				if union == 0 {
					union = 1
				}
				score = 0.3 * float64(len(h.domains)) / float64(union)
			}
			if score > 0 {
				pairs = append(pairs, scoredPair{newer: newer, older: h.rec, tagScore: score})
			}
		}
	}
	return pairs
}

// semanticPrefilter scores pairs with the semantic backend when a threshold
// is set. At threshold 0 the filter is advisory: the tag score alone carries
// through at weight 0.3.
func (g *Generator) semanticPrefilter(ctx context.Context, scored []scoredPair) []Pair {
	var out []Pair

	if g.cfg.SimilarityThreshold <= 0 {
		for _, sp := range scored {
			out = append(out, Pair{
				Newer:   sp.newer,
				Older:   sp.older,
				Score:   0.3 * sp.tagScore,
				Reasons: []string{tagReason(sp.tagScore), "no_semantic_filter"},
			})
		}
		return out
	}

	// One backend query per distinct newer record.
	byNewer := map[string][]scoredPair{}
	for _, sp := range scored {
		byNewer[sp.newer.ID] = append(byNewer[sp.newer.ID], sp)
	}

	for _, group := range byNewer {
		newer := group[0].newer
		matches := g.search(ctx, newer.Body)
		lexicalFallback := len(matches) == 0

		for _, sp := range group {
			var sim float64
			if lexicalFallback {
				sim = textutil.Similarity(sp.newer.Body, sp.older.Body)
			} else {
				sim = matches[sp.older.ID]
			}
			if sim < g.cfg.SimilarityThreshold {
				continue
			}
			reasons := []string{semanticReason(sim), tagReason(sp.tagScore)}
			if lexicalFallback {
				reasons = append(reasons, "lexical_fallback")
			}
			out = append(out, Pair{
				Newer:   sp.newer,
				Older:   sp.older,
				Score:   0.7*sim + 0.3*sp.tagScore,
				Reasons: reasons,
			})
		}
	}
	return out
}

func (g *Generator) search(ctx context.Context, body string) map[string]float64 {
	if g.searcher == nil {
		return nil
	}
	matches, err := g.searcher.Search(ctx, body, searchLimit)
	if err != nil {
		g.log.WithError(err).Warn("semantic backend failed, using lexical fallback")
		return nil
	}
	out := make(map[string]float64, len(matches))
	for _, m := range matches {
		out[m.ID] = m.Score
	}
	return out
}

// diversityCap bounds the number of pairs per shared-tag combination, so one
// heavily tagged cluster cannot spend the whole candidate budget. Applied
// only when the budget is exceeded.
func (g *Generator) diversityCap(pairs []Pair) []Pair {
	if len(pairs) <= g.cfg.MaxCandidates {
		return pairs
	}

	byCombo := map[string][]Pair{}
	for _, p := range pairs {
		byCombo[sharedTagKey(p)] = append(byCombo[sharedTagKey(p)], p)
	}
	maxPerCombo := g.cfg.MaxCandidates / len(byCombo)
	if maxPerCombo < 3 {
		maxPerCombo = 3
	}

	taken := map[string]bool{}
	var selected []Pair
	for _, group := range byCombo {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Score > group[j].Score })
		for _, p := range group[:min(maxPerCombo, len(group))] {
			selected = append(selected, p)
			taken[p.Key()] = true
		}
	}

	if len(selected) < g.cfg.MaxCandidates {
		var rest []Pair
		for _, p := range pairs {
			if !taken[p.Key()] {
				rest = append(rest, p)
			}
		}
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].Score > rest[j].Score })
		need := g.cfg.MaxCandidates - len(selected)
		selected = append(selected, rest[:min(need, len(rest))]...)
	}
	return selected
}

func sharedTagKey(p Pair) string {
	newerTags := p.Newer.TagSet()
	var shared []string
	for t := range p.Older.TagSet() {
		if _, ok := newerTags[t]; ok {
			shared = append(shared, t)
		}
	}
	if len(shared) == 0 {
		return "none"
	}
	sort.Strings(shared)
	return strings.Join(shared, "|")
}

func tagReason(score float64) string {
	return "tag_overlap:" + formatScore(score)
}

func semanticReason(score float64) string {
	return "semantic_similarity:" + formatScore(score)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// RecallStats reports how many known related pairs survive candidate
// generation.
type RecallStats struct {
	TotalKnown  int
	Found       int
	Missed      int
	Recall      float64
	MissedPairs [][2]string
}

// CheckRecall verifies that known related id pairs appear among the
// candidates, irrespective of pair order.
func CheckRecall(pairs []Pair, known [][2]string) RecallStats {
	have := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		have[p.Key()] = true
	}

	stats := RecallStats{TotalKnown: len(known)}
	for _, k := range known {
		ids := []string{k[0], k[1]}
		sort.Strings(ids)
		if have[ids[0]+"|"+ids[1]] {
			stats.Found++
		} else {
			stats.Missed++
			stats.MissedPairs = append(stats.MissedPairs, k)
		}
	}
	if stats.TotalKnown > 0 {
		stats.Recall = float64(stats.Found) / float64(stats.TotalKnown)
	}
	return stats
}
