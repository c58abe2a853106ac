// Package scorer recomputes record importance from five weighted signals,
// smoothing against the previous score and applying the durability-aware
// recency decay.
package scorer

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/store"
	"github.com/rcliao/memgov/internal/textutil"
)

// Signal weights; together they sum to 1.
const (
	weightGoal       = 0.35
	weightRecurrence = 0.20
	weightFuture     = 0.20
	weightPreference = 0.15
	weightNovelty    = 0.10

	// historicalScale always ranks historical records below live ones.
	historicalScale = 0.65
)

// Defaults for a scoring run.
const (
	DefaultWindowDays   = 30
	DefaultHalfLifeDays = 30
	DefaultAlpha        = 0.30
	DefaultMaxUpdates   = 400

	// JobName keys the scoring checkpoint.
	JobName = "importance-score"
)

// Tag groups driving the individual signals.
var (
	preferenceTags = tagSet("preference", "style", "workflow", "tooling")
	projectTags    = tagSet("project", "memgov", "memory", "architecture", "decision", "policy", "constraint")
	utilityTags    = tagSet("architecture", "policy", "constraint", "workflow", "decision", "preference", "process")
)

func tagSet(tags ...string) map[string]bool {
	out := make(map[string]bool, len(tags))
	for _, t := range tags {
		out[t] = true
	}
	return out
}

// Config controls one scoring run.
type Config struct {
	WindowDays   int
	HalfLifeDays int
	Alpha        float64
	MaxUpdates   int
	DryRun       bool
	Now          time.Time
}

func (c Config) withDefaults() Config {
	if c.WindowDays <= 0 {
		c.WindowDays = DefaultWindowDays
	}
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = DefaultHalfLifeDays
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	if c.MaxUpdates <= 0 {
		c.MaxUpdates = DefaultMaxUpdates
	}
	if c.Now.IsZero() {
		c.Now = time.Now().UTC()
	}
	return c
}

// Report summarizes a scoring run.
type Report struct {
	Candidates int
	Updated    int
	Deferred   int
	DryRun     bool
}

// Summary renders the one-line run summary.
func (r Report) Summary() string {
	return fmt.Sprintf("candidates=%d updated=%d deferred=%d dry_run=%t",
		r.Candidates, r.Updated, r.Deferred, r.DryRun)
}

// Signals is the per-record signal breakdown persisted alongside the score.
type Signals struct {
	Goal       float64
	Recurrence float64
	Future     float64
	Preference float64
	Novelty    float64
	Raw        float64
	Decay      float64
	Target     float64
}

type scoreTarget struct {
	file *store.File
	rec  *model.Record
}

// Run rescores records in the recent window across the episodic and semantic
// layers. Work per run is bounded by MaxUpdates; overflow candidates are
// deferred to the next run in oldest-scored-first order, never dropped.
func Run(st *store.Store, aliases Aliases, cfg Config, log *logrus.Logger) (Report, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.New()
	}
	report := Report{DryRun: cfg.DryRun}

	files, warnings, err := loadWindow(st, cfg)
	if err != nil {
		return report, err
	}
	for _, w := range warnings {
		log.WithField("file", w.File).Warn(w.Error())
	}

	// Recurrence and first-seen are computed over the whole window so a
	// concept repeated across files scores as one concept.
	counts := map[string]int{}
	firstSeen := map[string]time.Time{}
	var all []scoreTarget
	for _, f := range files {
		for _, r := range f.Records {
			key := ConceptKey(r, aliases)
			if key == "" {
				continue
			}
			counts[key]++
			if first, ok := firstSeen[key]; !ok || r.Time.Before(first) {
				firstSeen[key] = r.Time
			}
			all = append(all, scoreTarget{file: f, rec: r})
		}
	}

	var due []scoreTarget
	for _, t := range all {
		if shouldRescore(t.rec, cfg.Now) {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		li, lj := lastScoredAt(due[i].rec), lastScoredAt(due[j].rec)
		if !li.Equal(lj) {
			return li.Before(lj)
		}
		return due[i].rec.Time.Before(due[j].rec.Time)
	})
	report.Candidates = len(due)
	if len(due) > cfg.MaxUpdates {
		report.Deferred = len(due) - cfg.MaxUpdates
		due = due[:cfg.MaxUpdates]
	}

	dirty := map[*store.File]bool{}
	for _, t := range due {
		score, signals, tags, scope, durability := computeScore(t.rec, counts, firstSeen, aliases, cfg)
		t.rec.Importance = score
		t.rec.Tags = tags
		t.rec.Durability = durability
		t.rec.SetExtra("scope", scope)
		t.rec.SetExtra("last_scored_at", model.FormatTime(cfg.Now))
		if _, ok := t.rec.GetExtra("valid_until"); !ok {
			t.rec.SetExtra("valid_until", "none")
		}
		t.rec.SetExtra("score_goal", fmt.Sprintf("%.4f", signals.Goal))
		t.rec.SetExtra("score_recurrence", fmt.Sprintf("%.4f", signals.Recurrence))
		t.rec.SetExtra("score_future", fmt.Sprintf("%.4f", signals.Future))
		t.rec.SetExtra("score_preference", fmt.Sprintf("%.4f", signals.Preference))
		t.rec.SetExtra("score_novelty", fmt.Sprintf("%.4f", signals.Novelty))
		dirty[t.file] = true
		report.Updated++
	}

	if !cfg.DryRun {
		for f := range dirty {
			if err := st.WriteFile(f); err != nil {
				return report, err
			}
		}
		if err := st.SaveCheckpoint(JobName, store.Checkpoint{LastRun: cfg.Now}); err != nil {
			return report, err
		}
	}
	return report, nil
}

// loadWindow loads episodic files within the window by filename date and
// semantic files by month stem. Files with unparseable names always load.
func loadWindow(st *store.Store, cfg Config) ([]*store.File, []*model.MalformedRecordError, error) {
	cutoff := cfg.Now.AddDate(0, 0, -cfg.WindowDays)

	var out []*store.File
	var warnings []*model.MalformedRecordError

	episodic, warns, err := st.LoadLayer(model.LayerEpisodic)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, warns...)
	for _, f := range episodic {
		if day, ok := parseFileStamp(f.Path, "2006-01-02"); ok && day.Before(cutoff.Truncate(24*time.Hour)) {
			continue
		}
		out = append(out, f)
	}

	semantic, warns, err := st.LoadLayer(model.LayerSemantic)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, warns...)
	cutoffMonth := time.Date(cutoff.Year(), cutoff.Month(), 1, 0, 0, 0, 0, time.UTC)
	for _, f := range semantic {
		if month, ok := parseFileStamp(f.Path, "2006-01"); ok && month.Before(cutoffMonth) {
			continue
		}
		out = append(out, f)
	}
	return out, warnings, nil
}

func parseFileStamp(path, layout string) (time.Time, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ts, err := time.Parse(layout, stem)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ConceptKey identifies the concept a record expresses: its canonicalized
// body joined with its canonicalized tags.
func ConceptKey(r *model.Record, aliases Aliases) string {
	body := aliases.CanonicalizeText(r.Body)
	tags := aliases.CanonicalizeTags(r.Tags)
	if len(tags) == 0 {
		return body
	}
	return body + " :: " + strings.Join(tags, " ")
}

// InferScope classifies a record as personal, project or global when no
// explicit scope is present.
func InferScope(tags []string, body, existing string) string {
	switch existing {
	case "project", "global", "personal":
		return existing
	}
	bodyLower := strings.ToLower(body)
	if anyTag(tags, preferenceTags) || strings.Contains(bodyLower, "prefer") {
		return "personal"
	}
	if anyTag(tags, projectTags) || strings.Contains(bodyLower, "memgov") {
		return "project"
	}
	return "global"
}

// InferDurability assigns a durability class when the record carries none.
func InferDurability(tags []string, body, existing string) string {
	if model.ValidDurabilities[existing] {
		return existing
	}
	bodyLower := strings.ToLower(body)
	if anyTag(tags, tagSet("identity", "principle", "foundational")) || strings.Contains(bodyLower, "core identity") {
		return model.DurabilityFoundational
	}
	if anyTag(tags, utilityTags) || anyTag(tags, projectTags) {
		return model.DurabilityProjectStable
	}
	return model.DurabilityTransient
}

func anyTag(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

func computeScore(r *model.Record, counts map[string]int, firstSeen map[string]time.Time, aliases Aliases, cfg Config) (float64, Signals, []string, string, string) {
	tags := aliases.CanonicalizeTags(r.Tags)
	key := ConceptKey(r, aliases)
	recurrenceCount := counts[key]
	if recurrenceCount < 1 {
		recurrenceCount = 1
	}
	first, ok := firstSeen[key]
	if !ok {
		first = cfg.Now
	}
	bodyLower := strings.ToLower(r.Body)

	var s Signals
	s.Goal = 0.45
	if anyTag(tags, projectTags) || strings.Contains(bodyLower, "memgov") {
		s.Goal = 0.78
	}
	s.Recurrence = textutil.Clamp(float64(recurrenceCount-1) / 4.0)
	s.Future = 0.45
	if anyTag(tags, utilityTags) {
		s.Future = 0.8
	}
	s.Preference = 0.2
	if anyTag(tags, preferenceTags) || strings.Contains(bodyLower, "prefer") {
		s.Preference = 0.85
	}
	if recurrenceCount <= 1 {
		s.Novelty = 0.95
	} else {
		s.Novelty = 1.0 - float64(recurrenceCount-1)/6.0
		if s.Novelty < 0.15 {
			s.Novelty = 0.15
		}
	}

	s.Raw = weightGoal*s.Goal +
		weightRecurrence*s.Recurrence +
		weightFuture*s.Future +
		weightPreference*s.Preference +
		weightNovelty*s.Novelty

	scope := InferScope(tags, r.Body, existingScope(r))
	durability := InferDurability(tags, r.Body, r.Durability)

	ageDays := cfg.Now.Sub(first).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	halfLife := float64(cfg.HalfLifeDays)
	switch durability {
	case model.DurabilityFoundational:
		s.Decay = 1.0
	case model.DurabilityProjectStable:
		s.Decay = math.Pow(0.5, ageDays/(halfLife*2))
	default:
		s.Decay = math.Pow(0.5, ageDays/halfLife)
	}

	s.Target = textutil.Clamp(s.Raw * s.Decay)
	score := textutil.Clamp((1-cfg.Alpha)*r.Importance + cfg.Alpha*s.Target)
	if r.Historical() {
		score = textutil.Clamp(score * historicalScale)
	}
	return score, s, tags, scope, durability
}

// rescoreInterval returns how long a record's score stays fresh.
func rescoreInterval(durability string) time.Duration {
	days := 2
	switch durability {
	case model.DurabilityTransient:
		days = 1
	case model.DurabilityProjectStable:
		days = 3
	case model.DurabilityFoundational:
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

func shouldRescore(r *model.Record, now time.Time) bool {
	last := lastScoredAt(r)
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= rescoreInterval(r.Durability)
}

func lastScoredAt(r *model.Record) time.Time {
	raw, ok := r.GetExtra("last_scored_at")
	if !ok {
		return time.Time{}
	}
	ts, err := model.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func existingScope(r *model.Record) string {
	scope, _ := r.GetExtra("scope")
	return strings.ToLower(strings.TrimSpace(scope))
}
