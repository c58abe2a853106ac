// Package promote lifts recurring high-importance semantic records into the
// identity layer, routed to identity, preferences or decisions files by tag.
package promote

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/scorer"
	"github.com/rcliao/memgov/internal/store"
	"github.com/rcliao/memgov/internal/textutil"
)

// Defaults for a promotion run.
const (
	DefaultWindowDays    = 30
	DefaultMinImportance = 0.85
	DefaultMinRecurrence = 3
	DefaultMinDays       = 2
	DefaultMinAgeDays    = 5
	DefaultMaxGroups     = 400
)

var (
	preferenceTags = map[string]bool{"preference": true, "style": true, "workflow": true, "tooling": true}
	decisionTags   = map[string]bool{"decision": true, "architecture": true, "policy": true, "constraint": true}
)

// Config controls one promotion run.
type Config struct {
	WindowDays    int
	MinImportance float64
	MinRecurrence int
	MinDays       int
	MinAgeDays    int
	MaxGroups     int
	DryRun        bool
	Now           time.Time
}

func (c Config) withDefaults() Config {
	if c.WindowDays <= 0 {
		c.WindowDays = DefaultWindowDays
	}
	if c.MinImportance <= 0 {
		c.MinImportance = DefaultMinImportance
	}
	if c.MinRecurrence <= 0 {
		c.MinRecurrence = DefaultMinRecurrence
	}
	if c.MinDays <= 0 {
		c.MinDays = DefaultMinDays
	}
	if c.MinAgeDays <= 0 {
		c.MinAgeDays = DefaultMinAgeDays
	}
	if c.MaxGroups <= 0 {
		c.MaxGroups = DefaultMaxGroups
	}
	if c.Now.IsZero() {
		c.Now = time.Now().UTC()
	}
	return c
}

// Report counts promotions and the reasons groups were skipped.
type Report struct {
	PromotedIdentity    int
	PromotedPreferences int
	PromotedDecisions   int
	SkippedThreshold    int
	SkippedDuplicate    int
	SkippedDurability   int
	SkippedShape        int
	SkippedYoung        int
	SkippedExpired      int
	DryRun              bool
}

// Summary renders the one-line run summary.
func (r Report) Summary() string {
	return fmt.Sprintf("promoted_identity=%d promoted_preferences=%d promoted_decisions=%d skipped_threshold=%d skipped_duplicate=%d skipped_durability=%d skipped_shape=%d skipped_young=%d skipped_expired=%d dry_run=%t",
		r.PromotedIdentity, r.PromotedPreferences, r.PromotedDecisions,
		r.SkippedThreshold, r.SkippedDuplicate, r.SkippedDurability,
		r.SkippedShape, r.SkippedYoung, r.SkippedExpired, r.DryRun)
}

// targetNames in routing order.
const (
	targetIdentity    = "identity"
	targetPreferences = "preferences"
	targetDecisions   = "decisions"
)

// Run promotes qualifying semantic concept groups into the identity layer.
func Run(st *store.Store, cfg Config, log *logrus.Logger) (Report, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.New()
	}
	report := Report{DryRun: cfg.DryRun}

	groups, err := loadGroups(st, cfg, log)
	if err != nil {
		return report, err
	}

	targets, err := loadTargets(st)
	if err != nil {
		return report, err
	}
	existingKeys, existingOrigins := identitySignatures(targets)

	// Largest, most important groups first; the group budget bounds work.
	type group struct {
		key     string
		records []*model.Record
	}
	ordered := make([]group, 0, len(groups))
	for key, records := range groups {
		ordered = append(ordered, group{key, records})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if len(ordered[i].records) != len(ordered[j].records) {
			return len(ordered[i].records) > len(ordered[j].records)
		}
		return maxImportance(ordered[i].records) > maxImportance(ordered[j].records)
	})
	if len(ordered) > cfg.MaxGroups {
		ordered = ordered[:cfg.MaxGroups]
	}

	promoted := map[string]bool{}
	for _, g := range ordered {
		best := bestRecord(g.records)
		if len(g.records) < cfg.MinRecurrence || best.Importance < cfg.MinImportance {
			report.SkippedThreshold++
			continue
		}

		days := map[string]bool{}
		earliest := g.records[0].Time
		for _, r := range g.records {
			days[r.Time.UTC().Format("2006-01-02")] = true
			if r.Time.Before(earliest) {
				earliest = r.Time
			}
		}
		if len(days) < cfg.MinDays {
			report.SkippedShape++
			continue
		}
		if cfg.Now.Sub(earliest) < time.Duration(cfg.MinAgeDays)*24*time.Hour {
			report.SkippedYoung++
			continue
		}
		if expired(best, cfg.Now) {
			report.SkippedExpired++
			continue
		}

		durability := scorer.InferDurability(lowerTags(best.Tags), best.Body, best.Durability)
		if durability == model.DurabilityTransient {
			report.SkippedDurability++
			continue
		}

		origin := best.ID
		if o, ok := best.GetExtra("origin_id"); ok && strings.TrimSpace(o) != "" {
			origin = strings.TrimSpace(o)
		}
		if existingKeys[g.key] || existingOrigins[origin] {
			report.SkippedDuplicate++
			continue
		}

		name := routeTarget(best.Tags)
		promotedRec := &model.Record{
			ID:         model.NewID(),
			Time:       cfg.Now,
			Layer:      model.LayerIdentity,
			Importance: best.Importance,
			Confidence: best.Confidence,
			Status:     model.StatusActive,
			Source:     "job:weekly-identity-promote",
			Tags:       best.Tags,
			Durability: durability,
			Body:       best.Body,
		}
		promotedRec.SetExtra("origin_id", origin)
		promotedRec.SetExtra("recurrence", strconv.Itoa(len(g.records)))
		if scope, ok := best.GetExtra("scope"); ok {
			promotedRec.SetExtra("scope", scope)
		} else {
			promotedRec.SetExtra("scope", "project")
		}
		if vu, ok := best.GetExtra("valid_until"); ok {
			promotedRec.SetExtra("valid_until", vu)
		} else {
			promotedRec.SetExtra("valid_until", "none")
		}

		targets[name].Records = append(targets[name].Records, promotedRec)
		promoted[name] = true
		existingKeys[g.key] = true
		existingOrigins[origin] = true
		switch name {
		case targetPreferences:
			report.PromotedPreferences++
		case targetDecisions:
			report.PromotedDecisions++
		default:
			report.PromotedIdentity++
		}
	}

	if !cfg.DryRun {
		for name, f := range targets {
			if !promoted[name] {
				continue
			}
			if err := st.WriteFile(f); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// loadGroups groups recent semantic records by their concept body key.
func loadGroups(st *store.Store, cfg Config, log *logrus.Logger) (map[string][]*model.Record, error) {
	files, warnings, err := st.LoadLayer(model.LayerSemantic)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.WithField("file", w.File).Warn(w.Error())
	}

	cutoff := cfg.Now.AddDate(0, 0, -cfg.WindowDays)
	groups := map[string][]*model.Record{}
	for _, f := range files {
		for _, r := range f.Records {
			if r.Time.Before(cutoff) {
				continue
			}
			key := bodyKey(r.Body)
			if key == "" {
				continue
			}
			groups[key] = append(groups[key], r)
		}
	}
	return groups, nil
}

func loadTargets(st *store.Store) (map[string]*store.File, error) {
	base := st.LayerDir(model.LayerIdentity)
	out := map[string]*store.File{}
	for _, name := range []string{targetIdentity, targetPreferences, targetDecisions} {
		path := filepath.Join(base, name+".md")
		f, _, err := store.ParseFile(path)
		if err != nil {
			return nil, err
		}
		out[name] = f
	}
	return out, nil
}

func identitySignatures(targets map[string]*store.File) (keys, origins map[string]bool) {
	keys = map[string]bool{}
	origins = map[string]bool{}
	for _, f := range targets {
		for _, r := range f.Records {
			if k := bodyKey(r.Body); k != "" {
				keys[k] = true
			}
			if o, ok := r.GetExtra("origin_id"); ok && strings.TrimSpace(o) != "" {
				origins[strings.TrimSpace(o)] = true
			}
		}
	}
	return keys, origins
}

// bodyKey normalizes a record body into its dedupe key, dropping the
// provenance prefix extraction jobs prepend.
func bodyKey(body string) string {
	if strings.HasPrefix(body, "Derived from mem:") {
		if _, rest, ok := strings.Cut(body, "."); ok {
			body = strings.TrimSpace(rest)
		}
	}
	return textutil.Normalize(body)
}

func routeTarget(tags []string) string {
	for _, t := range tags {
		if preferenceTags[strings.ToLower(t)] {
			return targetPreferences
		}
	}
	for _, t := range tags {
		if decisionTags[strings.ToLower(t)] {
			return targetDecisions
		}
	}
	return targetIdentity
}

func bestRecord(records []*model.Record) *model.Record {
	best := records[0]
	for _, r := range records[1:] {
		if r.Importance > best.Importance ||
			(r.Importance == best.Importance && r.Time.After(best.Time)) {
			best = r
		}
	}
	return best
}

func maxImportance(records []*model.Record) float64 {
	m := 0.0
	for _, r := range records {
		if r.Importance > m {
			m = r.Importance
		}
	}
	return m
}

func expired(r *model.Record, now time.Time) bool {
	raw, ok := r.GetExtra("valid_until")
	if !ok {
		return false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return false
	}
	until, err := model.ParseTime(raw)
	if err != nil {
		return false
	}
	return until.Before(now)
}

func lowerTags(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ToLower(t)
	}
	return out
}
