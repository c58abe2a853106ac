package consolidate

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/store"
	"github.com/rcliao/memgov/internal/textutil"
)

// DailyReport summarizes a daily consolidation pass.
type DailyReport struct {
	Deduped int
	Expired int
	DryRun  bool
}

// statusRank orders statuses for duplicate tie-breaking.
func statusRank(status string) int {
	switch status {
	case model.StatusActive:
		return 3
	case model.StatusRefined:
		return 2
	case model.StatusHistorical:
		return 1
	default:
		return 0
	}
}

// Daily runs the daily consolidation pass over the store: exact-duplicate
// merging in the semantic layer and valid_until expiry across episodic and
// semantic layers.
func Daily(st *store.Store, now time.Time, dryRun bool, log *logrus.Logger) (DailyReport, error) {
	if log == nil {
		log = logrus.New()
	}
	report := DailyReport{DryRun: dryRun}

	files, warnings, err := st.LoadLayer(model.LayerSemantic)
	if err != nil {
		return report, err
	}
	for _, w := range warnings {
		log.WithField("file", w.File).Warn(w.Error())
	}
	for _, f := range files {
		removed := dedupeFile(f)
		if removed == 0 {
			continue
		}
		report.Deduped += removed
		if !dryRun {
			if err := st.WriteFile(f); err != nil {
				return report, err
			}
		}
	}

	expired, err := expireRecords(st, now, dryRun, log)
	if err != nil {
		return report, err
	}
	report.Expired = expired
	return report, nil
}

// dedupeFile merges records with identical normalized bodies, keeping the
// one with higher importance (status rank breaks ties) and inheriting the
// loser's supersedes link when the winner has none. Returns the number of
// records removed.
func dedupeFile(f *store.File) int {
	order := []string{}
	best := map[string]*model.Record{}
	removed := 0

	for _, r := range f.Records {
		key := textutil.Normalize(r.Body)
		existing, ok := best[key]
		if !ok {
			best[key] = r
			order = append(order, key)
			continue
		}
		removed++

		winner, loser := existing, r
		if r.Importance > existing.Importance {
			winner, loser = r, existing
		} else if r.Importance == existing.Importance && statusRank(r.Status) > statusRank(existing.Status) {
			winner, loser = r, existing
		}
		if winner.Supersedes == "" && loser.Supersedes != "" {
			winner.Supersedes = loser.Supersedes
		}
		best[key] = winner
	}
	if removed == 0 {
		return 0
	}

	merged := make([]*model.Record, 0, len(order))
	for _, key := range order {
		merged = append(merged, best[key])
	}
	f.Records = merged
	return removed
}

// expireRecords marks records whose valid_until date has passed as
// historical, across the episodic and semantic layers.
func expireRecords(st *store.Store, now time.Time, dryRun bool, log *logrus.Logger) (int, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	expired := 0

	for _, layer := range []string{model.LayerEpisodic, model.LayerSemantic} {
		files, warnings, err := st.LoadLayer(layer)
		if err != nil {
			return expired, err
		}
		for _, w := range warnings {
			log.WithField("file", w.File).Warn(w.Error())
		}
		for _, f := range files {
			modified := false
			for _, r := range f.Records {
				raw, ok := r.GetExtra("valid_until")
				if !ok || raw == "" || raw == "none" || r.Historical() {
					continue
				}
				until, err := time.Parse("2006-01-02", raw)
				if err != nil {
					continue
				}
				if until.Before(today) {
					r.Status = model.StatusHistorical
					expired++
					modified = true
				}
			}
			if modified && !dryRun {
				if err := st.WriteFile(f); err != nil {
					return expired, err
				}
			}
		}
	}
	return expired, nil
}
