package consolidate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/memgov/internal/candidate"
	"github.com/rcliao/memgov/internal/classify"
	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/store"
)

var engineNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// fixedClassifier returns a canned result per pair key, never errs.
type fixedClassifier struct {
	results map[string]classify.Result
}

func (f *fixedClassifier) Classify(_ context.Context, p classify.Pair) (classify.Result, error) {
	key := p.Newer.ID + "|" + p.Older.ID
	res, ok := f.results[key]
	if !ok {
		return classify.Result{Relationship: classify.Unrelated, Confidence: 0.9}, nil
	}
	return res, nil
}

// downClassifier always reports the service unavailable.
type downClassifier struct{}

func (downClassifier) Classify(context.Context, classify.Pair) (classify.Result, error) {
	return classify.Result{}, fmt.Errorf("%w: connection refused", classify.ErrUnavailable)
}

func newWorkspace(t *testing.T, records ...*model.Record) (*store.Store, []*store.File) {
	t.Helper()
	st := store.New(t.TempDir())
	if err := st.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	f := &store.File{
		Path:    filepath.Join(st.LayerDir(model.LayerSemantic), "notes.md"),
		Records: records,
	}
	if err := st.WriteFile(f); err != nil {
		t.Fatal(err)
	}
	return st, []*store.File{f}
}

func semRecord(id, body string, daysAgo int, tags ...string) *model.Record {
	return &model.Record{
		ID:         id,
		Time:       engineNow.AddDate(0, 0, -daysAgo),
		Layer:      model.LayerSemantic,
		Importance: 0.7,
		Confidence: 0.7,
		Status:     model.StatusActive,
		Source:     "extract",
		Tags:       tags,
		Body:       body,
	}
}

func pairOf(newer, older *model.Record) candidate.Pair {
	return candidate.Pair{Newer: newer, Older: older, Score: 0.5}
}

func TestRunAppliesSupersedeEndToEnd(t *testing.T) {
	older := semRecord("old1", "The project runs on Python 3.9.", 20, "python")
	newer := semRecord("new1", "Migrated to Python 3.11, the 3.9 runtime is deprecated.", 2, "python")
	st, files := newWorkspace(t, older, newer)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"new1|old1": {Relationship: classify.Supersedes, Confidence: 0.95, Reasoning: "migration"},
	}}
	engine := NewEngine(st, cls, nil)

	report, err := engine.Run(context.Background(), files, []candidate.Pair{pairOf(newer, older)}, Options{Now: engineNow})
	if err != nil {
		t.Fatal(err)
	}
	if report.Superseded != 1 {
		t.Fatalf("superseded = %d, want 1", report.Superseded)
	}

	// Re-read from disk: the mutation must have been persisted atomically.
	reloaded, _, err := st.LoadLayer(model.LayerSemantic)
	if err != nil {
		t.Fatal(err)
	}
	_, oldRec := store.FindRecord(reloaded, "old1")
	_, newRec := store.FindRecord(reloaded, "new1")
	if oldRec.Status != model.StatusHistorical {
		t.Errorf("old status = %s, want historical", oldRec.Status)
	}
	if newRec.Supersedes != "old1" {
		t.Errorf("new supersedes = %q, want old1", newRec.Supersedes)
	}

	lines, err := st.ReadAuditLines()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("audit lines = %d, want 1", len(lines))
	}
	want := "- 2024-03-15 SUPERSEDES new=mem:new1 old=mem:old1 conf=0.95"
	if lines[0] != want {
		t.Errorf("audit line = %q, want %q", lines[0], want)
	}

	cp, err := st.LoadCheckpoint(JobName)
	if err != nil {
		t.Fatal(err)
	}
	if !cp.LastRun.Equal(engineNow) {
		t.Errorf("checkpoint last_run = %v", cp.LastRun)
	}
}

func TestRunIdempotentAcrossRuns(t *testing.T) {
	older := semRecord("old1", "The project runs on Python 3.9.", 20, "python")
	newer := semRecord("new1", "Migrated to Python 3.11, the 3.9 runtime is deprecated.", 2, "python")
	st, files := newWorkspace(t, older, newer)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"new1|old1": {Relationship: classify.Supersedes, Confidence: 0.95},
	}}
	engine := NewEngine(st, cls, nil)
	gen := candidate.New(candidate.Config{}, nil, nil)

	run := func() int {
		t.Helper()
		reloaded, _, err := st.LoadLayer(model.LayerSemantic)
		if err != nil {
			t.Fatal(err)
		}
		var records []*model.Record
		for _, f := range reloaded {
			records = append(records, f.Records...)
		}
		pairs, err := gen.Generate(context.Background(), records, engineNow)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Run(context.Background(), reloaded, pairs, Options{Now: engineNow}); err != nil {
			t.Fatal(err)
		}
		lines, err := st.ReadAuditLines()
		if err != nil {
			t.Fatal(err)
		}
		return len(lines)
	}
	_ = files

	if got := run(); got != 1 {
		t.Fatalf("first run audit lines = %d, want 1", got)
	}
	// Superseded records are historical now, so the second run generates no
	// pairs and appends nothing.
	if got := run(); got != 1 {
		t.Errorf("second run audit lines = %d, want 1", got)
	}
}

func TestRunConfidenceTiers(t *testing.T) {
	// Bodies chosen so the rule classifier re-derives SUPERSEDES for them.
	tests := []struct {
		name       string
		confidence float64
		wantTier   string
	}{
		{"at auto accept", 0.85, "applied"},
		{"just below auto accept", 0.8499, "rederived"},
		{"at review floor", 0.6, "rederived"},
		{"just below review floor", 0.5999, "queued"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			older := semRecord("old1", "The project runs on Python 3.9.", 20, "python")
			newer := semRecord("new1", "Migrated to Python 3.11, the 3.9 runtime is deprecated.", 2, "python")
			st, files := newWorkspace(t, older, newer)

			cls := &fixedClassifier{results: map[string]classify.Result{
				"new1|old1": {Relationship: classify.Supersedes, Confidence: tt.confidence},
			}}
			engine := NewEngine(st, cls, nil)
			report, err := engine.Run(context.Background(), files, []candidate.Pair{pairOf(newer, older)}, Options{Now: engineNow})
			if err != nil {
				t.Fatal(err)
			}

			switch tt.wantTier {
			case "applied":
				if report.Superseded != 1 || report.Rederived != 0 || report.Queued != 0 {
					t.Errorf("report = %+v", report)
				}
			case "rederived":
				if report.Rederived != 1 {
					t.Errorf("report = %+v", report)
				}
				// The rule verdict for this pair is also SUPERSEDES, so the
				// edit still lands.
				if report.Superseded != 1 {
					t.Errorf("rederived decision not applied: %+v", report)
				}
			case "queued":
				if report.Queued != 1 || report.Superseded != 0 {
					t.Errorf("report = %+v", report)
				}
				items, err := st.LoadReviewQueue()
				if err != nil {
					t.Fatal(err)
				}
				if len(items) != 1 || items[0].NewID != "new1" || items[0].OldID != "old1" {
					t.Errorf("queue = %+v", items)
				}
				// Queued pairs receive no mutation.
				reloaded, _, _ := st.LoadLayer(model.LayerSemantic)
				_, oldRec := store.FindRecord(reloaded, "old1")
				if oldRec.Historical() {
					t.Error("queued pair mutated the store")
				}
			}
		})
	}
}

func TestRunMinConfidenceDrops(t *testing.T) {
	older := semRecord("old1", "The project runs on Python 3.9.", 20, "python")
	newer := semRecord("new1", "Migrated to Python 3.11.", 2, "python")
	st, files := newWorkspace(t, older, newer)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"new1|old1": {Relationship: classify.Supersedes, Confidence: 0.4},
	}}
	engine := NewEngine(st, cls, nil)
	report, err := engine.Run(context.Background(), files, []candidate.Pair{pairOf(newer, older)},
		Options{Now: engineNow, MinConfidence: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if report.Dropped != 1 || report.Queued != 0 {
		t.Errorf("report = %+v", report)
	}
	items, _ := st.LoadReviewQueue()
	if len(items) != 0 {
		t.Errorf("dropped result was queued: %+v", items)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	older := semRecord("old1", "The project runs on Python 3.9.", 20, "python")
	newer := semRecord("new1", "Migrated to Python 3.11, the 3.9 runtime is deprecated.", 2, "python")
	st, files := newWorkspace(t, older, newer)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"new1|old1": {Relationship: classify.Supersedes, Confidence: 0.95},
	}}
	engine := NewEngine(st, cls, nil)
	report, err := engine.Run(context.Background(), files, []candidate.Pair{pairOf(newer, older)},
		Options{Now: engineNow, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Superseded != 1 {
		t.Errorf("dry run must still report intended actions: %+v", report)
	}

	reloaded, _, err := st.LoadLayer(model.LayerSemantic)
	if err != nil {
		t.Fatal(err)
	}
	_, oldRec := store.FindRecord(reloaded, "old1")
	if oldRec.Historical() {
		t.Error("dry run mutated the store")
	}
	if lines, _ := st.ReadAuditLines(); len(lines) != 0 {
		t.Errorf("dry run appended audit lines: %v", lines)
	}
	if cp, _ := st.LoadCheckpoint(JobName); !cp.LastRun.IsZero() {
		t.Error("dry run wrote a checkpoint")
	}
}

func TestRunFallbackOnUnavailable(t *testing.T) {
	older := semRecord("old1", "The project runs on Python 3.9.", 20, "python")
	newer := semRecord("new1", "Migrated to Python 3.11, the 3.9 runtime is deprecated.", 2, "python")
	st, files := newWorkspace(t, older, newer)

	engine := NewEngine(st, downClassifier{}, nil)
	pairs := []candidate.Pair{pairOf(newer, older)}

	// Without fallback the run stops with the unavailability error.
	if _, err := engine.Run(context.Background(), files, pairs, Options{Now: engineNow}); err == nil {
		t.Fatal("expected unavailability error")
	} else if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("unexpected error: %v", err)
	}

	// With fallback the rule classifier finishes the run.
	report, err := engine.Run(context.Background(), files, pairs, Options{Now: engineNow, FallbackOnError: true})
	if err != nil {
		t.Fatal(err)
	}
	if !report.RuleOnly {
		t.Error("fallback not recorded")
	}
}

func TestRunRefusesSupersedeCycle(t *testing.T) {
	a := semRecord("aaa", "Editor of choice is Vim.", 20, "editor")
	b := semRecord("bbb", "Editor of choice moved to Neovim.", 2, "editor")
	a.Supersedes = "bbb" // pre-existing back link
	st, files := newWorkspace(t, a, b)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"bbb|aaa": {Relationship: classify.Supersedes, Confidence: 0.95},
	}}
	engine := NewEngine(st, cls, nil)
	report, err := engine.Run(context.Background(), files, []candidate.Pair{pairOf(b, a)}, Options{Now: engineNow})
	if err != nil {
		t.Fatal(err)
	}
	if report.Superseded != 0 {
		t.Errorf("cycle-creating edit was applied: %+v", report)
	}
	if lines, _ := st.ReadAuditLines(); len(lines) != 0 {
		t.Errorf("refused edit left audit lines: %v", lines)
	}
}

func TestRunRefinesAuditOnly(t *testing.T) {
	older := semRecord("old1", "Standup is on Tuesday.", 20, "meetings")
	newer := semRecord("new1", "Standup is on Tuesday at 10 in room 4.", 2, "meetings")
	st, files := newWorkspace(t, older, newer)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"new1|old1": {Relationship: classify.Refines, Confidence: 0.9, Reasoning: "adds detail"},
	}}
	engine := NewEngine(st, cls, nil)
	if _, err := engine.Run(context.Background(), files, []candidate.Pair{pairOf(newer, older)}, Options{Now: engineNow}); err != nil {
		t.Fatal(err)
	}

	reloaded, _, _ := st.LoadLayer(model.LayerSemantic)
	_, oldRec := store.FindRecord(reloaded, "old1")
	if oldRec.Status != model.StatusActive {
		t.Errorf("REFINES changed status to %s", oldRec.Status)
	}
	lines, _ := st.ReadAuditLines()
	if len(lines) != 1 || !strings.Contains(lines[0], "REFINES") {
		t.Errorf("audit lines = %v", lines)
	}
}

func TestRunRefinesIdempotentAcrossRuns(t *testing.T) {
	// REFINES mutates no records, so the pair regenerates unchanged on every
	// run. The drift log must still gain its line exactly once.
	older := semRecord("old1", "Standup is on Tuesday.", 20, "meetings")
	newer := semRecord("new1", "Standup is on Tuesday at 10 in room 4.", 2, "meetings")
	st, files := newWorkspace(t, older, newer)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"new1|old1": {Relationship: classify.Refines, Confidence: 0.9},
	}}
	engine := NewEngine(st, cls, nil)
	pairs := []candidate.Pair{pairOf(newer, older)}

	first, err := engine.Run(context.Background(), files, pairs, Options{Now: engineNow})
	if err != nil {
		t.Fatal(err)
	}
	if first.Applied[classify.Refines] != 1 {
		t.Fatalf("first run report = %+v", first)
	}

	second, err := engine.Run(context.Background(), files, pairs, Options{Now: engineNow.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if second.Applied[classify.Refines] != 0 {
		t.Errorf("second run re-applied: %+v", second)
	}
	lines, err := st.ReadAuditLines()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Errorf("audit lines after second run = %d, want 1: %v", len(lines), lines)
	}
}

func TestRunTierDistribution(t *testing.T) {
	// 20 pairs routed by confidence: 3 auto-accepted at 0.95, 12 re-derived
	// in the middle band, 5 queued for review below it.
	var records []*model.Record
	var pairs []candidate.Pair
	results := map[string]classify.Result{}

	addPair := func(i int, newBody, oldBody string, res classify.Result) {
		newID := fmt.Sprintf("new%02d", i)
		oldID := fmt.Sprintf("old%02d", i)
		newer := semRecord(newID, newBody, 2, "work")
		older := semRecord(oldID, oldBody, 20, "work")
		records = append(records, newer, older)
		pairs = append(pairs, pairOf(newer, older))
		results[newID+"|"+oldID] = res
	}

	for i := 0; i < 3; i++ {
		addPair(i,
			fmt.Sprintf("Migrated service s%d to the new runtime, old one deprecated.", i),
			fmt.Sprintf("Service s%d runs on the old runtime.", i),
			classify.Result{Relationship: classify.Supersedes, Confidence: 0.95})
	}
	// Disjoint bodies so the rule re-derivation lands on UNRELATED and the
	// middle band stays mutation-free here.
	for i := 3; i < 15; i++ {
		addPair(i,
			fmt.Sprintf("Alpha beta gamma topic p%02d.", i),
			fmt.Sprintf("Delta epsilon zeta item q%02d.", i),
			classify.Result{Relationship: classify.Refines, Confidence: 0.7})
	}
	for i := 15; i < 20; i++ {
		addPair(i,
			fmt.Sprintf("Maybe related note p%02d.", i),
			fmt.Sprintf("Possibly connected item q%02d.", i),
			classify.Result{Relationship: classify.Supersedes, Confidence: 0.5})
	}

	st, files := newWorkspace(t, records...)
	engine := NewEngine(st, &fixedClassifier{results: results}, nil)
	report, err := engine.Run(context.Background(), files, pairs, Options{Now: engineNow})
	if err != nil {
		t.Fatal(err)
	}

	if report.Pairs != 20 {
		t.Fatalf("pairs = %d, want 20", report.Pairs)
	}
	if report.Superseded != 3 {
		t.Errorf("superseded = %d, want 3", report.Superseded)
	}
	if report.Rederived != 12 {
		t.Errorf("rederived = %d, want 12", report.Rederived)
	}
	if report.Queued != 5 {
		t.Errorf("queued = %d, want 5", report.Queued)
	}
	if report.Applied[classify.Unrelated] != 12 {
		t.Errorf("unrelated = %d, want 12", report.Applied[classify.Unrelated])
	}

	items, err := st.LoadReviewQueue()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 {
		t.Errorf("review queue = %d items, want 5", len(items))
	}
	if lines, _ := st.ReadAuditLines(); len(lines) != 3 {
		t.Errorf("audit lines = %d, want 3 (auto-accepted only)", len(lines))
	}
}

func TestRunQueueDeduplicatesAcrossRuns(t *testing.T) {
	older := semRecord("old1", "The project runs on Python 3.9.", 20, "python")
	newer := semRecord("new1", "Migrated to Python 3.11.", 2, "python")
	st, files := newWorkspace(t, older, newer)

	cls := &fixedClassifier{results: map[string]classify.Result{
		"new1|old1": {Relationship: classify.Supersedes, Confidence: 0.5},
	}}
	engine := NewEngine(st, cls, nil)
	pairs := []candidate.Pair{pairOf(newer, older)}

	if _, err := engine.Run(context.Background(), files, pairs, Options{Now: engineNow}); err != nil {
		t.Fatal(err)
	}
	second, err := engine.Run(context.Background(), files, pairs, Options{Now: engineNow.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if second.Queued != 0 {
		t.Errorf("second run re-queued: %+v", second)
	}

	items, err := st.LoadReviewQueue()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Errorf("review queue = %d items, want 1: %+v", len(items), items)
	}
}
