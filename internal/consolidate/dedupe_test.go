package consolidate

import (
	"path/filepath"
	"testing"

	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/store"
)

func TestDailyDedupeKeepsHigherImportance(t *testing.T) {
	low := semRecord("low1", "Prefers dark mode in every tool.", 10, "preferences")
	low.Importance = 0.4
	low.Supersedes = "ancient"
	high := semRecord("high1", "Prefers dark mode in every tool!", 5, "preferences")
	high.Importance = 0.9

	st, _ := newWorkspace(t, low, high)
	report, err := Daily(st, engineNow, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deduped != 1 {
		t.Fatalf("deduped = %d, want 1", report.Deduped)
	}

	files, _, err := st.LoadLayer(model.LayerSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(files[0].Records) != 1 {
		t.Fatalf("records = %d, want 1", len(files[0].Records))
	}
	kept := files[0].Records[0]
	if kept.ID != "high1" {
		t.Errorf("kept %s, want high1", kept.ID)
	}
	// The losing duplicate's supersedes link is inherited.
	if kept.Supersedes != "ancient" {
		t.Errorf("supersedes = %q, want ancient", kept.Supersedes)
	}
}

func TestDailyDedupeStatusBreaksTies(t *testing.T) {
	refined := semRecord("ref1", "Coffee before standup.", 10, "routine")
	refined.Status = model.StatusRefined
	active := semRecord("act1", "Coffee before standup.", 5, "routine")

	st, _ := newWorkspace(t, refined, active)
	if _, err := Daily(st, engineNow, false, nil); err != nil {
		t.Fatal(err)
	}
	files, _, _ := st.LoadLayer(model.LayerSemantic)
	if files[0].Records[0].ID != "act1" {
		t.Errorf("kept %s, want the active record", files[0].Records[0].ID)
	}
}

func TestDailyDryRunReportsWithoutWriting(t *testing.T) {
	a := semRecord("a1", "Same body.", 10, "x")
	b := semRecord("b1", "Same body.", 5, "x")
	st, _ := newWorkspace(t, a, b)

	report, err := Daily(st, engineNow, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deduped != 1 {
		t.Errorf("deduped = %d, want 1", report.Deduped)
	}
	files, _, _ := st.LoadLayer(model.LayerSemantic)
	if len(files[0].Records) != 2 {
		t.Errorf("dry run removed records: %d left", len(files[0].Records))
	}
}

func TestDailyExpiresPastValidUntil(t *testing.T) {
	expired := semRecord("exp1", "Temporary build workaround.", 10, "build")
	expired.SetExtra("valid_until", "2024-03-01")
	current := semRecord("cur1", "Release branch policy.", 10, "process")
	current.SetExtra("valid_until", "2024-12-31")
	unbounded := semRecord("unb1", "Timezone is UTC everywhere.", 10, "process")

	st, _ := newWorkspace(t, expired, current, unbounded)

	// An episodic record expires too.
	ep := semRecord("epi1", "Tried the beta build.", 3, "build")
	ep.Layer = model.LayerEpisodic
	ep.SetExtra("valid_until", "2024-02-01")
	epFile := &store.File{
		Path:    filepath.Join(st.LayerDir(model.LayerEpisodic), "2024-03-12.md"),
		Records: []*model.Record{ep},
	}
	if err := st.WriteFile(epFile); err != nil {
		t.Fatal(err)
	}

	report, err := Daily(st, engineNow, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Expired != 2 {
		t.Fatalf("expired = %d, want 2", report.Expired)
	}

	sem, _, _ := st.LoadLayer(model.LayerSemantic)
	_, expRec := store.FindRecord(sem, "exp1")
	_, curRec := store.FindRecord(sem, "cur1")
	_, unbRec := store.FindRecord(sem, "unb1")
	if !expRec.Historical() {
		t.Error("past valid_until not expired")
	}
	if curRec.Historical() || unbRec.Historical() {
		t.Error("unexpired record marked historical")
	}
	// valid_until survives the rewrite verbatim.
	if v, _ := expRec.GetExtra("valid_until"); v != "2024-03-01" {
		t.Errorf("valid_until = %q after rewrite", v)
	}

	epi, _, _ := st.LoadLayer(model.LayerEpisodic)
	_, epRec := store.FindRecord(epi, "epi1")
	if !epRec.Historical() {
		t.Error("episodic record with past valid_until not expired")
	}
}

func TestDailyExpiryIdempotent(t *testing.T) {
	expired := semRecord("exp1", "Temporary workaround.", 10, "build")
	expired.SetExtra("valid_until", "2024-03-01")
	st, _ := newWorkspace(t, expired)

	if _, err := Daily(st, engineNow, false, nil); err != nil {
		t.Fatal(err)
	}
	report, err := Daily(st, engineNow, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Expired != 0 {
		t.Errorf("second pass expired %d records", report.Expired)
	}
}
