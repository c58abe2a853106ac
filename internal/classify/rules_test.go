package classify

import (
	"context"
	"testing"
	"time"

	"github.com/rcliao/memgov/internal/model"
)

func testRecord(id, body string, ts time.Time, tags ...string) *model.Record {
	return &model.Record{
		ID:         id,
		Time:       ts,
		Layer:      model.LayerSemantic,
		Importance: 0.8,
		Confidence: 0.7,
		Status:     model.StatusActive,
		Source:     "test",
		Tags:       tags,
		Body:       body,
	}
}

func testPair(newerBody, olderBody string) Pair {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	return Pair{
		Newer: testRecord("newer", newerBody, base.AddDate(0, 2, 0)),
		Older: testRecord("older", olderBody, base),
	}
}

func TestRuleClassifier(t *testing.T) {
	tests := []struct {
		name  string
		newer string
		older string
		want  Relationship
	}{
		{
			"version migration supersedes",
			"Migrated the project to Python 3.11. Python 3.9 is deprecated.",
			"Project uses Python 3.9 as the runtime.",
			Supersedes,
		},
		{
			"identical content reinforces",
			"Weekly standup meetings are held every Tuesday at 10 AM.",
			"Weekly standup meetings are held every Tuesday at 10 AM.",
			Reinforces,
		},
		{
			"detail without hints refines",
			"Weekly standup meetings are held every Tuesday at 10 AM in room 4.",
			"Weekly standup meetings are held every Tuesday at 10 AM.",
			Refines,
		},
		{
			"disjoint content unrelated",
			"Started learning guitar, practicing basic chords daily.",
			"Completed quarterly budget review for the engineering department.",
			Unrelated,
		},
	}

	c := NewRuleClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Classify(context.Background(), testPair(tt.newer, tt.older))
			if err != nil {
				t.Fatalf("rule classify should not fail: %v", err)
			}
			if res.Relationship != tt.want {
				t.Errorf("got %s (conf %.2f), want %s", res.Relationship, res.Confidence, tt.want)
			}
			if res.Confidence < 0 || res.Confidence > 1 {
				t.Errorf("confidence %f out of range", res.Confidence)
			}
			if res.Reasoning == "" {
				t.Error("expected reasoning")
			}
		})
	}
}

func TestRuleClassifierLowOverlapContradiction(t *testing.T) {
	// Contradictions share few tokens; hint words must still catch them.
	res, _ := NewRuleClassifier().Classify(context.Background(), testPair(
		"Switched to Thursday afternoons.",
		"Standups happen on Tuesday mornings at ten.",
	))
	if res.Relationship == Supersedes {
		return
	}
	// With zero token overlap the pair legitimately falls through.
	if res.Relationship != Unrelated {
		t.Errorf("unexpected relationship %s", res.Relationship)
	}
}

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]Relationship{
		"supersedes": Supersedes,
		" REFINES ":  Refines,
		"reinforces": Reinforces,
		"CONTRADICTS": Unrelated,
		"":            Unrelated,
	}
	for in, want := range cases {
		if got := NormalizeLabel(in); got != want {
			t.Errorf("NormalizeLabel(%q) = %s, want %s", in, got, want)
		}
	}
}
