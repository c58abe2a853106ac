package model

import (
	"errors"
	"testing"
	"time"
)

func validRecord() *Record {
	return &Record{
		ID:         "abc123",
		Time:       time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		Layer:      LayerSemantic,
		Importance: 0.8,
		Confidence: 0.7,
		Status:     StatusActive,
		Source:     "job:hourly-semantic-extract",
		Tags:       []string{"decision", "python"},
		Body:       "Migrated the project to Python 3.11.",
	}
}

func TestValidate(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing id", func(r *Record) { r.ID = "" }},
		{"missing time", func(r *Record) { r.Time = time.Time{} }},
		{"bad layer", func(r *Record) { r.Layer = "working" }},
		{"importance too high", func(r *Record) { r.Importance = 1.2 }},
		{"importance negative", func(r *Record) { r.Importance = -0.1 }},
		{"confidence too high", func(r *Record) { r.Confidence = 7 }},
		{"bad status", func(r *Record) { r.Status = "deleted" }},
		{"bad durability", func(r *Record) { r.Durability = "forever" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := validRecord()
			c.mutate(r)
			err := r.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var mre *MalformedRecordError
			if !errors.As(err, &mre) {
				t.Fatalf("expected MalformedRecordError, got %T", err)
			}
		})
	}
}

func TestValidateOptionalDurability(t *testing.T) {
	r := validRecord()
	r.Durability = ""
	if err := r.Validate(); err != nil {
		t.Fatalf("empty durability should be allowed: %v", err)
	}
	r.Durability = DurabilityFoundational
	if err := r.Validate(); err != nil {
		t.Fatalf("foundational durability rejected: %v", err)
	}
}

func TestExtraFields(t *testing.T) {
	r := validRecord()
	r.SetExtra("origin_id", "xyz")
	r.SetExtra("valid_until", "none")
	r.SetExtra("origin_id", "xyz2")

	if v, ok := r.GetExtra("origin_id"); !ok || v != "xyz2" {
		t.Errorf("expected origin_id=xyz2, got %q ok=%v", v, ok)
	}
	if len(r.Extra) != 2 {
		t.Errorf("expected 2 extra fields, got %d", len(r.Extra))
	}
}

func TestParseTime(t *testing.T) {
	cases := []string{
		"2024-03-01T14:00:00Z",
		"2024-03-01T14:00:00+00:00",
		"2024-03-01",
	}
	for _, c := range cases {
		ts, err := ParseTime(c)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", c, err)
			continue
		}
		if ts.Year() != 2024 || ts.Month() != 3 {
			t.Errorf("ParseTime(%q) = %v", c, ts)
		}
	}
	if _, err := ParseTime("next tuesday"); err == nil {
		t.Error("expected error for garbage time")
	}
}

func TestFormatTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	got, err := ParseTime(FormatTime(ts))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip %v != %v", got, ts)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == "" || a == b {
		t.Errorf("ids should be unique and non-empty: %q %q", a, b)
	}
}
