// Package model defines the memory record schema and its validation rules.
package model

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/memgov/internal/textutil"
)

// Layers of the store, from most to least durable.
const (
	LayerIdentity = "identity"
	LayerSemantic = "semantic"
	LayerEpisodic = "episodic"
)

// Record lifecycle statuses. Transitions are monotonic: active may become
// refined or historical; historical is terminal.
const (
	StatusActive     = "active"
	StatusRefined    = "refined"
	StatusHistorical = "historical"
)

// Durability classes controlling recency decay.
const (
	DurabilityTransient     = "transient"
	DurabilityProjectStable = "project-stable"
	DurabilityFoundational  = "foundational"
)

// ValidLayers are the allowed record layers.
var ValidLayers = map[string]bool{
	LayerIdentity: true,
	LayerSemantic: true,
	LayerEpisodic: true,
}

// ValidStatuses are the allowed record statuses.
var ValidStatuses = map[string]bool{
	StatusActive:     true,
	StatusRefined:    true,
	StatusHistorical: true,
}

// ValidDurabilities are the allowed durability classes.
var ValidDurabilities = map[string]bool{
	DurabilityTransient:     true,
	DurabilityProjectStable: true,
	DurabilityFoundational:  true,
}

// Field is a single metadata key/value pair. Unknown keys are carried here so
// a rewrite preserves them verbatim.
type Field struct {
	Key   string
	Value string
}

// Record is a single stored memory unit.
type Record struct {
	ID         string
	Time       time.Time
	Layer      string
	Importance float64
	Confidence float64
	Status     string
	Source     string
	Tags       []string
	Supersedes string // id of the superseded record, "" if none
	Durability string // optional
	Extra      []Field
	Body       string
}

// MalformedRecordError reports a record that violates the schema. Such
// records are skipped with a warning, never fatal to a run.
type MalformedRecordError struct {
	File   string
	ID     string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("malformed record %s in %s: %s", e.ID, e.File, e.Reason)
	}
	return fmt.Sprintf("malformed record %s: %s", e.ID, e.Reason)
}

// Validate checks required fields and numeric ranges.
func (r *Record) Validate() error {
	fail := func(reason string) error {
		return &MalformedRecordError{ID: r.ID, Reason: reason}
	}
	if r.ID == "" {
		return fail("missing id")
	}
	if r.Time.IsZero() {
		return fail("missing time")
	}
	if !ValidLayers[r.Layer] {
		return fail(fmt.Sprintf("invalid layer %q", r.Layer))
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fail(fmt.Sprintf("importance %g out of range [0,1]", r.Importance))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fail(fmt.Sprintf("confidence %g out of range [0,1]", r.Confidence))
	}
	if !ValidStatuses[r.Status] {
		return fail(fmt.Sprintf("invalid status %q", r.Status))
	}
	if r.Durability != "" && !ValidDurabilities[r.Durability] {
		return fail(fmt.Sprintf("invalid durability %q", r.Durability))
	}
	return nil
}

// TagSet returns the lowercased tag set of the record.
func (r *Record) TagSet() map[string]struct{} {
	out := make(map[string]struct{}, len(r.Tags))
	for _, t := range r.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

// TokenSet returns the word token set of the record body.
func (r *Record) TokenSet() map[string]struct{} {
	return textutil.TokenSet(r.Body)
}

// Historical reports whether the record has reached its terminal status.
func (r *Record) Historical() bool {
	return r.Status == StatusHistorical
}

// GetExtra returns the value of an unknown metadata key, if present.
func (r *Record) GetExtra(key string) (string, bool) {
	for _, f := range r.Extra {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// SetExtra sets an unknown metadata key, replacing an existing value.
func (r *Record) SetExtra(key, value string) {
	for i, f := range r.Extra {
		if f.Key == key {
			r.Extra[i].Value = value
			return
		}
	}
	r.Extra = append(r.Extra, Field{Key: key, Value: value})
}

var entropy = rand.New(rand.NewSource(time.Now().UnixNano()))

// NewID returns a new unique record id.
func NewID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// ParseTime parses a record timestamp in RFC 3339 form, accepting a trailing Z.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", value)
}

// FormatTime renders a timestamp the way record files store it.
func FormatTime(ts time.Time) string {
	return ts.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
