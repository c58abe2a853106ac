package store

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rcliao/memgov/internal/model"
)

var headerRe = regexp.MustCompile(`^###\s+mem:([a-zA-Z0-9_-]+)\s*$`)

// canonicalOrder is the metadata key order written for every record. Unknown
// keys follow in the order they were read.
var canonicalOrder = []string{
	"time", "layer", "importance", "confidence",
	"status", "source", "tags", "supersedes", "durability",
}

// ParseFile reads one record file. Records violating the schema are dropped
// from the result and returned as warnings.
func ParseFile(path string) (*File, []*model.MalformedRecordError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{Path: path}, nil, nil
		}
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	f := &File{Path: path}
	var warnings []*model.MalformedRecordError
	var preamble []string

	i := 0
	for i < len(lines) {
		m := headerRe.FindStringSubmatch(lines[i])
		if m == nil {
			preamble = append(preamble, lines[i])
			i++
			continue
		}
		id := m[1]
		i++

		meta := map[string]string{}
		var extraOrder []string
		for i < len(lines) {
			line := strings.TrimSpace(lines[i])
			if line == "---" {
				i++
				break
			}
			if k, v, ok := strings.Cut(line, ":"); ok {
				key := strings.TrimSpace(k)
				meta[key] = strings.TrimSpace(v)
				if !isCanonicalKey(key) {
					extraOrder = append(extraOrder, key)
				}
			}
			i++
		}

		var body []string
		for i < len(lines) && !headerRe.MatchString(lines[i]) {
			body = append(body, lines[i])
			i++
		}

		rec, err := buildRecord(path, id, meta, extraOrder, strings.TrimSpace(strings.Join(body, "\n")))
		if err != nil {
			if mre, ok := err.(*model.MalformedRecordError); ok {
				warnings = append(warnings, mre)
				continue
			}
			return nil, nil, err
		}
		f.Records = append(f.Records, rec)
	}

	f.Preamble = strings.TrimSpace(strings.Join(preamble, "\n"))
	return f, warnings, nil
}

func isCanonicalKey(key string) bool {
	for _, k := range canonicalOrder {
		if k == key {
			return true
		}
	}
	return false
}

func buildRecord(path, id string, meta map[string]string, extraOrder []string, body string) (*model.Record, error) {
	malformed := func(reason string) error {
		return &model.MalformedRecordError{File: path, ID: id, Reason: reason}
	}

	rec := &model.Record{
		ID:     id,
		Layer:  meta["layer"],
		Status: meta["status"],
		Source: meta["source"],
		Body:   body,
	}

	ts, err := model.ParseTime(meta["time"])
	if err != nil {
		return nil, malformed(fmt.Sprintf("bad time: %v", err))
	}
	rec.Time = ts

	rec.Importance, err = parseUnit(meta, "importance")
	if err != nil {
		return nil, malformed(err.Error())
	}
	rec.Confidence, err = parseUnit(meta, "confidence")
	if err != nil {
		return nil, malformed(err.Error())
	}

	rec.Tags = parseTags(meta["tags"])

	if sup := strings.TrimSpace(meta["supersedes"]); sup != "" && sup != "none" {
		rec.Supersedes = strings.TrimPrefix(sup, "mem:")
	}
	if dur := strings.TrimSpace(meta["durability"]); dur != "" && dur != "none" {
		rec.Durability = dur
	}

	for _, k := range extraOrder {
		rec.Extra = append(rec.Extra, model.Field{Key: k, Value: meta[k]})
	}

	if err := rec.Validate(); err != nil {
		if mre, ok := err.(*model.MalformedRecordError); ok {
			mre.File = path
			return nil, mre
		}
		return nil, err
	}
	return rec, nil
}

func parseUnit(meta map[string]string, key string) (float64, error) {
	raw, ok := meta[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", key, raw)
	}
	return v, nil
}

// parseTags accepts the bracketed list form ['a', 'b'] as well as a bare
// comma-separated list.
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		t := strings.Trim(strings.TrimSpace(part), `'"`)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Render produces the canonical text form of a record file.
func Render(preamble string, records []*model.Record) string {
	var blocks []string
	if strings.TrimSpace(preamble) != "" {
		blocks = append(blocks, strings.TrimSpace(preamble))
	}
	for _, r := range records {
		var b strings.Builder
		fmt.Fprintf(&b, "### mem:%s\n", r.ID)
		fmt.Fprintf(&b, "time: %s\n", model.FormatTime(r.Time))
		fmt.Fprintf(&b, "layer: %s\n", r.Layer)
		fmt.Fprintf(&b, "importance: %.2f\n", r.Importance)
		fmt.Fprintf(&b, "confidence: %.2f\n", r.Confidence)
		fmt.Fprintf(&b, "status: %s\n", r.Status)
		fmt.Fprintf(&b, "source: %s\n", r.Source)
		fmt.Fprintf(&b, "tags: %s\n", renderTags(r.Tags))
		if r.Supersedes != "" {
			fmt.Fprintf(&b, "supersedes: mem:%s\n", r.Supersedes)
		} else {
			b.WriteString("supersedes: none\n")
		}
		if r.Durability != "" {
			fmt.Fprintf(&b, "durability: %s\n", r.Durability)
		}
		for _, f := range r.Extra {
			fmt.Fprintf(&b, "%s: %s\n", f.Key, f.Value)
		}
		b.WriteString("---\n")
		b.WriteString(strings.TrimSpace(r.Body))
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func renderTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	quoted := make([]string, len(tags))
	for i, t := range tags {
		quoted[i] = "'" + t + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
