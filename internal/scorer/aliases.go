package scorer

import (
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rcliao/memgov/internal/textutil"
)

// Aliases maps normalized alias phrases to their canonical spelling, so one
// concept written several ways still counts as one concept.
type Aliases map[string]string

// LoadAliases reads the alias table. A missing or unparseable file yields an
// empty table rather than an error; aliasing is an enhancement, not a
// prerequisite.
func LoadAliases(path string) Aliases {
	data, err := os.ReadFile(path)
	if err != nil {
		return Aliases{}
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return Aliases{}
	}
	out := Aliases{}
	for alias, canonical := range raw {
		a := textutil.Normalize(alias)
		c := textutil.Normalize(canonical)
		if a != "" && c != "" {
			out[a] = c
		}
	}
	return out
}

// CanonicalizeText normalizes text and rewrites alias phrases to their
// canonical form, longest alias first so multi-word aliases win.
func (a Aliases) CanonicalizeText(s string) string {
	out := textutil.Normalize(s)
	if len(a) == 0 {
		return out
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, alias := range keys {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(alias) + `\b`)
		out = re.ReplaceAllString(out, a[alias])
	}
	return textutil.Normalize(out)
}

// CanonicalizeTags canonicalizes each tag and deduplicates, preserving
// order. Multi-word canonical forms collapse to underscore-joined tags.
func (a Aliases) CanonicalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range tags {
		tag := strings.ReplaceAll(a.CanonicalizeText(raw), " ", "_")
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
