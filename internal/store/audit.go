package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AuditEntry is one applied consolidation action. The log is append-only:
// entries are written once and never rewritten.
type AuditEntry struct {
	Date       time.Time
	Action     string // SUPERSEDES | REFINES | REINFORCES
	NewID      string
	OldID      string
	Confidence float64
}

// Key identifies the action independent of date and confidence. The log
// records each (action, new, old) triple at most once.
func (e AuditEntry) Key() string {
	if e.OldID == "" {
		return fmt.Sprintf("%s new=mem:%s", e.Action, e.NewID)
	}
	return fmt.Sprintf("%s new=mem:%s old=mem:%s", e.Action, e.NewID, e.OldID)
}

// Line renders the entry as a single drift-log line.
func (e AuditEntry) Line() string {
	return fmt.Sprintf("- %s %s conf=%.2f",
		e.Date.UTC().Format("2006-01-02"), e.Key(), e.Confidence)
}

// AppendAudit writes one entry to the drift log in a single append.
func (s *Store) AppendAudit(e AuditEntry) error {
	path := s.AuditLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(e.Line() + "\n"); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// ReadAuditLines returns the non-empty lines of the drift log.
func (s *Store) ReadAuditLines() ([]string, error) {
	data, err := os.ReadFile(s.AuditLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// AuditKeys returns the (action, new, old) triples already recorded in the
// drift log, in AuditEntry.Key form.
func (s *Store) AuditKeys() (map[string]bool, error) {
	lines, err := s.ReadAuditLines()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(lines))
	for _, l := range lines {
		fields := strings.Fields(l)
		// "- <date> <action> new=... [old=...] conf=..."
		if len(fields) < 5 {
			continue
		}
		keys[strings.Join(fields[2:len(fields)-1], " ")] = true
	}
	return keys, nil
}
