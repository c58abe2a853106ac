// Package store implements the layered on-disk record store: parsing and
// atomic rewriting of record files, the append-only audit log, checkpoints,
// and the cross-run advisory lock.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rcliao/memgov/internal/model"
)

// File is one parsed record file: an optional preamble followed by records.
type File struct {
	Path     string
	Preamble string
	Records  []*model.Record
}

// Store reads and writes a workspace's memory directories.
type Store struct {
	root string
}

// New creates a store rooted at the given workspace directory.
func New(workspace string) *Store {
	return &Store{root: workspace}
}

// Root returns the workspace root.
func (s *Store) Root() string { return s.root }

// MemoryDir returns the memory directory under the workspace.
func (s *Store) MemoryDir() string { return filepath.Join(s.root, "memory") }

// LayerDir returns the directory holding a layer's record files.
func (s *Store) LayerDir(layer string) string {
	return filepath.Join(s.root, "memory", layer)
}

// AuditLogPath returns the append-only drift log path.
func (s *Store) AuditLogPath() string {
	return filepath.Join(s.root, "memory", "drift-log.md")
}

// StateDir returns the directory for checkpoints and queues.
func (s *Store) StateDir() string {
	return filepath.Join(s.root, "memory", "state")
}

// LockPath returns the cadence run lock path.
func (s *Store) LockPath() string {
	return filepath.Join(s.root, "memory", "locks", "cadence-memory.lock")
}

// ConfigDir returns the workspace-local configuration directory.
func (s *Store) ConfigDir() string {
	return filepath.Join(s.root, "memory", "config")
}

// EnsureLayout creates the workspace directory skeleton.
func (s *Store) EnsureLayout() error {
	dirs := []string{
		s.LayerDir(model.LayerEpisodic),
		s.LayerDir(model.LayerSemantic),
		s.LayerDir(model.LayerIdentity),
		s.StateDir(),
		s.ConfigDir(),
		filepath.Dir(s.LockPath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// LoadLayer parses every record file in a layer, sorted by name. Malformed
// records are skipped and reported as warnings, never as a failure.
func (s *Store) LoadLayer(layer string) ([]*File, []*model.MalformedRecordError, error) {
	dir := s.LayerDir(layer)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read layer %s: %w", layer, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var files []*File
	var warnings []*model.MalformedRecordError
	for _, name := range names {
		f, warns, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, warns...)
		files = append(files, f)
	}
	return files, warnings, nil
}

// LoadLayers parses several layers in order.
func (s *Store) LoadLayers(layers ...string) ([]*File, []*model.MalformedRecordError, error) {
	var files []*File
	var warnings []*model.MalformedRecordError
	for _, layer := range layers {
		fs, warns, err := s.LoadLayer(layer)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, fs...)
		warnings = append(warnings, warns...)
	}
	return files, warnings, nil
}

// FindRecord locates a record by id across the given files.
func FindRecord(files []*File, id string) (*File, *model.Record) {
	for _, f := range files {
		for _, r := range f.Records {
			if r.ID == id {
				return f, r
			}
		}
	}
	return nil, nil
}

// WriteFile atomically replaces a record file with its rendered content.
func (s *Store) WriteFile(f *File) error {
	return WriteAtomic(f.Path, []byte(Render(f.Preamble, f.Records)))
}
