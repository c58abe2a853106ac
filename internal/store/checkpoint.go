package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion is stamped into checkpoints written by this engine.
const SchemaVersion = "2.0"

// Checkpoint records when a job last completed. It is advisory: resumption
// safety comes from record status being terminal, not from this file.
type Checkpoint struct {
	LastRun       time.Time `json:"last_run"`
	SchemaVersion string    `json:"schema_version"`
}

func (s *Store) checkpointPath(job string) string {
	return filepath.Join(s.StateDir(), job+"-checkpoint.json")
}

// LoadCheckpoint reads a job's checkpoint. A missing file yields a zero value.
func (s *Store) LoadCheckpoint(job string) (Checkpoint, error) {
	var cp Checkpoint
	data, err := os.ReadFile(s.checkpointPath(job))
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return cp, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint atomically writes a job's checkpoint.
func (s *Store) SaveCheckpoint(job string, cp Checkpoint) error {
	if cp.SchemaVersion == "" {
		cp.SchemaVersion = SchemaVersion
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return WriteAtomic(s.checkpointPath(job), append(data, '\n'))
}
