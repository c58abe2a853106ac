package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReviewItem is a low-confidence classification queued for manual inspection.
// Queued pairs receive no mutation.
type ReviewItem struct {
	QueuedAt     time.Time `json:"queued_at"`
	Relationship string    `json:"relationship"`
	Confidence   float64   `json:"confidence"`
	NewID        string    `json:"new_id"`
	OldID        string    `json:"old_id"`
	Reasoning    string    `json:"reasoning,omitempty"`
}

func (s *Store) reviewQueuePath() string {
	return filepath.Join(s.StateDir(), "review-queue.json")
}

// LoadReviewQueue reads the pending review items. A missing file is empty.
func (s *Store) LoadReviewQueue() ([]ReviewItem, error) {
	data, err := os.ReadFile(s.reviewQueuePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read review queue: %w", err)
	}
	var items []ReviewItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse review queue: %w", err)
	}
	return items, nil
}

// SaveReviewQueue atomically replaces the review queue.
func (s *Store) SaveReviewQueue(items []ReviewItem) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return WriteAtomic(s.reviewQueuePath(), append(data, '\n'))
}
