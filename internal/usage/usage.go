// Package usage tracks token consumption per feature across a process
// lifetime, with optional JSON persistence so long-running transcription
// jobs can report spend across restarts.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TokenCounts aggregates token usage for one bucket.
type TokenCounts struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
	Calls      int `json:"calls"`
}

func (c *TokenCounts) add(prompt, completion int) {
	c.Prompt += prompt
	c.Completion += completion
	c.Total += prompt + completion
	c.Calls++
}

// Snapshot is a point-in-time copy of the tracked usage.
type Snapshot struct {
	Version   string                 `json:"version"`
	UpdatedAt time.Time              `json:"updated_at"`
	Overall   TokenCounts            `json:"overall"`
	ByFeature map[string]TokenCounts `json:"by_feature"`
}

// Tracker records token usage per feature. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	overall  TokenCounts
	features map[string]*TokenCounts
	filePath string
}

// NewTracker returns an in-memory tracker.
func NewTracker() *Tracker {
	return &Tracker{features: make(map[string]*TokenCounts)}
}

// NewPersistentTracker returns a tracker that loads existing counts from
// path and saves on Flush. A missing file starts empty; a corrupt file is
// an error.
func NewPersistentTracker(path string) (*Tracker, error) {
	t := NewTracker()
	t.filePath = path
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse usage file %s: %w", path, err)
	}
	t.overall = snap.Overall
	for feature, counts := range snap.ByFeature {
		c := counts
		t.features[feature] = &c
	}
	return t, nil
}

// Record adds one call's token counts under the given feature.
func (t *Tracker) Record(feature string, prompt, completion int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overall.add(prompt, completion)
	c, ok := t.features[feature]
	if !ok {
		c = &TokenCounts{}
		t.features[feature] = c
	}
	c.add(prompt, completion)
}

// Snapshot copies the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		Version:   "1.0",
		UpdatedAt: time.Now().UTC(),
		Overall:   t.overall,
		ByFeature: make(map[string]TokenCounts, len(t.features)),
	}
	for feature, counts := range t.features {
		snap.ByFeature[feature] = *counts
	}
	return snap
}

// Features returns tracked feature IDs in sorted order.
func (t *Tracker) Features() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.features))
	for id := range t.features {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flush writes the snapshot to the persistence path. A no-op for
// in-memory trackers.
func (t *Tracker) Flush() error {
	if t.filePath == "" {
		return nil
	}
	snap := t.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.filePath), 0o755); err != nil {
		return fmt.Errorf("create usage dir: %w", err)
	}
	return os.WriteFile(t.filePath, data, 0o644)
}
