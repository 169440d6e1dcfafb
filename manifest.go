package examauditor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ItemStatus is the durable per-question pipeline state.
type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusSuccess ItemStatus = "success"
	StatusFailed  ItemStatus = "failed"
	StatusCleared ItemStatus = "cleared"
)

// ManifestEntry records the outcome of processing one question.
type ManifestEntry struct {
	Status         ItemStatus `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	GeneratedEntry *Question  `json:"generated_entry,omitempty"`
}

// Manifest is the resumability ledger: question id -> entry, flushed to disk
// after every update with write-temp-then-rename semantics so a crash can
// never leave a torn file.
type Manifest struct {
	mu      sync.Mutex
	path    string
	entries map[string]*ManifestEntry
}

// LoadManifest reads the manifest at path, or starts an empty one if the file
// does not exist yet.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{
		path:    path,
		entries: make(map[string]*ManifestEntry),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Entry returns the entry for id, creating a pending one if absent.
func (m *Manifest) Entry(id string) ManifestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return *e
	}
	return ManifestEntry{Status: StatusPending}
}

// Update applies fn to the entry for id. The attempts counter is monotonic:
// fn may raise it, never lower it.
func (m *Manifest) Update(id string, fn func(*ManifestEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &ManifestEntry{Status: StatusPending}
		m.entries[id] = e
	}
	before := e.Attempts
	fn(e)
	if e.Attempts < before {
		e.Attempts = before
	}
}

// IsDone reports whether id needs no further processing on a resumed run.
// Success is terminal by invariant; cleared is skipped too, because a fresh
// audit will re-flag the question if it is still suspect.
func (m *Manifest) IsDone(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false
	}
	return e.Status == StatusSuccess || e.Status == StatusCleared
}

// Counts tallies entries per status.
func (m *Manifest) Counts() map[ItemStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[ItemStatus]int)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts
}

// FailedIDs returns the ids of failed entries, sorted, for triage output.
func (m *Manifest) FailedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.entries {
		if e.Status == StatusFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Flush atomically persists the manifest.
func (m *Manifest) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return atomicWriteJSON(m.path, m.entries)
}

// atomicWriteJSON marshals v and replaces path in one rename, so readers and
// crash recovery only ever see a complete file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
