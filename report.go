package examauditor

import (
	"sync"
	"time"
)

// DuplicateReport is the persisted result of a clustering pass.
type DuplicateReport struct {
	GeneratedAt        time.Time `json:"generated_at"`
	QuestionCount      int       `json:"question_count"`
	DuplicateThreshold float64   `json:"duplicate_threshold"`
	GroupingThreshold  float64   `json:"grouping_threshold"`
	Clusters           []Cluster `json:"clusters"`
}

// WriteDuplicateReport persists the clusters with their keep/remove decisions.
func WriteDuplicateReport(path string, report DuplicateReport) error {
	return atomicWriteJSON(path, report)
}

// Summary holds the running tally of a pipeline run. It is rewritten after
// every item so progress can be inspected while the run is live.
type Summary struct {
	mu sync.Mutex

	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Processed int       `json:"processed"`
	Flagged   int       `json:"flagged"`
	Committed int       `json:"committed"`
	Failed    int       `json:"failed"`
	Cleared   int       `json:"cleared"`
	Retries   int       `json:"retries"`
}

func NewSummary(runID string) *Summary {
	return &Summary{RunID: runID, StartedAt: time.Now()}
}

// Bump applies fn under the lock.
func (s *Summary) Bump(fn func(*Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Snapshot returns a copy safe to log.
func (s *Summary) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		RunID:     s.RunID,
		StartedAt: s.StartedAt,
		UpdatedAt: s.UpdatedAt,
		Processed: s.Processed,
		Flagged:   s.Flagged,
		Committed: s.Committed,
		Failed:    s.Failed,
		Cleared:   s.Cleared,
		Retries:   s.Retries,
	}
}

// Write persists the summary atomically.
func (s *Summary) Write(path string) error {
	s.mu.Lock()
	s.UpdatedAt = time.Now()
	snapshot := Summary{
		RunID:     s.RunID,
		StartedAt: s.StartedAt,
		UpdatedAt: s.UpdatedAt,
		Processed: s.Processed,
		Flagged:   s.Flagged,
		Committed: s.Committed,
		Failed:    s.Failed,
		Cleared:   s.Cleared,
		Retries:   s.Retries,
	}
	s.mu.Unlock()
	return atomicWriteJSON(path, snapshot)
}
