package examauditor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AttemptRecord is one line of the append-only attempt stream.
type AttemptRecord struct {
	Time       time.Time `json:"time"`
	RunID      string    `json:"run_id"`
	QuestionID string    `json:"question_id"`
	Attempt    int       `json:"attempt"`
	Stage      string    `json:"stage"` // review, generate, validate, commit
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// AttemptLog appends one JSON record per pipeline attempt, synced to disk per
// write so a crash loses at most the record in flight.
type AttemptLog struct {
	mu   sync.Mutex
	file *os.File
}

func OpenAttemptLog(path string) (*AttemptLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attempt log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt log: %w", err)
	}
	return &AttemptLog{file: file}, nil
}

// Append writes one record. Marshal failures are impossible for this type, so
// only I/O errors surface.
func (l *AttemptLog) Append(rec AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt record: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append attempt record: %w", err)
	}
	return l.file.Sync()
}

func (l *AttemptLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
