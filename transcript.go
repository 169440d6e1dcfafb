package examauditor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptLog records every LLM prompt and response of a run to a plain text
// file, for audit trails and prompt debugging.
type TranscriptLog struct {
	file *os.File
	mu   sync.Mutex
}

// NewTranscriptLog creates a transcript file named after the run id inside dir.
func NewTranscriptLog(dir, runID string) (*TranscriptLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	filename := filepath.Join(dir, fmt.Sprintf("transcript_%s.log", runID))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}
	t := &TranscriptLog{file: file}
	t.logf("=== Run %s started %s ===\n\n", runID, time.Now().Format(time.RFC3339))
	return t, nil
}

func (t *TranscriptLog) logf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(t.file, "[%s] %s", timestamp, fmt.Sprintf(format, args...))
	t.file.Sync()
}

// LogRequest records an outgoing prompt.
func (t *TranscriptLog) LogRequest(component, prompt string) {
	if t == nil {
		return
	}
	t.logf("=== REQUEST (%s) ===\n%s\n====================\n\n", component, prompt)
}

// LogResponse records a raw model response.
func (t *TranscriptLog) LogResponse(component, response string) {
	if t == nil {
		return
	}
	t.logf("=== RESPONSE (%s) ===\n%s\n=====================\n\n", component, response)
}

// Close finalizes and closes the transcript file.
func (t *TranscriptLog) Close() error {
	if t == nil {
		return nil
	}
	t.logf("=== Run complete %s ===\n", time.Now().Format(time.RFC3339))
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
