// Package audit records every pipeline decision as an immutable entry: what
// command was submitted, how it was classified, what the gate decided, and
// how execution ended. Entries stream to a JSON-lines file and, optionally,
// to a SQL store that adds queryability on top.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// Decision records how a command cleared, or failed to clear, the gate.
type Decision string

const (
	DecisionAutoApproved Decision = "auto_approved" // approved without asking anyone
	DecisionUserApproved Decision = "user_approved" // an operator confirmed
	DecisionUserDenied   Decision = "user_denied"   // an operator refused, or the wait timed out
	DecisionNotRequired  Decision = "not_required"  // never gated: blocked outright or skipped
)

// AuditEntry is one immutable record per command request. JSON tags double
// as the SQL column names so the file format and the store never drift.
//
// RiskLevel is the level name ("safe" through "critical") rather than the
// enum: commands skipped by fail-fast or cancellation are never classified
// and carry an empty level.
type AuditEntry struct {
	ID         int64                   `json:"-"`
	Timestamp  time.Time               `json:"timestamp"`
	BatchID    string                  `json:"batch_id"`
	RequestID  string                  `json:"request_id,omitempty"`
	Command    string                  `json:"command"`
	RiskLevel  string                  `json:"risk_level"`
	Pattern    string                  `json:"pattern,omitempty"`
	Blocked    bool                    `json:"blocked"`
	Decision   Decision                `json:"decision"`
	Status     sandbox.ExecutionStatus `json:"status"`
	ExitCode   *int                    `json:"exit_code"`
	DurationMS int64                   `json:"duration_ms"`
	Truncated  bool                    `json:"truncated"`
	Reason     string                  `json:"reason,omitempty"`
}

// Recorder is a sink for audit entries. Record must be safe for concurrent
// use; independent batches write interleaved.
type Recorder interface {
	Record(entry *AuditEntry) error
	Close() error
}

// FileRecorder appends entries to a JSON-lines file, one object per line.
// This is the greppable record the rest of the system promises; a write
// failure here is a structural error, never swallowed.
type FileRecorder struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileRecorder opens (creating if needed) the audit file in append mode.
// An empty path falls back to the default under the XDG data directory.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if path == "" {
		path = config.DefaultAuditFilePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit file %s: %w", path, err)
	}
	return &FileRecorder{file: f, path: path}, nil
}

// Path returns the file the recorder writes to.
func (r *FileRecorder) Path() string { return r.path }

// Record appends one entry as a single JSON line.
func (r *FileRecorder) Record(entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// MultiRecorder fans each entry out to several sinks. Every sink is
// attempted even when an earlier one fails, and the errors are joined so
// one failing sink cannot hide another.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder combines recorders, ignoring nil entries so callers can
// pass optional sinks unconditionally.
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	m := &MultiRecorder{}
	for _, r := range recorders {
		if r != nil {
			m.recorders = append(m.recorders, r)
		}
	}
	return m
}

// Record writes the entry to every sink.
func (m *MultiRecorder) Record(entry *AuditEntry) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Record(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiRecorder) Close() error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
