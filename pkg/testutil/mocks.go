package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// ConfirmationCall records one question put to a MockConfirmer.
type ConfirmationCall struct {
	Level   safety.RiskLevel
	Command string
}

// MockConfirmer is a reusable confirmer for pipeline tests. Use this
// instead of creating ad-hoc confirmers in each test file.
type MockConfirmer struct {
	mu sync.Mutex

	Approve bool
	Err     error
	// Delay simulates a slow operator before the answer arrives.
	Delay time.Duration
	Calls []ConfirmationCall
}

// RequestConfirmation answers with the configured verdict.
func (m *MockConfirmer) RequestConfirmation(c *safety.Classification, command string) (bool, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	call := ConfirmationCall{Command: command}
	if c != nil {
		call.Level = c.Level
	}
	m.Calls = append(m.Calls, call)
	return m.Approve, m.Err
}

// GetCallCount returns the number of confirmation requests (thread-safe).
func (m *MockConfirmer) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// GetLastCall returns the most recent request (thread-safe).
func (m *MockConfirmer) GetLastCall() ConfirmationCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return ConfirmationCall{}
	}
	return m.Calls[len(m.Calls)-1]
}

// Reset clears all recorded calls.
func (m *MockConfirmer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// MockAdapter is a platform adapter that runs nothing. It writes canned
// output and returns the configured exit code, so executor behavior can be
// tested without spawning processes.
type MockAdapter struct {
	mu sync.Mutex

	NameValue  string
	ExitCode   int
	InvokeErr  error
	StdoutText string
	StderrText string
	// WaitForCtx blocks the invocation until the context is done and
	// returns its error, simulating a long-running process.
	WaitForCtx bool
	Commands   []string
	WorkDirs   []string
}

// Name returns the adapter name.
func (m *MockAdapter) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Invoke simulates a process run.
func (m *MockAdapter) Invoke(ctx context.Context, inv sandbox.Invocation) (int, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, inv.Command)
	m.WorkDirs = append(m.WorkDirs, inv.WorkDir)
	m.mu.Unlock()

	if m.WaitForCtx {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	if m.StdoutText != "" && inv.Stdout != nil {
		io.WriteString(inv.Stdout, m.StdoutText)
	}
	if m.StderrText != "" && inv.Stderr != nil {
		io.WriteString(inv.Stderr, m.StderrText)
	}
	if m.InvokeErr != nil {
		return -1, m.InvokeErr
	}
	return m.ExitCode, nil
}

// GetInvocationCount returns the number of invocations (thread-safe).
func (m *MockAdapter) GetInvocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Commands)
}

// GetLastCommand returns the most recent command line (thread-safe).
func (m *MockAdapter) GetLastCommand() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Commands) == 0 {
		return ""
	}
	return m.Commands[len(m.Commands)-1]
}

// Reset clears all recorded invocations.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = nil
	m.WorkDirs = nil
}

// MemoryRecorder is an in-memory audit recorder for tests.
type MemoryRecorder struct {
	mu sync.Mutex

	Entries   []*audit.AuditEntry
	RecordErr error
	CloseErr  error
	Closed    bool
}

// Record appends an entry.
func (m *MemoryRecorder) Record(entry *audit.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.Entries = append(m.Entries, entry)
	return nil
}

// Close marks the recorder closed.
func (m *MemoryRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseErr
}

// GetEntries returns a copy of all recorded entries (thread-safe).
func (m *MemoryRecorder) GetEntries() []*audit.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*audit.AuditEntry, len(m.Entries))
	copy(result, m.Entries)
	return result
}

// Len returns the number of recorded entries (thread-safe).
func (m *MemoryRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Entries)
}

// Reset clears all entries.
func (m *MemoryRecorder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = nil
	m.Closed = false
}
