package testutil

import (
	"fmt"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// FixtureTime is the base timestamp for generated entries, fixed so
// time-filter tests are reproducible.
var FixtureTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// Fixtures provides reusable test data for requests, audit entries and
// policy configuration. Use these instead of creating ad-hoc test data in
// each test.
type Fixtures struct{}

// NewFixtures creates a new Fixtures instance.
func NewFixtures() *Fixtures {
	return &Fixtures{}
}

// Request creates a command request with sensible defaults.
func (f *Fixtures) Request(command string, opts ...RequestOption) pipeline.CommandRequest {
	req := pipeline.CommandRequest{Command: command}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// RequestOption modifies a request fixture.
type RequestOption func(*pipeline.CommandRequest)

// WithRequestID sets the request id.
func WithRequestID(id string) RequestOption {
	return func(r *pipeline.CommandRequest) { r.ID = id }
}

// WithWorkDir sets the working directory.
func WithWorkDir(dir string) RequestOption {
	return func(r *pipeline.CommandRequest) { r.WorkDir = dir }
}

// Batch creates one request per command.
func (f *Fixtures) Batch(commands ...string) []pipeline.CommandRequest {
	requests := make([]pipeline.CommandRequest, 0, len(commands))
	for i, command := range commands {
		requests = append(requests, pipeline.CommandRequest{
			ID:      fmt.Sprintf("req-%d", i+1),
			Command: command,
		})
	}
	return requests
}

// Entry creates a completed audit entry with sensible defaults.
func (f *Fixtures) Entry(command string, level safety.RiskLevel, opts ...EntryOption) *audit.AuditEntry {
	zero := 0
	entry := &audit.AuditEntry{
		Timestamp:  FixtureTime,
		BatchID:    "batch-fixture",
		Command:    command,
		RiskLevel:  level.String(),
		Decision:   audit.DecisionAutoApproved,
		Status:     sandbox.StatusCompleted,
		ExitCode:   &zero,
		DurationMS: 5,
	}
	for _, opt := range opts {
		opt(entry)
	}
	return entry
}

// EntryOption modifies an audit entry fixture.
type EntryOption func(*audit.AuditEntry)

// WithBatchID sets the batch id.
func WithBatchID(id string) EntryOption {
	return func(e *audit.AuditEntry) { e.BatchID = id }
}

// WithDecision sets the gate decision.
func WithDecision(d audit.Decision) EntryOption {
	return func(e *audit.AuditEntry) { e.Decision = d }
}

// WithStatus sets the execution status and clears the exit code for
// statuses where no process completed.
func WithStatus(s sandbox.ExecutionStatus) EntryOption {
	return func(e *audit.AuditEntry) {
		e.Status = s
		if s != sandbox.StatusCompleted && s != sandbox.StatusFailed {
			e.ExitCode = nil
		}
	}
}

// WithBlocked marks the entry as refused by policy.
func WithBlocked(pattern, reason string) EntryOption {
	return func(e *audit.AuditEntry) {
		e.Blocked = true
		e.Status = sandbox.StatusBlocked
		e.Decision = audit.DecisionNotRequired
		e.Pattern = pattern
		e.Reason = reason
		e.ExitCode = nil
	}
}

// WithExitCode sets a specific exit code.
func WithExitCode(code int) EntryOption {
	return func(e *audit.AuditEntry) { e.ExitCode = &code }
}

// WithOffset shifts the timestamp from the fixture base.
func WithOffset(d time.Duration) EntryOption {
	return func(e *audit.AuditEntry) { e.Timestamp = FixtureTime.Add(d) }
}

// WithTruncated marks the entry's output as truncated.
func WithTruncated() EntryOption {
	return func(e *audit.AuditEntry) { e.Truncated = true }
}

// Catalog builds a small deterministic catalog without the built-in
// patterns, for tests that need full control over matching.
func (f *Fixtures) Catalog() *safety.PatternCatalog {
	return safety.BuildCatalog(config.CatalogConfig{
		DisableDefaults: true,
		Blocked: []config.PatternEntry{
			{Pattern: "wipe-disk", Description: "destroys the disk"},
		},
		High: []config.PatternEntry{
			{Pattern: "drop-data", Description: "deletes data"},
		},
		Medium: []config.PatternEntry{
			{Pattern: "restart-svc", Description: "restarts a service"},
		},
		Low: []config.PatternEntry{
			{Pattern: "write-file", Description: "writes a file"},
		},
	})
}

// GateConfig returns a gate policy with confirmation enabled.
func (f *Fixtures) GateConfig(profile string) config.GateConfig {
	return config.GateConfig{
		ConfirmationMode:       true,
		Profile:                profile,
		ApprovalTimeoutSeconds: 5,
	}
}

// SandboxConfig returns sandbox limits suitable for fast tests.
func (f *Fixtures) SandboxConfig(root string) config.SandboxConfig {
	return config.SandboxConfig{
		TimeoutSeconds: 10,
		MaxOutputBytes: 1 << 20,
		AllowedRoot:    root,
	}
}
