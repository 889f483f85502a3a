// Package pipeline drives batches of candidate commands through
// classification, gating, sandboxed execution and auditing. The orchestrator
// is the only writer of audit entries, which is what guarantees exactly one
// entry per request no matter how a batch ends.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// Error classes callers can test with errors.Is. Denials and blocks stay
// data on the outcome; these surface the class when a caller wants an error
// value instead.
var (
	// ErrPolicyViolation marks a command refused by policy before any
	// process was spawned.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrConfirmationDenied marks a command its operator refused, distinct
	// from ErrPolicyViolation so callers can tell "not allowed" from "not
	// approved this time".
	ErrConfirmationDenied = errors.New("confirmation denied")

	// ErrConfirmationTimeout marks an approval wait that expired. Expiry
	// always resolves to denial.
	ErrConfirmationTimeout = errors.New("confirmation wait timed out")

	// ErrSandboxTimeout marks a command that exceeded its wall-clock budget.
	ErrSandboxTimeout = errors.New("sandbox timeout")

	// ErrAdapterFailure marks a platform invocation that failed outright.
	ErrAdapterFailure = errors.New("adapter failure")
)

// CommandRequest is one command submitted for execution. WorkDir is
// interpreted relative to the sandbox allowed root unless absolute; an empty
// WorkDir runs at the root itself.
type CommandRequest struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	WorkDir string `json:"workdir,omitempty"`
}

// UnmarshalJSON accepts either a full object or a bare string, so batch
// files can list plain commands without boilerplate.
func (r *CommandRequest) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		r.Command = text
		return nil
	}
	type plain CommandRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = CommandRequest(p)
	return nil
}

// LoadBatchFile reads a JSON batch file: an array whose elements are either
// command strings or {id, command, workdir} objects.
func LoadBatchFile(path string) ([]CommandRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var requests []CommandRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("parsing batch file %s: %w", path, err)
	}
	return requests, nil
}

// ExecutionMode selects how a batch reacts to a deny or failure.
type ExecutionMode string

const (
	// ModeBestEffort keeps processing later commands after one is denied
	// or fails.
	ModeBestEffort ExecutionMode = "best-effort"

	// ModeFailFast marks every remaining command Skipped, without
	// classification, as soon as one command does not complete.
	ModeFailFast ExecutionMode = "fail-fast"
)

// ParseMode converts a mode name from configuration or flags.
func ParseMode(s string) (ExecutionMode, error) {
	switch s {
	case "", string(ModeBestEffort):
		return ModeBestEffort, nil
	case string(ModeFailFast):
		return ModeFailFast, nil
	}
	return ModeBestEffort, fmt.Errorf("unknown execution mode %q", s)
}

// BatchStatus summarizes a finished batch by its worst outcome.
type BatchStatus string

const (
	BatchAllSucceeded   BatchStatus = "all_succeeded"
	BatchPartialFailure BatchStatus = "partial_failure"
	BatchBlocked        BatchStatus = "blocked"
	BatchDenied         BatchStatus = "denied"
)

// State tracks where a command is in its lifecycle. Transitions are logged
// at debug level.
type State string

const (
	StatePending     State = "pending"
	StateClassifying State = "classifying"
	StateGating      State = "gating"
	StateExecuting   State = "executing"
	StateBlocked     State = "blocked"
	StateSkipped     State = "skipped"
	StateLogged      State = "logged"
	StateDone        State = "done"
)

// CommandOutcome pairs a request with everything that happened to it.
// Classification and Verdict are nil for commands skipped before
// classification.
type CommandOutcome struct {
	Request        CommandRequest          `json:"request"`
	Classification *safety.Classification  `json:"classification,omitempty"`
	Verdict        *safety.GateVerdict     `json:"verdict,omitempty"`
	Decision       audit.Decision          `json:"decision"`
	Result         sandbox.ExecutionResult `json:"result"`
}

// Err maps a non-successful outcome to its error class. Completed commands
// return nil; skipped commands that were not denied return a plain error
// describing why they never ran.
func (co *CommandOutcome) Err() error {
	switch co.Result.Status {
	case sandbox.StatusCompleted:
		return nil
	case sandbox.StatusBlocked:
		return fmt.Errorf("%w: %s", ErrPolicyViolation, co.Result.Reason)
	case sandbox.StatusTimedOut:
		return fmt.Errorf("%w: %s", ErrSandboxTimeout, co.Result.Reason)
	case sandbox.StatusSkipped:
		if co.Decision == audit.DecisionUserDenied {
			return fmt.Errorf("%w: %s", ErrConfirmationDenied, co.Result.Reason)
		}
		return fmt.Errorf("skipped: %s", co.Result.Reason)
	default:
		if co.Result.ExitCode != nil {
			return fmt.Errorf("exited with code %d", *co.Result.ExitCode)
		}
		return fmt.Errorf("%w: %s", ErrAdapterFailure, co.Result.Reason)
	}
}

// BatchResult is the outcome of one ExecuteBatch call. Outcomes preserve
// submission order.
type BatchResult struct {
	BatchID    string           `json:"batch_id"`
	Status     BatchStatus      `json:"status"`
	Outcomes   []CommandOutcome `json:"outcomes"`
	DurationMS int64            `json:"duration_ms"`
}

// Confirmer answers confirmation requests for gated commands. How to ask is
// the implementation's business: a terminal modal, the web approval hub, or
// a fixed policy for non-interactive runs. Implementations may block; the
// orchestrator bounds the wait with the gate's approval timeout.
type Confirmer interface {
	RequestConfirmation(c *safety.Classification, commandText string) (approved bool, err error)
}

// ConfirmerFunc adapts a plain function to the Confirmer interface.
type ConfirmerFunc func(c *safety.Classification, commandText string) (bool, error)

// RequestConfirmation calls f.
func (f ConfirmerFunc) RequestConfirmation(c *safety.Classification, commandText string) (bool, error) {
	return f(c, commandText)
}

// DenyAll refuses every confirmation request. It is the default for
// non-interactive runs, where nobody is present to approve.
func DenyAll() Confirmer {
	return ConfirmerFunc(func(*safety.Classification, string) (bool, error) {
		return false, nil
	})
}
