package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/log"
	"github.com/cloudbro-ops/runguard/pkg/metrics"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// Options configure an Orchestrator. Classifier, Gate, Executor and
// Recorder are required. Confirmer defaults to DenyAll, Mode to
// best-effort; Collector is optional.
type Options struct {
	Classifier *safety.Classifier
	Gate       *safety.Gate
	Executor   *sandbox.Executor
	Recorder   audit.Recorder
	Confirmer  Confirmer
	Collector  *metrics.Collector
	Mode       ExecutionMode
}

// Orchestrator walks each command of a batch through classification,
// gating, execution and logging, strictly in submission order. All
// per-batch state lives inside ExecuteBatch, so a single orchestrator can
// serve concurrent batches.
type Orchestrator struct {
	classifier *safety.Classifier
	gate       *safety.Gate
	executor   *sandbox.Executor
	recorder   audit.Recorder
	confirmer  Confirmer
	collector  *metrics.Collector
	mode       ExecutionMode
}

// NewOrchestrator validates the options and builds an orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Classifier == nil {
		return nil, errors.New("orchestrator requires a classifier")
	}
	if opts.Gate == nil {
		return nil, errors.New("orchestrator requires a gate")
	}
	if opts.Executor == nil {
		return nil, errors.New("orchestrator requires an executor")
	}
	if opts.Recorder == nil {
		return nil, errors.New("orchestrator requires an audit recorder")
	}
	if opts.Confirmer == nil {
		opts.Confirmer = DenyAll()
	}
	if opts.Mode == "" {
		opts.Mode = ModeBestEffort
	}

	return &Orchestrator{
		classifier: opts.Classifier,
		gate:       opts.Gate,
		executor:   opts.Executor,
		recorder:   opts.Recorder,
		confirmer:  opts.Confirmer,
		collector:  opts.Collector,
		mode:       opts.Mode,
	}, nil
}

// Mode reports the configured execution mode.
func (o *Orchestrator) Mode() ExecutionMode { return o.mode }

// ExecuteBatch runs the requests in order and returns one outcome per
// request. Every request produces exactly one audit entry, including the
// ones skipped after a fail-fast trip or a cancellation; commands skipped
// that way are never classified and carry an empty risk level.
//
// The returned error is non-nil only for structural failures, currently a
// failed audit write. Denials, confirmation refusals and command failures
// are data on the outcomes, not errors. On a structural failure the partial
// result is still returned so callers can see how far the batch got.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, requests []CommandRequest) (*BatchResult, error) {
	batchID := uuid.NewString()
	started := time.Now()
	result := &BatchResult{
		BatchID:  batchID,
		Outcomes: make([]CommandOutcome, 0, len(requests)),
	}

	log.Infof("Batch %s: %d command(s), %s mode", batchID, len(requests), o.mode)

	abortReason := ""
	for i := range requests {
		req := requests[i]
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		o.transition(batchID, req.ID, StatePending)

		if abortReason == "" && ctx.Err() != nil {
			abortReason = fmt.Sprintf("batch canceled: %v", ctx.Err())
		}

		var outcome CommandOutcome
		if abortReason != "" {
			o.transition(batchID, req.ID, StateSkipped)
			outcome = CommandOutcome{
				Request:  req,
				Decision: audit.DecisionNotRequired,
				Result:   sandbox.SkippedResult(abortReason),
			}
		} else {
			outcome = o.processCommand(ctx, batchID, req)
		}

		err := o.record(batchID, &outcome)
		result.Outcomes = append(result.Outcomes, outcome)
		if err != nil {
			result.Status = summarize(result.Outcomes)
			result.DurationMS = time.Since(started).Milliseconds()
			return result, fmt.Errorf("writing audit entry for command %s: %w", req.ID, err)
		}
		o.transition(batchID, req.ID, StateDone)

		if abortReason == "" && o.mode == ModeFailFast && outcome.Result.Status != sandbox.StatusCompleted {
			abortReason = fmt.Sprintf("fail-fast: command %q did not complete (%s)",
				truncateCommand(req.Command), outcome.Result.Status)
			log.Infof("Batch %s: %s", batchID, abortReason)
		}
	}

	result.Status = summarize(result.Outcomes)
	result.DurationMS = time.Since(started).Milliseconds()
	log.Infof("Batch %s finished: %s", batchID, result.Status)
	return result, nil
}

// processCommand takes one command through classify, gate and (when
// approved) execute. It never returns an error: whatever happens is
// captured in the outcome and audited by the caller.
func (o *Orchestrator) processCommand(ctx context.Context, batchID string, req CommandRequest) CommandOutcome {
	outcome := CommandOutcome{Request: req}

	o.transition(batchID, req.ID, StateClassifying)
	c := o.classifier.Classify(req.Command)
	outcome.Classification = c

	o.transition(batchID, req.ID, StateGating)
	verdict := o.gate.Decide(c)
	outcome.Verdict = verdict

	switch verdict.Decision {
	case safety.DecisionDeny:
		o.transition(batchID, req.ID, StateBlocked)
		outcome.Decision = audit.DecisionNotRequired
		outcome.Result = sandbox.BlockedResult(verdict.Reason)

	case safety.DecisionRequireConfirmation:
		approved, err := o.confirm(ctx, c, req.Command)
		if err != nil {
			log.Warnf("Batch %s command %s: confirmation not obtained: %v", batchID, req.ID, err)
		}
		if !approved {
			o.transition(batchID, req.ID, StateSkipped)
			outcome.Decision = audit.DecisionUserDenied
			outcome.Result = sandbox.SkippedResult(denialReason(c, err))
			break
		}
		outcome.Decision = audit.DecisionUserApproved
		o.transition(batchID, req.ID, StateExecuting)
		outcome.Result = o.executor.Run(ctx, req.Command, req.WorkDir)

	default:
		outcome.Decision = audit.DecisionAutoApproved
		o.transition(batchID, req.ID, StateExecuting)
		outcome.Result = o.executor.Run(ctx, req.Command, req.WorkDir)
	}

	return outcome
}

// confirm asks the configured confirmer for approval, bounding the wait
// with the gate's approval timeout. The wait is the pipeline's only
// suspension point; expiry and context cancellation both resolve to
// denial, never to silent approval.
func (o *Orchestrator) confirm(ctx context.Context, c *safety.Classification, command string) (bool, error) {
	type answer struct {
		approved bool
		err      error
	}
	answers := make(chan answer, 1)
	go func() {
		approved, err := o.confirmer.RequestConfirmation(c, command)
		answers <- answer{approved: approved, err: err}
	}()

	timeout := time.NewTimer(o.gate.ApprovalTimeout())
	defer timeout.Stop()

	select {
	case a := <-answers:
		return a.approved, a.err
	case <-timeout.C:
		return false, ErrConfirmationTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// record writes the audit entry for an outcome and feeds the metrics
// collector. A write failure is structural and aborts the batch.
func (o *Orchestrator) record(batchID string, outcome *CommandOutcome) error {
	entry := buildEntry(batchID, outcome)
	if err := o.recorder.Record(entry); err != nil {
		return err
	}
	if o.collector != nil {
		o.collector.Observe(entry)
	}
	o.transition(batchID, outcome.Request.ID, StateLogged)
	return nil
}

func buildEntry(batchID string, outcome *CommandOutcome) *audit.AuditEntry {
	entry := &audit.AuditEntry{
		Timestamp:  time.Now().UTC(),
		BatchID:    batchID,
		RequestID:  outcome.Request.ID,
		Command:    outcome.Request.Command,
		Decision:   outcome.Decision,
		Status:     outcome.Result.Status,
		ExitCode:   outcome.Result.ExitCode,
		DurationMS: outcome.Result.Duration.Milliseconds(),
		Truncated:  outcome.Result.Truncated,
		Reason:     outcome.Result.Reason,
	}
	if c := outcome.Classification; c != nil {
		entry.RiskLevel = c.Level.String()
		entry.Pattern = c.Pattern
	}
	// A sandbox refusal (work directory escape) blocks a command the
	// classifier passed, so the flag follows the result, not the level.
	entry.Blocked = outcome.Result.Status == sandbox.StatusBlocked
	return entry
}

// denialReason explains a refused confirmation, always naming the check
// that gated the command.
func denialReason(c *safety.Classification, err error) string {
	detail := c.Reason
	if detail == "" {
		detail = fmt.Sprintf("%s-risk command", c.Level)
	}
	switch {
	case errors.Is(err, ErrConfirmationTimeout):
		return "confirmation timed out: " + detail
	case err != nil:
		return fmt.Sprintf("confirmation unavailable (%v): %s", err, detail)
	default:
		return "confirmation denied: " + detail
	}
}

// summarize ranks the batch by its worst outcome. A policy block dominates,
// then an operator denial, then any failure; only a batch where every
// command completed reports all_succeeded.
func summarize(outcomes []CommandOutcome) BatchStatus {
	denied := false
	partial := false
	for i := range outcomes {
		oc := &outcomes[i]
		switch oc.Result.Status {
		case sandbox.StatusBlocked:
			return BatchBlocked
		case sandbox.StatusSkipped:
			if oc.Decision == audit.DecisionUserDenied {
				denied = true
			} else {
				partial = true
			}
		case sandbox.StatusFailed, sandbox.StatusTimedOut:
			partial = true
		}
	}
	switch {
	case denied:
		return BatchDenied
	case partial:
		return BatchPartialFailure
	default:
		return BatchAllSucceeded
	}
}

func (o *Orchestrator) transition(batchID, requestID string, s State) {
	log.Debugf("Batch %s command %s: %s", batchID, requestID, s)
}

func truncateCommand(command string) string {
	const max = 80
	if len(command) <= max {
		return command
	}
	return command[:max] + "..."
}
