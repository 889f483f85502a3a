package safety

import (
	"time"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
)

// GateDecision is the gate's verdict on whether a command may proceed.
type GateDecision string

const (
	DecisionAutoApprove         GateDecision = "auto_approve"
	DecisionRequireConfirmation GateDecision = "require_confirmation"
	DecisionDeny                GateDecision = "deny"
)

// GateVerdict carries the decision plus the reason and any policy warnings
// produced while deciding.
type GateVerdict struct {
	Decision GateDecision `json:"decision"`
	Reason   string       `json:"reason,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Gate turns a classification into an execution decision under the
// configured policy.
type Gate struct {
	policy config.GateConfig
}

// NewGate creates a gate applying the given policy.
func NewGate(policy config.GateConfig) *Gate {
	return &Gate{policy: policy}
}

// Decide maps a classification to a gate decision.
//
// Critical always denies, independent of policy. High requires
// confirmation unless confirmation mode is disabled, in which case the
// command auto-approves and the relaxed policy is recorded as a warning.
// Medium requires confirmation only under the paranoid profile; otherwise
// it auto-approves with a warning. Low and Safe auto-approve.
func (g *Gate) Decide(c *Classification) *GateVerdict {
	verdict := &GateVerdict{Decision: DecisionAutoApprove}

	switch {
	case c.Blocked || c.Level >= RiskCritical:
		verdict.Decision = DecisionDeny
		verdict.Reason = c.Reason
		if verdict.Reason == "" {
			verdict.Reason = "critical-risk command is never executed"
		}

	case c.Level == RiskHigh:
		if !g.policy.ConfirmationMode {
			warning := "confirmation mode disabled, high-risk command auto-approved"
			verdict.Warnings = append(verdict.Warnings, warning)
			log.Warnf("Gate: %s (%s)", warning, c.Reason)
			break
		}
		verdict.Decision = DecisionRequireConfirmation
		verdict.Reason = c.Reason

	case c.Level == RiskMedium:
		if g.policy.ConfirmationMode && g.policy.IsParanoid() {
			verdict.Decision = DecisionRequireConfirmation
			verdict.Reason = c.Reason
			break
		}
		verdict.Warnings = append(verdict.Warnings, "medium-risk command auto-approved under the "+g.profileName()+" profile")
	}

	return verdict
}

// ApprovalTimeout returns how long a confirmation wait may block before it
// resolves to a denial.
func (g *Gate) ApprovalTimeout() time.Duration {
	return g.policy.ApprovalTimeout()
}

// Policy returns the gate's active policy.
func (g *Gate) Policy() config.GateConfig {
	return g.policy
}

func (g *Gate) profileName() string {
	if g.policy.Profile == "" {
		return "normal"
	}
	return g.policy.Profile
}
