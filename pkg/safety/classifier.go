// Package safety classifies shell commands by risk level and decides how
// they may proceed. Classification combines a tiered pattern catalog with
// structural analysis of the parsed command line.
package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCommand is returned when a request carries no command text.
var ErrEmptyCommand = errors.New("empty command text")

// RiskLevel orders command danger from harmless to catastrophic.
// Comparisons between levels drive gating decisions.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskSafe:     "safe",
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRiskLevel converts a level name back to its RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return RiskSafe, nil
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	}
	return RiskSafe, fmt.Errorf("unknown risk level %q", s)
}

// MarshalJSON renders the level by name so audit records stay greppable.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	level, err := ParseRiskLevel(name)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// Classification is the result of evaluating one command.
type Classification struct {
	// Level is the assigned risk level.
	Level RiskLevel `json:"level"`

	// Pattern is the matched pattern or structural check, for
	// explainability. Empty when the command classified as Safe.
	Pattern string `json:"pattern,omitempty"`

	// Reason is a human-readable explanation of the assignment.
	Reason string `json:"reason,omitempty"`

	// Blocked is true only for Critical classifications; a blocked
	// command never executes.
	Blocked bool `json:"blocked"`

	// Warnings carries structural observations (pipelines, chained
	// statements, parse fallback) that do not change the level.
	Warnings []string `json:"warnings,omitempty"`
}

// Classifier evaluates commands against the currently published catalog.
type Classifier struct {
	store *CatalogStore
}

// NewClassifier creates a classifier reading from the given catalog store.
func NewClassifier(store *CatalogStore) *Classifier {
	return &Classifier{store: store}
}

// Classify evaluates a command against the current catalog. The catalog is
// loaded once per call, so a concurrent catalog swap never produces a
// mixed-tier result.
func (c *Classifier) Classify(command string) *Classification {
	return Classify(command, c.store.Current())
}

// Classify assigns a risk level to a command using the given catalog.
// It is a pure function of its inputs: identical command text and catalog
// always yield an identical Classification.
//
// Precedence, first match wins: blocked patterns, structural Critical
// checks, then the High, Medium and Low tiers with their own structural
// checks, then Safe. Compound commands inherit the maximum risk of their
// parts because patterns match anywhere in the full text.
func Classify(command string, cat *PatternCatalog) *Classification {
	result := &Classification{Level: RiskSafe}

	if strings.TrimSpace(command) == "" {
		result.Warnings = append(result.Warnings, "empty command text")
		return result
	}

	parsed := ParseCommand(command)
	if parsed.ParseError != nil {
		result.Warnings = append(result.Warnings, "shell parsing failed, classified from raw tokens")
	}
	if parsed.IsPiped {
		result.Warnings = append(result.Warnings, "command contains a pipeline")
	}
	if parsed.IsChained {
		result.Warnings = append(result.Warnings, "command chains multiple statements")
	}

	// Critical tier: catalog blocked patterns first, structural checks
	// second, so a configured pattern is always the one reported.
	if p := cat.MatchTier(RiskCritical, command); p != nil {
		result.Level = RiskCritical
		result.Blocked = true
		result.Pattern = p.Raw
		result.Reason = blockReason(p)
		return result
	}
	if pattern, reason := criticalStructural(parsed); pattern != "" {
		result.Level = RiskCritical
		result.Blocked = true
		result.Pattern = pattern
		result.Reason = reason
		return result
	}

	if p := cat.MatchTier(RiskHigh, command); p != nil {
		result.Level = RiskHigh
		result.Pattern = p.Raw
		result.Reason = matchReason(p)
		return result
	}
	if pattern, reason := highStructural(parsed); pattern != "" {
		result.Level = RiskHigh
		result.Pattern = pattern
		result.Reason = reason
		return result
	}

	if p := cat.MatchTier(RiskMedium, command); p != nil {
		result.Level = RiskMedium
		result.Pattern = p.Raw
		result.Reason = matchReason(p)
		return result
	}

	if p := cat.MatchTier(RiskLow, command); p != nil {
		result.Level = RiskLow
		result.Pattern = p.Raw
		result.Reason = matchReason(p)
		return result
	}

	return result
}

var (
	fetchPrograms = map[string]bool{"curl": true, "wget": true, "fetch": true}
	shellPrograms = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}

	// Writable pseudo-devices that are not raw device access.
	pseudoDevices = map[string]bool{
		"/dev/null":    true,
		"/dev/zero":    true,
		"/dev/stdin":   true,
		"/dev/stdout":  true,
		"/dev/stderr":  true,
		"/dev/random":  true,
		"/dev/urandom": true,
	}

	systemPathPrefixes = []string{"/etc/", "/boot/", "/sys/", "/proc/", "/usr/"}
)

// criticalStructural detects Critical shapes the textual patterns can miss:
// a network fetcher piped into a shell, and output redirected onto a raw
// device node.
func criticalStructural(parsed *ParsedCommand) (pattern, reason string) {
	if parsed.IsPiped {
		fetchAt := -1
		for i, prog := range parsed.Programs {
			base := programBase(prog)
			if fetchPrograms[base] && fetchAt < 0 {
				fetchAt = i
			}
			if shellPrograms[base] && fetchAt >= 0 && i > fetchAt {
				return parsed.Programs[fetchAt] + " | " + prog, "network fetch piped into a shell"
			}
		}
	}

	for _, target := range parsed.RedirectTargets {
		if isRawDevice(target) {
			return "> " + target, "output redirected to raw device " + target
		}
	}
	return "", ""
}

// highStructural detects High shapes: recursive deletion regardless of
// flag spelling, and writes into system configuration paths.
func highStructural(parsed *ParsedCommand) (pattern, reason string) {
	if programBase(parsed.Program) == "rm" &&
		parsed.HasAnyFlag("-r", "-R", "-rf", "-fr", "-Rf", "-fR", "--recursive") {
		return "rm recursive", "recursive file deletion"
	}

	for _, target := range parsed.RedirectTargets {
		for _, prefix := range systemPathPrefixes {
			if strings.HasPrefix(target, prefix) {
				return "> " + target, "output redirected to system path " + target
			}
		}
	}
	return "", ""
}

// programBase strips any directory portion so /usr/bin/curl matches curl.
func programBase(prog string) string {
	if i := strings.LastIndexByte(prog, '/'); i >= 0 {
		return prog[i+1:]
	}
	return prog
}

func isRawDevice(target string) bool {
	if !strings.HasPrefix(target, "/dev/") {
		return false
	}
	if pseudoDevices[target] {
		return false
	}
	rest := strings.TrimPrefix(target, "/dev/")
	if strings.HasPrefix(rest, "tty") || strings.HasPrefix(rest, "pts/") || strings.HasPrefix(rest, "fd/") {
		return false
	}
	return true
}

func blockReason(p *Pattern) string {
	if p.Description != "" {
		return fmt.Sprintf("matches blocked pattern %q: %s", p.Raw, p.Description)
	}
	return fmt.Sprintf("matches blocked pattern %q", p.Raw)
}

func matchReason(p *Pattern) string {
	if p.Description != "" {
		return fmt.Sprintf("matches pattern %q: %s", p.Raw, p.Description)
	}
	return fmt.Sprintf("matches pattern %q", p.Raw)
}
