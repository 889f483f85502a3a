package safety

import (
	"regexp"
	"strings"

	yamlv2 "gopkg.in/yaml.v2"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
)

// Pattern is one catalog entry. Literal patterns match as case-insensitive
// substrings; regex patterns are compiled with case folding enabled.
type Pattern struct {
	Raw         string `json:"pattern"`
	IsRegex     bool   `json:"regex,omitempty"`
	Description string `json:"description,omitempty"`

	re      *regexp.Regexp
	lowered string
}

func newPattern(entry config.PatternEntry) (Pattern, error) {
	p := Pattern{
		Raw:         entry.Pattern,
		IsRegex:     entry.Regex,
		Description: entry.Description,
	}
	if entry.Regex {
		re, err := regexp.Compile("(?i)" + entry.Pattern)
		if err != nil {
			return Pattern{}, err
		}
		p.re = re
	} else {
		p.lowered = strings.ToLower(entry.Pattern)
	}
	return p, nil
}

// Match reports whether the pattern matches the command. The caller supplies
// the pre-lowered command text so literal matching does not re-fold the
// string for every pattern in the catalog.
func (p *Pattern) Match(cmd, cmdLower string) bool {
	if p.re != nil {
		return p.re.MatchString(cmd)
	}
	return strings.Contains(cmdLower, p.lowered)
}

// PatternCatalog holds the risk pattern tiers in their evaluation order.
// A catalog is immutable after construction; runtime updates publish a new
// catalog through a CatalogStore rather than mutating this one.
type PatternCatalog struct {
	Blocked []Pattern `json:"blocked"`
	High    []Pattern `json:"high"`
	Medium  []Pattern `json:"medium"`
	Low     []Pattern `json:"low"`
}

// Match returns the first matching pattern in tier precedence order
// (Blocked, then High, Medium, Low) along with the risk level it implies.
// Iteration order is the slice order, so identical input always reports
// the same pattern.
func (c *PatternCatalog) Match(cmd string) (RiskLevel, *Pattern) {
	cmdLower := strings.ToLower(cmd)

	tiers := []struct {
		level    RiskLevel
		patterns []Pattern
	}{
		{RiskCritical, c.Blocked},
		{RiskHigh, c.High},
		{RiskMedium, c.Medium},
		{RiskLow, c.Low},
	}

	for _, tier := range tiers {
		for i := range tier.patterns {
			if tier.patterns[i].Match(cmd, cmdLower) {
				return tier.level, &tier.patterns[i]
			}
		}
	}
	return RiskSafe, nil
}

// MatchTier checks a single tier without the precedence walk.
func (c *PatternCatalog) MatchTier(level RiskLevel, cmd string) *Pattern {
	cmdLower := strings.ToLower(cmd)
	var patterns []Pattern
	switch level {
	case RiskCritical:
		patterns = c.Blocked
	case RiskHigh:
		patterns = c.High
	case RiskMedium:
		patterns = c.Medium
	case RiskLow:
		patterns = c.Low
	default:
		return nil
	}
	for i := range patterns {
		if patterns[i].Match(cmd, cmdLower) {
			return &patterns[i]
		}
	}
	return nil
}

// Size returns the total number of compiled patterns across all tiers.
func (c *PatternCatalog) Size() int {
	return len(c.Blocked) + len(c.High) + len(c.Medium) + len(c.Low)
}

// ExportYAML renders the catalog as YAML with tiers in evaluation order.
// yaml.v2 MapSlice keeps the tier and entry ordering stable; a plain map
// would alphabetize the tiers and hide the precedence that matters here.
func (c *PatternCatalog) ExportYAML() ([]byte, error) {
	tierDoc := func(patterns []Pattern) []yamlv2.MapSlice {
		out := make([]yamlv2.MapSlice, 0, len(patterns))
		for _, p := range patterns {
			entry := yamlv2.MapSlice{
				{Key: "pattern", Value: p.Raw},
			}
			if p.IsRegex {
				entry = append(entry, yamlv2.MapItem{Key: "regex", Value: true})
			}
			if p.Description != "" {
				entry = append(entry, yamlv2.MapItem{Key: "description", Value: p.Description})
			}
			out = append(out, entry)
		}
		return out
	}

	doc := yamlv2.MapSlice{
		{Key: "blocked", Value: tierDoc(c.Blocked)},
		{Key: "high", Value: tierDoc(c.High)},
		{Key: "medium", Value: tierDoc(c.Medium)},
		{Key: "low", Value: tierDoc(c.Low)},
	}
	return yamlv2.Marshal(doc)
}

// BuildCatalog compiles a catalog from configuration. Unless defaults are
// disabled, the built-in patterns come first and configured entries append
// after them, so built-in precedence is preserved. Entries that fail to
// compile are skipped with a warning rather than failing the whole load.
func BuildCatalog(cfg config.CatalogConfig) *PatternCatalog {
	cat := &PatternCatalog{}

	appendTier := func(dst []Pattern, entries []config.PatternEntry) []Pattern {
		for _, entry := range entries {
			p, err := newPattern(entry)
			if err != nil {
				log.Warnf("Skipping invalid catalog pattern %q: %v", entry.Pattern, err)
				continue
			}
			dst = append(dst, p)
		}
		return dst
	}

	if !cfg.DisableDefaults {
		cat.Blocked = appendTier(cat.Blocked, defaultBlockedPatterns)
		cat.High = appendTier(cat.High, defaultHighPatterns)
		cat.Medium = appendTier(cat.Medium, defaultMediumPatterns)
		cat.Low = appendTier(cat.Low, defaultLowPatterns)
	}

	cat.Blocked = appendTier(cat.Blocked, cfg.Blocked)
	cat.High = appendTier(cat.High, cfg.High)
	cat.Medium = appendTier(cat.Medium, cfg.Medium)
	cat.Low = appendTier(cat.Low, cfg.Low)

	return cat
}

// DefaultCatalog returns a catalog holding only the built-in patterns.
func DefaultCatalog() *PatternCatalog {
	return BuildCatalog(config.CatalogConfig{})
}

// Built-in pattern tiers. Order within a tier is the reporting order when
// several patterns match the same command.
var (
	defaultBlockedPatterns = []config.PatternEntry{
		{Pattern: `rm\s+-(rf|fr)\b\s*/(\s|$)`, Regex: true, Description: "recursive delete of filesystem root"},
		{Pattern: "--no-preserve-root", Description: "root deletion safety override"},
		{Pattern: "mkfs", Description: "filesystem creation destroys existing data"},
		{Pattern: "dd if=", Description: "raw disk copy"},
		{Pattern: `(^|[;&|]\s*)format\s+[a-z]:`, Regex: true, Description: "disk format"},
		{Pattern: ":(){", Description: "fork bomb"},
		{Pattern: `\w+\(\)\s*\{\s*\w+\s*\|\s*\w+\s*&\s*\}\s*;\s*\w+`, Regex: true, Description: "fork bomb with renamed function"},
		{Pattern: `curl\s[^|;&]*\|\s*(ba|z|da)?sh\b`, Regex: true, Description: "network fetch piped to shell"},
		{Pattern: `wget\s[^|;&]*\|\s*(ba|z|da)?sh\b`, Regex: true, Description: "network fetch piped to shell"},
		{Pattern: `>\s*/dev/(sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d+n\d+|mmcblk\d+|loop\d+|dm-\d+)`, Regex: true, Description: "write redirected to raw block device"},
	}

	defaultHighPatterns = []config.PatternEntry{
		{Pattern: "rm -rf", Description: "recursive forced delete"},
		{Pattern: "rm -fr", Description: "recursive forced delete"},
		{Pattern: "rm -r ", Description: "recursive delete"},
		{Pattern: "rm --recursive", Description: "recursive delete"},
		{Pattern: "rmdir /s", Description: "recursive directory delete"},
		{Pattern: "del /f", Description: "forced file delete"},
		{Pattern: "kill -9", Description: "forced process kill"},
		{Pattern: "killall", Description: "kill processes by name"},
		{Pattern: "DROP TABLE", Description: "destructive database statement"},
		{Pattern: "DROP DATABASE", Description: "destructive database statement"},
		{Pattern: "TRUNCATE TABLE", Description: "destructive database statement"},
		{Pattern: "shred ", Description: "unrecoverable file overwrite"},
	}

	defaultMediumPatterns = []config.PatternEntry{
		{Pattern: `\bsudo\b`, Regex: true, Description: "privilege escalation"},
		{Pattern: `\bdoas\b`, Regex: true, Description: "privilege escalation"},
		{Pattern: "chmod 777", Description: "world-writable permissions"},
		{Pattern: "chmod -R", Description: "recursive permission change"},
		{Pattern: "chown -R", Description: "recursive ownership change"},
		{Pattern: "systemctl stop", Description: "service control"},
		{Pattern: "systemctl restart", Description: "service control"},
		{Pattern: "systemctl disable", Description: "service control"},
		{Pattern: `(^|[;&|]\s*)service\s+\S+\s+(start|stop|restart)`, Regex: true, Description: "service control"},
	}

	defaultLowPatterns = []config.PatternEntry{
		{Pattern: "tee ", Description: "writes to files"},
		{Pattern: "touch ", Description: "creates files"},
		{Pattern: "mkdir", Description: "creates directories"},
		{Pattern: "cp ", Description: "copies files"},
		{Pattern: "mv ", Description: "moves files"},
		{Pattern: ">>", Description: "append redirect"},
		{Pattern: ">", Description: "write redirect"},
	}
)
