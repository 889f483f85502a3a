// Package metrics tracks in-process pipeline counters and a bounded window
// of recent executions for the stats endpoint and the web dashboard.
package metrics

import (
	"sync"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
)

// Sample is one finished command kept in the recent-execution ring. Output
// is deliberately not retained here.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command"`
	RiskLevel  string    `json:"risk_level,omitempty"`
	Decision   string    `json:"decision"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Blocked    bool      `json:"blocked,omitempty"`
}

// Snapshot is a point-in-time copy of the collector state.
type Snapshot struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	TotalCommands int64            `json:"total_commands"`
	Blocked       int64            `json:"blocked_commands"`
	Denied        int64            `json:"denied_commands"`
	ByRiskLevel   map[string]int64 `json:"by_risk_level"`
	ByDecision    map[string]int64 `json:"by_decision"`
	ByStatus      map[string]int64 `json:"by_status"`
	Recent        []Sample         `json:"recent"`
}

// Collector accumulates pipeline outcomes. One collector serves all batches;
// the orchestrator feeds it one observation per audit entry.
type Collector struct {
	mu         sync.RWMutex
	started    time.Time
	total      int64
	blocked    int64
	denied     int64
	byRisk     map[string]int64
	byDecision map[string]int64
	byStatus   map[string]int64
	recent     *RingBuffer[Sample]
}

// NewCollector creates a collector keeping recentCapacity samples.
func NewCollector(recentCapacity int) *Collector {
	return &Collector{
		started:    time.Now(),
		byRisk:     make(map[string]int64),
		byDecision: make(map[string]int64),
		byStatus:   make(map[string]int64),
		recent:     NewRingBuffer[Sample](recentCapacity),
	}
}

// Observe records one finished command from its audit entry.
func (c *Collector) Observe(entry *audit.AuditEntry) {
	if entry == nil {
		return
	}

	risk := entry.RiskLevel
	if risk == "" {
		risk = "unclassified"
	}

	c.mu.Lock()
	c.total++
	if entry.Blocked {
		c.blocked++
	}
	if entry.Decision == audit.DecisionUserDenied {
		c.denied++
	}
	c.byRisk[risk]++
	c.byDecision[string(entry.Decision)]++
	c.byStatus[string(entry.Status)]++
	c.mu.Unlock()

	c.recent.Push(Sample{
		Timestamp:  entry.Timestamp,
		Command:    entry.Command,
		RiskLevel:  entry.RiskLevel,
		Decision:   string(entry.Decision),
		Status:     string(entry.Status),
		DurationMS: entry.DurationMS,
		Blocked:    entry.Blocked,
	})
}

// Snapshot copies the counters and the recent window, newest sample first.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		TotalCommands: c.total,
		Blocked:       c.blocked,
		Denied:        c.denied,
		ByRiskLevel:   copyCounts(c.byRisk),
		ByDecision:    copyCounts(c.byDecision),
		ByStatus:      copyCounts(c.byStatus),
	}
	c.mu.RUnlock()

	recent := c.recent.Snapshot()
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	snap.Recent = recent
	return snap
}

// Recent returns up to limit samples, newest first.
func (c *Collector) Recent(limit int) []Sample {
	samples := c.recent.Snapshot()
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return samples
}

// Reset zeroes every counter and drops the recent window.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.started = time.Now()
	c.total = 0
	c.blocked = 0
	c.denied = 0
	c.byRisk = make(map[string]int64)
	c.byDecision = make(map[string]int64)
	c.byStatus = make(map[string]int64)
	c.mu.Unlock()
	c.recent.Clear()
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
