package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

func observeN(c *Collector, entries ...*audit.AuditEntry) {
	for _, e := range entries {
		c.Observe(e)
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(16)

	observeN(c,
		&audit.AuditEntry{Command: "ls", RiskLevel: "safe", Decision: audit.DecisionAutoApproved,
			Status: sandbox.StatusCompleted, DurationMS: 4},
		&audit.AuditEntry{Command: "rm -rf /", RiskLevel: "critical", Blocked: true,
			Decision: audit.DecisionNotRequired, Status: sandbox.StatusBlocked},
		&audit.AuditEntry{Command: "rm -rf ./build", RiskLevel: "high",
			Decision: audit.DecisionUserDenied, Status: sandbox.StatusSkipped},
		&audit.AuditEntry{Command: "ls /tmp", RiskLevel: "safe", Decision: audit.DecisionAutoApproved,
			Status: sandbox.StatusCompleted, DurationMS: 2},
	)

	snap := c.Snapshot()
	if snap.TotalCommands != 4 {
		t.Errorf("TotalCommands = %d, want 4", snap.TotalCommands)
	}
	if snap.Blocked != 1 {
		t.Errorf("Blocked = %d, want 1", snap.Blocked)
	}
	if snap.Denied != 1 {
		t.Errorf("Denied = %d, want 1", snap.Denied)
	}
	if snap.ByRiskLevel["safe"] != 2 {
		t.Errorf("ByRiskLevel[safe] = %d, want 2", snap.ByRiskLevel["safe"])
	}
	if snap.ByRiskLevel["critical"] != 1 {
		t.Errorf("ByRiskLevel[critical] = %d, want 1", snap.ByRiskLevel["critical"])
	}
	if snap.ByDecision["auto_approved"] != 2 {
		t.Errorf("ByDecision[auto_approved] = %d, want 2", snap.ByDecision["auto_approved"])
	}
	if snap.ByStatus["completed"] != 2 {
		t.Errorf("ByStatus[completed] = %d, want 2", snap.ByStatus["completed"])
	}
}

func TestCollectorUnclassifiedKey(t *testing.T) {
	c := NewCollector(16)
	c.Observe(&audit.AuditEntry{Command: "true", Decision: audit.DecisionNotRequired, Status: sandbox.StatusSkipped})

	snap := c.Snapshot()
	if snap.ByRiskLevel["unclassified"] != 1 {
		t.Errorf("ByRiskLevel[unclassified] = %d, want 1", snap.ByRiskLevel["unclassified"])
	}
}

func TestCollectorRecentNewestFirst(t *testing.T) {
	c := NewCollector(8)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i, cmd := range []string{"first", "second", "third"} {
		c.Observe(&audit.AuditEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Command:   cmd, RiskLevel: "safe",
			Decision: audit.DecisionAutoApproved, Status: sandbox.StatusCompleted,
		})
	}

	recent := c.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0].Command != "third" || recent[2].Command != "first" {
		t.Errorf("recent order = [%s %s %s], want newest first", recent[0].Command, recent[1].Command, recent[2].Command)
	}

	limited := c.Recent(2)
	if len(limited) != 2 || limited[0].Command != "third" {
		t.Errorf("Recent(2) = %v, want the 2 newest", limited)
	}
}

func TestCollectorRecentBounded(t *testing.T) {
	c := NewCollector(4)
	for i := 0; i < 10; i++ {
		c.Observe(&audit.AuditEntry{Command: "cmd", RiskLevel: "safe",
			Decision: audit.DecisionAutoApproved, Status: sandbox.StatusCompleted})
	}

	snap := c.Snapshot()
	if len(snap.Recent) != 4 {
		t.Errorf("len(Recent) = %d, want ring capacity 4", len(snap.Recent))
	}
	if snap.TotalCommands != 10 {
		t.Errorf("TotalCommands = %d, want 10 despite bounded ring", snap.TotalCommands)
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector(8)
	c.Observe(&audit.AuditEntry{Command: "ls", RiskLevel: "safe",
		Decision: audit.DecisionAutoApproved, Status: sandbox.StatusCompleted})

	c.Reset()
	snap := c.Snapshot()
	if snap.TotalCommands != 0 || len(snap.Recent) != 0 || len(snap.ByRiskLevel) != 0 {
		t.Errorf("Snapshot after Reset = %+v, want zeroed", snap)
	}
}

func TestCollectorSnapshotIsCopy(t *testing.T) {
	c := NewCollector(8)
	c.Observe(&audit.AuditEntry{Command: "ls", RiskLevel: "safe",
		Decision: audit.DecisionAutoApproved, Status: sandbox.StatusCompleted})

	snap := c.Snapshot()
	snap.ByRiskLevel["safe"] = 99

	if got := c.Snapshot().ByRiskLevel["safe"]; got != 1 {
		t.Errorf("ByRiskLevel[safe] = %d after mutating a snapshot, want 1", got)
	}
}

func TestCollectorConcurrentObserve(t *testing.T) {
	c := NewCollector(64)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				c.Observe(&audit.AuditEntry{Command: "ls", RiskLevel: "safe",
					Decision: audit.DecisionAutoApproved, Status: sandbox.StatusCompleted})
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().TotalCommands; got != 2000 {
		t.Errorf("TotalCommands = %d, want 2000", got)
	}
}
