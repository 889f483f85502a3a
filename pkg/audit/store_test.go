package audit

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(config.StorageConfig{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "audit.db"),
	})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedEntries(t *testing.T, store *Store) time.Time {
	t.Helper()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	seed := []*AuditEntry{
		{Timestamp: base.Add(1 * time.Minute), BatchID: "batch-a", Command: "ls", RiskLevel: "safe",
			Decision: DecisionAutoApproved, Status: sandbox.StatusCompleted, ExitCode: intPtr(0), DurationMS: 5},
		{Timestamp: base.Add(2 * time.Minute), BatchID: "batch-a", Command: "rm -rf /", RiskLevel: "critical",
			Pattern: "rm -rf /", Blocked: true, Decision: DecisionNotRequired, Status: sandbox.StatusBlocked,
			Reason: "matches blocked pattern"},
		{Timestamp: base.Add(3 * time.Minute), BatchID: "batch-b", Command: "rm -rf ./build", RiskLevel: "high",
			Pattern: "rm -rf", Decision: DecisionUserDenied, Status: sandbox.StatusSkipped},
		{Timestamp: base.Add(4 * time.Minute), BatchID: "batch-b", Command: "sudo apt update", RiskLevel: "medium",
			Decision: DecisionUserApproved, Status: sandbox.StatusCompleted, ExitCode: intPtr(0), DurationMS: 900},
		{Timestamp: base.Add(5 * time.Minute), BatchID: "batch-c", Command: "sleep 99", RiskLevel: "safe",
			Decision: DecisionAutoApproved, Status: sandbox.StatusTimedOut, DurationMS: 30000, Truncated: true},
	}
	for _, e := range seed {
		if err := store.Record(e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	return base
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	entry := &AuditEntry{
		Timestamp:  time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		BatchID:    "batch-1",
		RequestID:  "req-1",
		Command:    "ls -la",
		RiskLevel:  "safe",
		Decision:   DecisionAutoApproved,
		Status:     sandbox.StatusCompleted,
		ExitCode:   intPtr(0),
		DurationMS: 12,
	}
	if err := store.Record(entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := store.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}

	got := entries[0]
	if got.BatchID != "batch-1" {
		t.Errorf("BatchID = %q, want batch-1", got.BatchID)
	}
	if got.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", got.RequestID)
	}
	if got.Command != "ls -la" {
		t.Errorf("Command = %q, want %q", got.Command, "ls -la")
	}
	if got.RiskLevel != "safe" {
		t.Errorf("RiskLevel = %q, want safe", got.RiskLevel)
	}
	if got.Decision != DecisionAutoApproved {
		t.Errorf("Decision = %q, want %q", got.Decision, DecisionAutoApproved)
	}
	if got.Status != sandbox.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, sandbox.StatusCompleted)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", got.ExitCode)
	}
	if got.DurationMS != 12 {
		t.Errorf("DurationMS = %d, want 12", got.DurationMS)
	}
	if got.Blocked {
		t.Error("Blocked = true, want false")
	}
	if !got.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, entry.Timestamp)
	}
}

func TestStoreQueryFilters(t *testing.T) {
	store := newTestStore(t)
	base := seedEntries(t, store)

	tests := []struct {
		name   string
		filter QueryFilter
		want   int
	}{
		{"no filter", QueryFilter{}, 5},
		{"by batch", QueryFilter{BatchID: "batch-a"}, 2},
		{"by risk level", QueryFilter{RiskLevel: "safe"}, 2},
		{"by decision", QueryFilter{Decision: DecisionUserApproved}, 1},
		{"by status", QueryFilter{Status: sandbox.StatusCompleted}, 2},
		{"blocked only", QueryFilter{BlockedOnly: true}, 1},
		{"since window", QueryFilter{Since: base.Add(4 * time.Minute)}, 2},
		{"until window", QueryFilter{Until: base.Add(2 * time.Minute)}, 1},
		{"limit", QueryFilter{Limit: 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := store.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("len(entries) = %d, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestStoreQueryNewestFirst(t *testing.T) {
	store := newTestStore(t)
	seedEntries(t, store)

	entries, err := store.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("len(entries) = %d, want 5", len(entries))
	}
	if entries[0].Command != "sleep 99" {
		t.Errorf("entries[0].Command = %q, want the newest entry first", entries[0].Command)
	}
	if entries[4].Command != "ls" {
		t.Errorf("entries[4].Command = %q, want the oldest entry last", entries[4].Command)
	}
}

func TestStoreNullExitCode(t *testing.T) {
	store := newTestStore(t)
	seedEntries(t, store)

	entries, err := store.Query(QueryFilter{BlockedOnly: true})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].ExitCode != nil {
		t.Errorf("ExitCode = %v, want nil for a blocked command", *entries[0].ExitCode)
	}
	if entries[0].Reason == "" {
		t.Error("Reason is empty, want the blocking explanation preserved")
	}
}

func TestStoreStats(t *testing.T) {
	store := newTestStore(t)
	seedEntries(t, store)

	stats, err := store.Stats(0)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats["total_entries"].(int) != 5 {
		t.Errorf("total_entries = %v, want 5", stats["total_entries"])
	}
	if stats["blocked_count"].(int) != 1 {
		t.Errorf("blocked_count = %v, want 1", stats["blocked_count"])
	}

	byRisk := stats["by_risk_level"].(map[string]int)
	if byRisk["safe"] != 2 {
		t.Errorf("by_risk_level[safe] = %d, want 2", byRisk["safe"])
	}
	if byRisk["critical"] != 1 {
		t.Errorf("by_risk_level[critical] = %d, want 1", byRisk["critical"])
	}

	byDecision := stats["by_decision"].(map[string]int)
	if byDecision["auto_approved"] != 2 {
		t.Errorf("by_decision[auto_approved] = %d, want 2", byDecision["auto_approved"])
	}

	byStatus := stats["by_status"].(map[string]int)
	if byStatus["completed"] != 2 {
		t.Errorf("by_status[completed] = %d, want 2", byStatus["completed"])
	}
}

func TestStorePurge(t *testing.T) {
	store := newTestStore(t)
	base := seedEntries(t, store)

	purged, err := store.Purge(base.Add(3 * time.Minute))
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if purged != 2 {
		t.Errorf("Purge() = %d, want 2", purged)
	}

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}
}

func TestStoreRejectsUnknownBackend(t *testing.T) {
	_, err := OpenStore(config.StorageConfig{DBType: "oracle"})
	if err == nil {
		t.Fatal("OpenStore() error = nil, want unsupported type error")
	}
}

func TestStoreTypeAndTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenStore(config.StorageConfig{DBType: "sqlite", DBPath: path})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	if store.Type() != DBTypeSQLite {
		t.Errorf("Type() = %s, want %s", store.Type(), DBTypeSQLite)
	}
	if store.Target() != path {
		t.Errorf("Target() = %s, want %s", store.Target(), path)
	}
}

// Opening a database created by an older build must add the columns that
// came later without losing existing rows.
func TestStoreMigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	old, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	ddl := `CREATE TABLE audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		batch_id TEXT NOT NULL,
		command TEXT NOT NULL,
		risk_level TEXT NOT NULL DEFAULT '',
		pattern TEXT NOT NULL DEFAULT '',
		blocked BOOLEAN NOT NULL DEFAULT 0,
		decision TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		truncated BOOLEAN NOT NULL DEFAULT 0
	)`
	if _, err := old.Exec(ddl); err != nil {
		t.Fatalf("Failed to create v1 schema: %v", err)
	}
	_, err = old.Exec(`INSERT INTO audit_entries
		(timestamp, batch_id, command, risk_level, blocked, decision, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Date(2025, 11, 2, 8, 0, 0, 0, time.UTC), "old-batch", "make test", "safe", false,
		string(DecisionAutoApproved), string(sandbox.StatusCompleted))
	if err != nil {
		t.Fatalf("Failed to insert v1 row: %v", err)
	}
	old.Close()

	store, err := OpenStore(config.StorageConfig{DBType: "sqlite", DBPath: path})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	entries, err := store.Query(QueryFilter{BatchID: "old-batch"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Command != "make test" {
		t.Errorf("Command = %q, want %q", entries[0].Command, "make test")
	}
	if entries[0].RequestID != "" {
		t.Errorf("RequestID = %q, want empty for migrated row", entries[0].RequestID)
	}
}

func TestStoreImplementsRecorder(t *testing.T) {
	var _ Recorder = (*Store)(nil)
	var _ Recorder = (*FileRecorder)(nil)
	var _ Recorder = (*MultiRecorder)(nil)
}
