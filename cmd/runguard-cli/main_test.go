package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

func TestVersionDefaults(t *testing.T) {
	if Version != "dev" {
		t.Errorf("Version = %q, want %q", Version, "dev")
	}
	if BuildTime != "unknown" {
		t.Errorf("BuildTime = %q, want %q", BuildTime, "unknown")
	}
	if GitCommit != "unknown" {
		t.Errorf("GitCommit = %q, want %q", GitCommit, "unknown")
	}
}

func TestEnvDefault(t *testing.T) {
	t.Setenv("RUNGUARD_TEST_KEY", "from-env")
	if got := envDefault("RUNGUARD_TEST_KEY", "fallback"); got != "from-env" {
		t.Errorf("envDefault = %q, want %q", got, "from-env")
	}
	if got := envDefault("RUNGUARD_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("envDefault = %q, want %q", got, "fallback")
	}
}

func TestLoadBatchFromArgs(t *testing.T) {
	requests, err := loadBatch([]string{"echo hi", "  ", "ls -la"}, "")
	if err != nil {
		t.Fatalf("loadBatch: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("len(requests) = %d, want 2", len(requests))
	}
	if requests[0].Command != "echo hi" {
		t.Errorf("requests[0].Command = %q, want %q", requests[0].Command, "echo hi")
	}
	if requests[1].Command != "ls -la" {
		t.Errorf("requests[1].Command = %q, want %q", requests[1].Command, "ls -la")
	}
}

func TestLoadBatchRejectsBothSources(t *testing.T) {
	if _, err := loadBatch([]string{"echo hi"}, "batch.json"); err == nil {
		t.Error("loadBatch accepted both arguments and a batch file")
	}
}

func writeBatchFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadBatchArrayFile(t *testing.T) {
	// Arrays may mix bare command strings with request objects.
	path := writeBatchFile(t, `["echo hi", {"id": "r2", "command": "ls", "workdir": "/tmp"}]`)
	requests, err := loadBatch(nil, path)
	if err != nil {
		t.Fatalf("loadBatch: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("len(requests) = %d, want 2", len(requests))
	}
	if requests[0].Command != "echo hi" {
		t.Errorf("requests[0].Command = %q, want %q", requests[0].Command, "echo hi")
	}
	if requests[1].ID != "r2" || requests[1].Command != "ls" || requests[1].WorkDir != "/tmp" {
		t.Errorf("requests[1] = %+v, want id r2, command ls, workdir /tmp", requests[1])
	}
}

func TestLoadBatchObjectFile(t *testing.T) {
	path := writeBatchFile(t, `{"commands": ["echo hi", {"command": "pwd"}]}`)
	requests, err := loadBatch(nil, path)
	if err != nil {
		t.Fatalf("loadBatch: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("len(requests) = %d, want 2", len(requests))
	}
	if requests[1].Command != "pwd" {
		t.Errorf("requests[1].Command = %q, want %q", requests[1].Command, "pwd")
	}
}

func TestLoadBatchBadJSON(t *testing.T) {
	path := writeBatchFile(t, `this is not json`)
	if _, err := loadBatch(nil, path); err == nil {
		t.Error("loadBatch accepted malformed JSON")
	}
}

func TestLoadBatchMissingFile(t *testing.T) {
	if _, err := loadBatch(nil, filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("loadBatch accepted a missing file")
	}
}

func sampleResult() *pipeline.BatchResult {
	zero := 0
	return &pipeline.BatchResult{
		BatchID: "b-1",
		Status:  pipeline.BatchPartialFailure,
		Outcomes: []pipeline.CommandOutcome{
			{
				Request: pipeline.CommandRequest{Command: "echo hi"},
				Classification: &safety.Classification{
					Level: safety.RiskSafe,
				},
				Decision: audit.DecisionAutoApproved,
				Result: sandbox.ExecutionResult{
					Status:   sandbox.StatusCompleted,
					ExitCode: &zero,
					Stdout:   "hi\n",
					Duration: 12 * time.Millisecond,
				},
			},
			{
				Request: pipeline.CommandRequest{Command: "systemctl stop nginx"},
				Classification: &safety.Classification{
					Level:  safety.RiskHigh,
					Reason: "service control",
				},
				Decision: audit.DecisionUserDenied,
				Result:   sandbox.SkippedResult("denied by operator"),
			},
		},
		DurationMS: 42,
	}
}

func TestPrintResultTable(t *testing.T) {
	var buf bytes.Buffer
	if err := printResult(&buf, sampleResult(), "table"); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"RISK", "DECISION", "STATUS",
		"echo hi", "safe", "auto_approved", "completed",
		"systemctl stop nginx", "high", "user_denied", "skipped",
		"--- 1: echo hi", "hi\n",
		"batch b-1: partial_failure in 42ms",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	// The skipped command produced no output, so no echo section for it.
	if strings.Contains(out, "--- 2:") {
		t.Errorf("table output has an echo section for a command without output:\n%s", out)
	}
}

func TestPrintResultJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printResult(&buf, sampleResult(), "json"); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["batch_id"] != "b-1" {
		t.Errorf("batch_id = %v, want b-1", decoded["batch_id"])
	}
	if decoded["status"] != string(pipeline.BatchPartialFailure) {
		t.Errorf("status = %v, want %v", decoded["status"], pipeline.BatchPartialFailure)
	}
	outcomes, ok := decoded["outcomes"].([]interface{})
	if !ok || len(outcomes) != 2 {
		t.Errorf("outcomes = %v, want 2 entries", decoded["outcomes"])
	}
}

func TestPrintResultYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := printResult(&buf, sampleResult(), "yaml"); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "batch_id: b-1") {
		t.Errorf("yaml output missing batch_id:\n%s", out)
	}
	if !strings.Contains(out, "status: partial_failure") {
		t.Errorf("yaml output missing status:\n%s", out)
	}
}

func TestPrintResultUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := printResult(&buf, sampleResult(), "xml"); err == nil {
		t.Error("printResult accepted an unknown format")
	}
}

func TestPrintAuditTable(t *testing.T) {
	three := 3
	entries := []audit.AuditEntry{
		{
			Timestamp: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
			BatchID:   "d6b9f2a1-0000-0000-0000-000000000000",
			Command:   "rm -rf /tmp/scratch",
			RiskLevel: "high",
			Decision:  audit.DecisionUserApproved,
			Status:    sandbox.StatusCompleted,
			ExitCode:  &three,
		},
		{
			Timestamp: time.Date(2026, 2, 10, 9, 1, 0, 0, time.UTC),
			BatchID:   "d6b9f2a1-0000-0000-0000-000000000000",
			Command:   "mkfs.ext4 /dev/sdb1",
			RiskLevel: "critical",
			Decision:  audit.DecisionNotRequired,
			Status:    sandbox.StatusBlocked,
		},
	}

	var buf bytes.Buffer
	printAuditTable(&buf, entries)
	out := buf.String()

	for _, want := range []string{
		"TIME", "RISK", "COMMAND",
		"d6b9f2a1", "rm -rf /tmp/scratch", "user_approved", "3",
		"mkfs.ext4 /dev/sdb1", "not_required", "blocked", "-",
		"2 entries",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("audit table missing %q:\n%s", want, out)
		}
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"d6b9f2a1-4c3e-4f7a-9b21-8a6f0e5d1c2b", "d6b9f2a1"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
