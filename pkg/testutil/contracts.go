// Package testutil provides shared testing utilities: mocks for the
// pipeline's collaborator interfaces, data fixtures, interface contract
// tests, and a terminal simulation harness.
package testutil

import (
	"testing"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// RecorderContractTest validates an audit.Recorder implementation. The
// factory is called per subtest because Close consumes the recorder.
//
// Example:
//
//	func TestFileRecorder_Contract(t *testing.T) {
//	    testutil.RecorderContractTest(t, func(t *testing.T) audit.Recorder {
//	        r, err := audit.NewFileRecorder(filepath.Join(t.TempDir(), "audit.log"))
//	        ...
//	        return r
//	    })
//	}
func RecorderContractTest(t *testing.T, open func(t *testing.T) audit.Recorder) {
	t.Helper()
	fixtures := NewFixtures()

	t.Run("RecordsCompletedEntry", func(t *testing.T) {
		rec := open(t)
		defer rec.Close()
		if err := rec.Record(fixtures.Entry("echo ok", safety.RiskSafe)); err != nil {
			t.Errorf("Record should accept a completed entry: %v", err)
		}
	})

	t.Run("RecordsBlockedEntryWithNilExitCode", func(t *testing.T) {
		rec := open(t)
		defer rec.Close()
		entry := fixtures.Entry("mkfs /dev/sda", safety.RiskCritical,
			WithBlocked("mkfs", "matches blocked pattern"))
		if entry.ExitCode != nil {
			t.Fatal("fixture should carry a nil exit code")
		}
		if err := rec.Record(entry); err != nil {
			t.Errorf("Record should accept a blocked entry: %v", err)
		}
	})

	t.Run("StampsMissingTimestamp", func(t *testing.T) {
		rec := open(t)
		defer rec.Close()
		entry := fixtures.Entry("echo ok", safety.RiskSafe)
		entry.Timestamp = time.Time{}
		if err := rec.Record(entry); err != nil {
			t.Errorf("Record should tolerate a zero timestamp: %v", err)
		}
	})

	t.Run("CloseSucceeds", func(t *testing.T) {
		rec := open(t)
		if err := rec.Close(); err != nil {
			t.Errorf("Close should not error: %v", err)
		}
	})
}

// ConfirmerContractTest validates a pipeline.Confirmer implementation
// against the expected verdict for a high-risk classification.
func ConfirmerContractTest(t *testing.T, c pipeline.Confirmer, wantApproved bool) {
	t.Helper()

	classification := &safety.Classification{
		Level:   safety.RiskHigh,
		Pattern: "rm -rf",
		Reason:  `matches pattern "rm -rf": recursive forced delete`,
	}
	approved, err := c.RequestConfirmation(classification, "rm -rf ./build")
	if err != nil {
		t.Errorf("RequestConfirmation should not error: %v", err)
	}
	if approved != wantApproved {
		t.Errorf("RequestConfirmation = %v, want %v", approved, wantApproved)
	}
}

// AdapterContractTest validates sandbox.Adapter basics that hold for every
// implementation, real or mock.
func AdapterContractTest(t *testing.T, adapter sandbox.Adapter) {
	t.Helper()

	if adapter.Name() == "" {
		t.Error("Name should not be empty")
	}
}
