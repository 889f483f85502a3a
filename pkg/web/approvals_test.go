package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
)

func fixedTimeout(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

type confirmResult struct {
	approved bool
	err      error
}

// waitForPending polls until the hub has a parked approval.
func waitForPending(t *testing.T, hub *ApprovalHub) *PendingApproval {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pending := hub.Pending(); len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no approval appeared in the hub")
	return nil
}

func TestApprovalHubApproveFlow(t *testing.T) {
	hub := NewApprovalHub(fixedTimeout(5 * time.Second))

	done := make(chan confirmResult, 1)
	go func() {
		approved, err := hub.RequestConfirmation(&safety.Classification{
			Level:   safety.RiskHigh,
			Pattern: "mkfs",
			Reason:  "filesystem format",
		}, "mkfs.ext4 /dev/sdb1")
		done <- confirmResult{approved, err}
	}()

	approval := waitForPending(t, hub)
	if approval.Command != "mkfs.ext4 /dev/sdb1" {
		t.Errorf("Command = %q, want %q", approval.Command, "mkfs.ext4 /dev/sdb1")
	}
	if approval.RiskLevel != "high" {
		t.Errorf("RiskLevel = %q, want %q", approval.RiskLevel, "high")
	}

	if err := hub.Resolve(approval.ID, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("RequestConfirmation: %v", res.err)
		}
		if !res.approved {
			t.Error("approved = false, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation did not resolve")
	}

	if n := len(hub.Pending()); n != 0 {
		t.Errorf("len(Pending) = %d, want 0 after resolution", n)
	}
}

func TestApprovalHubDenyFlow(t *testing.T) {
	hub := NewApprovalHub(fixedTimeout(5 * time.Second))

	done := make(chan confirmResult, 1)
	go func() {
		approved, err := hub.RequestConfirmation(&safety.Classification{Level: safety.RiskHigh}, "systemctl stop nginx")
		done <- confirmResult{approved, err}
	}()

	approval := waitForPending(t, hub)
	if err := hub.Resolve(approval.ID, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("RequestConfirmation: %v", res.err)
		}
		if res.approved {
			t.Error("approved = true, want false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation did not resolve")
	}
}

func TestApprovalHubTimeout(t *testing.T) {
	hub := NewApprovalHub(fixedTimeout(50 * time.Millisecond))

	approved, err := hub.RequestConfirmation(&safety.Classification{Level: safety.RiskHigh}, "dd if=/dev/zero of=/dev/sda")
	if approved {
		t.Error("approved = true, want false on expiry")
	}
	if !errors.Is(err, pipeline.ErrConfirmationTimeout) {
		t.Errorf("err = %v, want ErrConfirmationTimeout", err)
	}
	if n := len(hub.Pending()); n != 0 {
		t.Errorf("len(Pending) = %d, want 0 after expiry", n)
	}
}

func TestApprovalHubNilClassification(t *testing.T) {
	hub := NewApprovalHub(fixedTimeout(30 * time.Millisecond))

	// A missing classification still parks and expires cleanly.
	approved, err := hub.RequestConfirmation(nil, "echo hello")
	if approved {
		t.Error("approved = true, want false")
	}
	if !errors.Is(err, pipeline.ErrConfirmationTimeout) {
		t.Errorf("err = %v, want ErrConfirmationTimeout", err)
	}
}

func TestApprovalHubResolveUnknownID(t *testing.T) {
	hub := NewApprovalHub(nil)

	if err := hub.Resolve("no-such-id", true); !errors.Is(err, ErrApprovalNotFound) {
		t.Errorf("err = %v, want ErrApprovalNotFound", err)
	}
}

func TestApprovalHubResolveTwice(t *testing.T) {
	hub := NewApprovalHub(nil)

	approval := &PendingApproval{
		ID:        "double-decide",
		Command:   "echo hi",
		CreatedAt: time.Now(),
		Response:  make(chan bool, 1),
	}
	hub.mu.Lock()
	hub.pending[approval.ID] = approval
	hub.mu.Unlock()

	if err := hub.Resolve(approval.ID, true); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if err := hub.Resolve(approval.ID, false); !errors.Is(err, ErrApprovalDecided) {
		t.Errorf("second Resolve err = %v, want ErrApprovalDecided", err)
	}
}

func TestApprovalHubPendingOldestFirst(t *testing.T) {
	hub := NewApprovalHub(nil)

	now := time.Now()
	for i, age := range []time.Duration{3 * time.Second, 1 * time.Second, 2 * time.Second} {
		approval := &PendingApproval{
			ID:        []string{"a", "b", "c"}[i],
			CreatedAt: now.Add(-age),
			Response:  make(chan bool, 1),
		}
		hub.mu.Lock()
		hub.pending[approval.ID] = approval
		hub.mu.Unlock()
	}

	pending := hub.Pending()
	if len(pending) != 3 {
		t.Fatalf("len(Pending) = %d, want 3", len(pending))
	}
	want := []string{"a", "c", "b"}
	for i, p := range pending {
		if p.ID != want[i] {
			t.Errorf("Pending[%d].ID = %q, want %q", i, p.ID, want[i])
		}
	}
}

func TestApprovalSocketStreamsEvents(t *testing.T) {
	hub := NewApprovalHub(fixedTimeout(5 * time.Second))

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	// First frame is always the snapshot
	var event approvalEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if event.Type != "snapshot" {
		t.Fatalf("first frame type = %q, want %q", event.Type, "snapshot")
	}
	if hub.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", hub.SubscriberCount())
	}

	// A new request is pushed live
	go func() {
		_, _ = hub.RequestConfirmation(&safety.Classification{Level: safety.RiskHigh}, "systemctl stop nginx")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading requested event: %v", err)
	}
	if event.Type != "requested" {
		t.Fatalf("frame type = %q, want %q", event.Type, "requested")
	}
	if event.Approval == nil || event.Approval.Command != "systemctl stop nginx" {
		t.Fatalf("Approval = %+v, want the submitted command", event.Approval)
	}

	// Deciding produces a resolved frame and unblocks the waiter
	if err := hub.Resolve(event.Approval.ID, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading resolved event: %v", err)
	}
	if event.Type != "resolved" {
		t.Errorf("frame type = %q, want %q", event.Type, "resolved")
	}
	if event.Approved == nil || *event.Approved {
		t.Errorf("Approved = %v, want false", event.Approved)
	}
}

func TestCheckSocketOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8080", true},
		{"https://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"http://evil.example.com", false},
		{"http://localhost.evil.com", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/approvals/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkSocketOrigin(r); got != tt.want {
			t.Errorf("checkSocketOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestTruncateCommand(t *testing.T) {
	if got := truncateCommand("echo hi"); got != "echo hi" {
		t.Errorf("truncateCommand short = %q", got)
	}

	long := strings.Repeat("x", 200)
	got := truncateCommand(long)
	if len(got) != 123 {
		t.Errorf("len(truncated) = %d, want 123", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated command should end in ellipsis")
	}
}
