package web

import (
	"errors"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cloudbro-ops/runguard/pkg/log"
	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
)

var (
	// ErrApprovalNotFound means the approval ID is unknown or already expired.
	ErrApprovalNotFound = errors.New("approval not found or expired")
	// ErrApprovalDecided means another operator answered first.
	ErrApprovalDecided = errors.New("approval already decided")
)

// PendingApproval is one gated command parked in the hub until an operator
// decides or the wait expires.
type PendingApproval struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	RiskLevel string    `json:"risk_level"`
	Pattern   string    `json:"pattern,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Response receives the operator decision. Buffered so a decision
	// arriving after expiry never blocks the deciding handler.
	Response chan bool `json:"-"`
}

// approvalEvent is the JSON frame pushed to connected browsers.
type approvalEvent struct {
	Type      string             `json:"type"` // requested, resolved, expired, snapshot
	Approval  *PendingApproval   `json:"approval,omitempty"`
	Approvals []*PendingApproval `json:"approvals,omitempty"`
	ID        string             `json:"id,omitempty"`
	Approved  *bool              `json:"approved,omitempty"`
}

// ApprovalHub parks confirmation requests and pushes them to connected
// operator browsers over websockets. It is the web implementation of the
// pipeline's confirmation callback: a gated command blocks inside
// RequestConfirmation until an operator decides or the wait budget runs out.
type ApprovalHub struct {
	mu      sync.RWMutex
	pending map[string]*PendingApproval

	subMu       sync.Mutex
	subscribers map[*wsSubscriber]struct{}

	// timeout returns the current confirmation wait budget. Read per
	// request so gate policy updates apply to the next gated command.
	timeout func() time.Duration
}

var _ pipeline.Confirmer = (*ApprovalHub)(nil)

// NewApprovalHub creates a hub whose waits are bounded by the duration the
// given function returns.
func NewApprovalHub(timeout func() time.Duration) *ApprovalHub {
	if timeout == nil {
		timeout = func() time.Duration { return 60 * time.Second }
	}
	return &ApprovalHub{
		pending:     make(map[string]*PendingApproval),
		subscribers: make(map[*wsSubscriber]struct{}),
		timeout:     timeout,
	}
}

// RequestConfirmation parks the command in the hub, pushes it to connected
// operators, and blocks until a decision or expiry. Expiry resolves to a
// denial with a timeout error so the audit trail reflects what happened.
func (h *ApprovalHub) RequestConfirmation(c *safety.Classification, commandText string) (bool, error) {
	wait := h.timeout()

	approval := &PendingApproval{
		ID:        uuid.NewString(),
		Command:   commandText,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(wait),
		Response:  make(chan bool, 1),
	}
	if c != nil {
		approval.RiskLevel = c.Level.String()
		approval.Pattern = c.Pattern
		approval.Reason = c.Reason
		approval.Warnings = c.Warnings
	}

	h.mu.Lock()
	h.pending[approval.ID] = approval
	h.mu.Unlock()

	h.broadcast(approvalEvent{Type: "requested", Approval: approval})
	log.Infof("Approval %s pending: %s (%s)", approval.ID, truncateCommand(commandText), approval.RiskLevel)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case approved := <-approval.Response:
		h.remove(approval.ID)
		h.broadcast(approvalEvent{Type: "resolved", ID: approval.ID, Approved: &approved})
		return approved, nil

	case <-timer.C:
		h.remove(approval.ID)
		h.broadcast(approvalEvent{Type: "expired", ID: approval.ID})
		log.Warnf("Approval %s expired after %v", approval.ID, wait)
		return false, pipeline.ErrConfirmationTimeout
	}
}

func (h *ApprovalHub) remove(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// Pending returns the parked approvals, oldest first.
func (h *ApprovalHub) Pending() []*PendingApproval {
	h.mu.RLock()
	out := make([]*PendingApproval, 0, len(h.pending))
	for _, a := range h.pending {
		out = append(out, a)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Resolve delivers an operator decision to a waiting command.
func (h *ApprovalHub) Resolve(id string, approved bool) error {
	h.mu.RLock()
	approval, exists := h.pending[id]
	h.mu.RUnlock()

	if !exists {
		return ErrApprovalNotFound
	}

	// Non-blocking send: the buffered channel holds exactly one decision.
	select {
	case approval.Response <- approved:
		return nil
	default:
		return ErrApprovalDecided
	}
}

// wsSubscriber is one connected browser. Writes are serialized per
// connection because gorilla/websocket allows only one concurrent writer.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) send(event approvalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}

// wsAllowedOrigins lists origins permitted to open approval sockets.
var wsAllowedOrigins = approvalSocketOrigins()

func approvalSocketOrigins() []string {
	if origins := os.Getenv("RUNGUARD_WS_ALLOWED_ORIGINS"); origins != "" {
		return strings.Split(origins, ",")
	}
	// Default: allow localhost for development
	return []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"}
}

// checkSocketOrigin validates the websocket origin against the allowed list
func checkSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // same-origin requests carry no Origin header
	}

	// Exact host match to prevent subdomain bypass
	for _, allowed := range wsAllowedOrigins {
		if origin == allowed || strings.HasPrefix(origin, allowed+":") || strings.HasPrefix(origin, allowed+"/") {
			return true
		}
	}
	return false
}

var approvalUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkSocketOrigin,
}

// HandleSocket upgrades the connection and streams approval events. The
// first frame is a snapshot of everything currently pending; decisions
// still arrive over the REST endpoint.
func (h *ApprovalHub) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := approvalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := &wsSubscriber{conn: conn}
	h.subMu.Lock()
	h.subscribers[sub] = struct{}{}
	h.subMu.Unlock()

	if err := sub.send(approvalEvent{Type: "snapshot", Approvals: h.Pending()}); err != nil {
		h.dropSubscriber(sub)
		return
	}

	// Drain inbound frames to detect disconnects; the socket is push-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.dropSubscriber(sub)
}

func (h *ApprovalHub) dropSubscriber(sub *wsSubscriber) {
	h.subMu.Lock()
	delete(h.subscribers, sub)
	h.subMu.Unlock()
	sub.conn.Close()
}

// SubscriberCount returns the number of connected browsers.
func (h *ApprovalHub) SubscriberCount() int {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	return len(h.subscribers)
}

func (h *ApprovalHub) broadcast(event approvalEvent) {
	h.subMu.Lock()
	subs := make([]*wsSubscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subMu.Unlock()

	for _, sub := range subs {
		if err := sub.send(event); err != nil {
			h.dropSubscriber(sub)
		}
	}
}

// truncateCommand keeps log lines readable for long command text.
func truncateCommand(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
