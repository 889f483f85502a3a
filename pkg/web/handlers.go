package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version := "dev"
	if s.version != nil && s.version.Version != "" {
		version = s.version.Version
	}

	status := map[string]interface{}{
		"status":              "ok",
		"timestamp":           time.Now(),
		"auth_enabled":        s.auth.Enabled(),
		"auth_mode":           s.auth.Mode(),
		"store_ready":         s.store != nil,
		"pending_approvals":   len(s.hub.Pending()),
		"operators_connected": s.hub.SubscriberCount(),
		"version":             version,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"version":    "dev",
		"build_time": "unknown",
		"git_commit": "unknown",
	}

	if s.version != nil {
		if s.version.Version != "" {
			info["version"] = s.version.Version
		}
		if s.version.BuildTime != "" {
			info["build_time"] = s.version.BuildTime
		}
		if s.version.GitCommit != "" {
			info["git_commit"] = s.version.GitCommit
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

// handleListApprovals returns the commands currently waiting for a decision.
func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}

	approvals := s.hub.Pending()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"approvals": approvals,
		"total":     len(approvals),
	})
}

// handleDecideApproval delivers an operator decision to a waiting command.
// Viewers cannot decide.
func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}

	role := r.Header.Get("X-User-Role")
	if role != "admin" && role != "operator" {
		Forbidden(w, "Deciding approvals requires the operator or admin role")
		return
	}

	var req struct {
		ID       string `json:"id"`
		Approved bool   `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewAPIError(ErrCodeBadRequest, "Invalid request body"))
		return
	}

	switch err := s.hub.Resolve(req.ID, req.Approved); err {
	case nil:
		log.Infof("Approval %s %s by %s", req.ID,
			map[bool]string{true: "approved", false: "denied"}[req.Approved],
			r.Header.Get("X-Username"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	case ErrApprovalNotFound:
		WriteError(w, NewAPIError(ErrCodeNotFound, "Approval not found or expired"))
	case ErrApprovalDecided:
		WriteError(w, NewAPIError(ErrCodeConflict, "Approval already decided"))
	default:
		WriteError(w, NewAPIError(ErrCodeInternalError, err.Error()))
	}
}

// handleApprovalSocket streams approval events to the browser.
func (s *Server) handleApprovalSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleSocket(w, r)
}

// handleAuditQuery serves filtered audit history from the store.
// Filters: batch_id, risk_level, decision, status, blocked, since, until,
// limit. Times are RFC 3339.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		WriteErrorSimple(w, http.StatusServiceUnavailable, "Audit store is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.QueryFilter{
		BatchID:     q.Get("batch_id"),
		RiskLevel:   q.Get("risk_level"),
		Decision:    audit.Decision(q.Get("decision")),
		Status:      sandbox.ExecutionStatus(q.Get("status")),
		BlockedOnly: q.Get("blocked") == "true",
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			BadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "until must be an RFC 3339 timestamp")
			return
		}
		filter.Until = t
	}

	entries, err := s.store.Query(filter)
	if err != nil {
		WriteError(w, NewAPIError(ErrCodeDatabaseError, err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// handleStats merges the in-process pipeline counters with the store's
// trailing-window aggregates.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			days = parsed
		}
	}

	resp := map[string]interface{}{}
	if s.collector != nil {
		resp["pipeline"] = s.collector.Snapshot()
	}
	if s.store != nil {
		stats, err := s.store.Stats(days)
		if err != nil {
			log.Warnf("Audit store stats failed: %v", err)
		} else {
			resp["store"] = stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePolicy handles GET/PUT for the gate policy.
// GET returns the active policy; PUT (admin-only) updates it, persists the
// config file, and applies to the next gated command.
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		policy := s.gatePolicy()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(policy)

	case http.MethodPut:
		if r.Header.Get("X-User-Role") != "admin" {
			Forbidden(w, "Updating the gate policy requires the admin role")
			return
		}

		var policy config.GateConfig
		if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
			BadRequest(w, "Invalid request body")
			return
		}

		// Keep the wait budget within sane bounds
		if policy.ApprovalTimeoutSeconds <= 0 {
			policy.ApprovalTimeoutSeconds = 60
		}
		if policy.ApprovalTimeoutSeconds > 600 {
			policy.ApprovalTimeoutSeconds = 600
		}

		if policy.Profile == "" {
			policy.Profile = "normal"
		}
		if policy.Profile != "normal" && policy.Profile != "paranoid" {
			BadRequest(w, "Profile must be normal or paranoid")
			return
		}

		s.cfgMu.Lock()
		s.cfg.Gate = policy
		s.cfgMu.Unlock()

		if s.persist {
			if err := s.cfg.Save(); err != nil {
				log.Warnf("Failed to persist gate policy: %v", err)
			}
		}

		log.Infof("Gate policy updated by %s: profile=%s confirmation=%v timeout=%ds",
			r.Header.Get("X-Username"), policy.Profile, policy.ConfirmationMode, policy.ApprovalTimeoutSeconds)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "saved"})

	default:
		MethodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// handleCatalog handles GET/PUT for the risk pattern catalog.
// GET exports the active tiers; PUT (admin-only) rebuilds the catalog from
// the posted configuration and atomically swaps it in.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.catalog.Current())

	case http.MethodPut:
		if r.Header.Get("X-User-Role") != "admin" {
			Forbidden(w, "Updating the catalog requires the admin role")
			return
		}

		var catalogCfg config.CatalogConfig
		if err := json.NewDecoder(r.Body).Decode(&catalogCfg); err != nil {
			BadRequest(w, "Invalid request body")
			return
		}

		cat := safety.BuildCatalog(catalogCfg)
		s.catalog.Swap(cat)

		s.cfgMu.Lock()
		s.cfg.Catalog = catalogCfg
		s.cfgMu.Unlock()
		if s.persist {
			if err := s.cfg.Save(); err != nil {
				log.Warnf("Failed to persist catalog: %v", err)
			}
		}

		log.Infof("Catalog updated by %s: %d patterns active", r.Header.Get("X-Username"), cat.Size())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "saved",
			"patterns": cat.Size(),
		})

	default:
		MethodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// handleCatalogReload rebuilds the catalog from the config file on disk.
// Classifiers running mid-batch keep the catalog they started with.
func (s *Server) handleCatalogReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}

	fresh, err := config.LoadConfig()
	if err != nil {
		InternalError(w, "Reloading configuration failed: "+err.Error())
		return
	}

	cat := safety.BuildCatalog(fresh.Catalog)
	s.catalog.Swap(cat)

	s.cfgMu.Lock()
	s.cfg.Catalog = fresh.Catalog
	s.cfgMu.Unlock()

	log.Infof("Catalog reloaded from disk by %s: %d patterns active", r.Header.Get("X-Username"), cat.Size())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "reloaded",
		"patterns": cat.Size(),
	})
}

// BatchRequest submits commands for gated execution. Commands accept the
// same forms as batch files: bare strings or objects with id and work_dir.
type BatchRequest struct {
	Commands []pipeline.CommandRequest `json:"commands"`
	Mode     string                    `json:"mode,omitempty"`
}

// handleRunBatch executes a submitted batch through the pipeline. Gated
// commands park in the approval hub, so a batch can block on this endpoint
// until operators decide or waits expire.
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}
	role := r.Header.Get("X-User-Role")
	if role != "admin" && role != "operator" {
		Forbidden(w, "Submitting batches requires the operator or admin role")
		return
	}
	if s.executor == nil || s.recorder == nil {
		WriteErrorSimple(w, http.StatusServiceUnavailable, "Batch execution is not wired on this server")
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if len(req.Commands) == 0 {
		BadRequest(w, "commands must not be empty")
		return
	}

	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	// A fresh orchestrator per request picks up the current gate policy.
	orch, err := pipeline.NewOrchestrator(pipeline.Options{
		Classifier: s.classifier,
		Gate:       safety.NewGate(s.gatePolicy()),
		Executor:   s.executor,
		Recorder:   s.recorder,
		Confirmer:  s.hub,
		Collector:  s.collector,
		Mode:       mode,
	})
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	log.Infof("Batch submitted by %s: %d commands (%s)", r.Header.Get("X-Username"), len(req.Commands), mode)
	result, err := orch.ExecuteBatch(r.Context(), req.Commands)
	if err != nil {
		WriteError(w, NewAPIError(ErrCodePipelineError, err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
