package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
	"github.com/cloudbro-ops/runguard/pkg/metrics"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// VersionInfo holds build version information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// Options configures a Server. Config is required. Executor and Recorder
// enable batch submission; without them the server runs as a read-only
// console over the audit store and approval hub.
type Options struct {
	Config    *config.Config
	Catalog   *safety.CatalogStore
	Executor  *sandbox.Executor
	Recorder  audit.Recorder
	Store     *audit.Store
	Collector *metrics.Collector
	Version   *VersionInfo
	Quiet     bool
	// NoPersist keeps policy and catalog updates in memory instead of
	// writing them back to the config file.
	NoPersist bool
}

type Server struct {
	cfg        *config.Config
	auth       *AuthManager
	hub        *ApprovalHub
	catalog    *safety.CatalogStore
	classifier *safety.Classifier
	executor   *sandbox.Executor
	recorder   audit.Recorder
	store      *audit.Store
	collector  *metrics.Collector
	version    *VersionInfo
	port       int
	quiet      bool
	persist    bool
	server     *http.Server

	// Protects cfg.Gate and cfg.Catalog against concurrent policy updates
	cfgMu sync.RWMutex

	apiRateLimiter  *RateLimiter
	authRateLimiter *RateLimiter
}

func NewServer(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("web server requires a config")
	}

	statusf := func(format string, args ...interface{}) {
		if !opts.Quiet {
			fmt.Printf(format, args...)
		}
	}

	statusf("Starting runguard web server...\n")

	catalog := opts.Catalog
	if catalog == nil {
		catalog = safety.NewCatalogStore(safety.BuildCatalog(cfg.Catalog))
	}
	statusf("  Catalog: %d patterns\n", catalog.Current().Size())

	auth := NewAuthManager(AuthConfig{
		Mode:            cfg.Web.AuthMode,
		SessionTTL:      time.Duration(cfg.Web.SessionTTLMinutes) * time.Minute,
		DefaultAdmin:    os.Getenv("RUNGUARD_ADMIN_USER"),
		DefaultPassword: os.Getenv("RUNGUARD_ADMIN_PASSWORD"),
		LDAP:            cfg.Web.LDAP,
		Quiet:           opts.Quiet,
	})
	if auth.Enabled() {
		statusf("  Authentication: Enabled (mode: %s)\n", auth.Mode())
	} else {
		statusf("  Authentication: Disabled\n")
	}

	if opts.Store != nil {
		statusf("  Audit store: Ready (%s)\n", opts.Store.Type())
	} else {
		statusf("  Audit store: Not configured\n")
	}
	if opts.Executor != nil && opts.Recorder != nil {
		statusf("  Batch execution: Enabled\n")
	} else {
		statusf("  Batch execution: Disabled (read-only console)\n")
	}

	s := &Server{
		cfg:        cfg,
		auth:       auth,
		catalog:    catalog,
		classifier: safety.NewClassifier(catalog),
		executor:   opts.Executor,
		recorder:   opts.Recorder,
		store:      opts.Store,
		collector:  opts.Collector,
		version:    opts.Version,
		port:       cfg.Web.Port,
		quiet:      opts.Quiet,
		persist:    !opts.NoPersist,
	}
	if s.port <= 0 {
		s.port = 8080
	}

	// The hub reads the timeout per request, so a policy update applies to
	// the next gated command without restarting the server.
	s.hub = NewApprovalHub(func() time.Duration {
		return s.gatePolicy().ApprovalTimeout()
	})

	s.apiRateLimiter = NewRateLimiter(600, 1*time.Minute)
	s.authRateLimiter = NewRateLimiter(10, 1*time.Minute)
	statusf("  Rate limiting: API (600/min), Auth (10/min)\n")

	return s, nil
}

// Hub exposes the approval hub so callers can use it as the pipeline
// confirmer for batches started outside the HTTP API.
func (s *Server) Hub() *ApprovalHub {
	return s.hub
}

// Catalog returns the store backing this server's classifier.
func (s *Server) Catalog() *safety.CatalogStore {
	return s.catalog
}

func (s *Server) gatePolicy() config.GateConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Gate
}

// Handler returns the full HTTP handler, routes plus middleware chain.
// Exposed so tests can drive the server without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// --- Public routes (no auth required) ---
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/auth/login", s.auth.HandleLogin)
	mux.HandleFunc("/api/auth/logout", s.auth.HandleLogout)
	mux.HandleFunc("/api/auth/status", s.auth.HandleAuthStatus)
	mux.HandleFunc("/api/auth/csrf-token", s.auth.HandleCSRFToken)

	// --- Protected routes (auth required) ---
	mux.HandleFunc("/api/auth/me", s.auth.AuthMiddleware(s.auth.HandleCurrentUser))

	// Approvals: list, decide, live event stream
	mux.HandleFunc("/api/approvals", s.auth.AuthMiddleware(s.handleListApprovals))
	mux.HandleFunc("/api/approvals/decide", s.auth.AuthMiddleware(s.handleDecideApproval))
	mux.HandleFunc("/api/approvals/ws", s.auth.AuthMiddleware(s.handleApprovalSocket))

	// Batch submission (operator or admin, checked in the handler)
	mux.HandleFunc("/api/batches", s.auth.AuthMiddleware(s.handleRunBatch))

	// Audit history and counters
	mux.HandleFunc("/api/audit", s.auth.AuthMiddleware(s.handleAuditQuery))
	mux.HandleFunc("/api/stats", s.auth.AuthMiddleware(s.handleStats))

	// Gate policy and pattern catalog (mutations are admin-only, checked
	// in the handlers so GET stays open to every authenticated role)
	mux.HandleFunc("/api/policy", s.auth.AuthMiddleware(s.handlePolicy))
	mux.HandleFunc("/api/catalog", s.auth.AuthMiddleware(s.handleCatalog))

	// --- Admin-only routes ---
	mux.HandleFunc("/api/catalog/reload", s.auth.AuthMiddleware(s.auth.AdminMiddleware(s.handleCatalogReload)))
	mux.HandleFunc("/api/ldap/status", s.auth.AuthMiddleware(s.auth.AdminMiddleware(s.auth.HandleLDAPStatus)))
	mux.HandleFunc("/api/ldap/test", s.auth.AuthMiddleware(s.auth.AdminMiddleware(s.auth.HandleLDAPTest)))
	mux.HandleFunc("/api/admin/users", s.auth.AuthMiddleware(s.auth.AdminMiddleware(s.auth.HandleUsers)))
	mux.HandleFunc("/api/admin/users/", s.auth.AuthMiddleware(s.auth.AdminMiddleware(s.auth.HandleUserByName)))

	// Middleware chain: recovery -> request logging -> rate limiting ->
	// body limit -> timeout -> security headers -> CORS -> CSRF -> handler
	return recoveryMiddleware(
		requestLoggingMiddleware(
			RateLimitMiddleware(s.apiRateLimiter, s.authRateLimiter)(
				maxBodyMiddleware(1 << 20)(
					timeoutMiddleware(60 * time.Second)(
						securityHeadersMiddleware(
							corsMiddleware(
								s.auth.CSRFMiddleware(mux),
							),
						),
					),
				),
			),
		),
	)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// ReadTimeout and WriteTimeout stay 0 (no limit) so the approval
		// websocket can idle. Per-request timeouts come from
		// timeoutMiddleware instead.
		IdleTimeout: 120 * time.Second,
	}

	if !s.quiet {
		fmt.Printf("\n  Web console at http://localhost:%d\n", s.port)
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	if s.apiRateLimiter != nil {
		s.apiRateLimiter.Stop()
	}
	if s.authRateLimiter != nil {
		s.authRateLimiter.Stop()
	}

	// Stops the session, CSRF and brute-force cleanup goroutines
	if s.auth != nil {
		s.auth.StopCleanup()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// recoveryMiddleware catches handler panics. The audit store stays
// untouched here: command entries come from the pipeline alone.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("Panic in HTTP handler: %v (%s %s)", err, r.Method, r.URL.Path)
				WriteError(w, NewAPIError(ErrCodeInternalError, "An unexpected error occurred"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLoggingMiddleware logs requests at debug level, skipping health
// checks to reduce noise.
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		if r.URL.Path != "/api/health" {
			username := r.Header.Get("X-Username")
			if username == "" {
				username = "anonymous"
			}
			log.Debugf("%s %s - %d (%s) - user: %s",
				r.Method, r.URL.Path, rw.statusCode, time.Since(start), username)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack lets the approval websocket upgrade through the logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// doneWriter blocks writes from a handler goroutine after its request
// timed out.
type doneWriter struct {
	http.ResponseWriter
	mu         sync.Mutex
	headerSent bool
	timedOut   bool
}

func (dw *doneWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.headerSent || dw.timedOut {
		return
	}
	dw.headerSent = true
	dw.ResponseWriter.WriteHeader(code)
}

func (dw *doneWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.timedOut {
		return 0, nil
	}
	return dw.ResponseWriter.Write(b)
}

// timeoutMiddleware bounds request handling. Websocket upgrades and batch
// submission are exempt: a batch legitimately blocks while its commands
// wait for operator approval.
func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" || r.URL.Path == "/api/batches" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			dw := &doneWriter{ResponseWriter: w}
			done := make(chan struct{})

			go func() {
				next.ServeHTTP(dw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				dw.mu.Lock()
				dw.timedOut = true
				headerSent := dw.headerSent
				dw.mu.Unlock()
				if !headerSent && ctx.Err() == context.DeadlineExceeded {
					WriteError(w, NewAPIError(ErrCodeTimeout, "Request timed out"))
				}
			}
		})
	}
}

// maxBodyMiddleware limits request body size to prevent memory exhaustion
func maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Same origin (no Origin header) plus explicitly trusted origins
		allowedOrigins := map[string]bool{
			"":                       true,
			"http://localhost:8080":  true,
			"http://localhost:3000":  true,
			"http://127.0.0.1:8080":  true,
			"https://localhost:8080": true,
		}

		if extraOrigins := os.Getenv("RUNGUARD_CORS_ALLOWED_ORIGINS"); extraOrigins != "" {
			for _, o := range strings.Split(extraOrigins, ",") {
				o = strings.TrimSpace(o)
				if o != "" {
					allowedOrigins[o] = true
				}
			}
		}

		if origin != "" && allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds security headers to all responses
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline'; "+
				"style-src 'self' 'unsafe-inline'; "+
				"font-src 'self'; "+
				"img-src 'self' data:; "+
				"connect-src 'self' ws: wss:; "+
				"frame-ancestors 'none'")

		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		next.ServeHTTP(w, r)
	})
}
