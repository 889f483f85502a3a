package web

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
)

// sessionCookie is the name of the session cookie issued at login.
const sessionCookie = "runguard_session"

// User represents an account in the approval service
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // admin, operator, viewer
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Source       string    `json:"source"` // local, ldap
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// Session represents an authenticated session
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthConfig holds authentication configuration for the approval service.
// Mode selects how operators log in: "local" (username/password with bcrypt
// hashes), "ldap" (directory bind), or "none" (development, no auth).
type AuthConfig struct {
	Mode            string
	SessionTTL      time.Duration
	DefaultAdmin    string
	DefaultPassword string
	LDAP            config.LDAPConfig
	// Quiet suppresses informational output (useful for tests)
	Quiet bool
}

// Enabled reports whether requests must authenticate.
func (c AuthConfig) Enabled() bool {
	return c.Mode != "none"
}

// AuthManager handles authentication
type AuthManager struct {
	users      map[string]*User     // username -> User
	sessions   map[string]*Session  // session ID -> Session
	csrfTokens map[string]time.Time // CSRF token -> expiration time
	mu         sync.RWMutex
	config     AuthConfig
	ldap       *LDAPProvider
	bruteForce *BruteForceProtector
	done       chan struct{}
}

// NewAuthManager creates a new authentication manager
func NewAuthManager(cfg AuthConfig) *AuthManager {
	if cfg.Mode == "" {
		cfg.Mode = "local"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}

	am := &AuthManager{
		users:      make(map[string]*User),
		sessions:   make(map[string]*Session),
		csrfTokens: make(map[string]time.Time),
		config:     cfg,
		bruteForce: NewBruteForceProtector(),
		done:       make(chan struct{}),
	}

	if cfg.Mode == "ldap" {
		am.ldap = NewLDAPProvider(cfg.LDAP)
		if !cfg.Quiet {
			if am.ldap.Enabled() {
				fmt.Printf("  LDAP auth: Ready (%s)\n", cfg.LDAP.URL)
			} else {
				fmt.Printf("  LDAP auth: Not configured (missing directory URL)\n")
			}
		}
	}

	// Seed the default admin account only for local auth mode.
	if cfg.Enabled() && cfg.Mode == "local" {
		adminUser := cfg.DefaultAdmin
		if adminUser == "" {
			adminUser = "admin"
		}
		adminPass := cfg.DefaultPassword
		if adminPass == "" {
			// Generate a secure random password instead of a hardcoded default
			adminPass = generateSecurePassword(16)
			if !cfg.Quiet {
				fmt.Printf("  WARNING: Generated random admin password: %s\n", adminPass)
				fmt.Printf("  Please change this password immediately after first login!\n")
			}
		}
		am.createLocalUser(adminUser, adminPass, "admin")
	}

	go am.cleanupLoop()
	return am
}

// Mode returns the current authentication mode
func (am *AuthManager) Mode() string {
	return am.config.Mode
}

// Enabled reports whether authentication is required.
func (am *AuthManager) Enabled() bool {
	return am.config.Enabled()
}

// IsLDAPEnabled returns whether LDAP is enabled
func (am *AuthManager) IsLDAPEnabled() bool {
	return am.ldap != nil && am.ldap.Enabled()
}

// createLocalUser creates a local user (internal use, caller holds no lock)
func (am *AuthManager) createLocalUser(username, password, role string) error {
	if _, exists := am.users[username]; exists {
		return fmt.Errorf("user already exists: %s", username)
	}

	am.users[username] = &User{
		ID:           generateSessionID()[:16],
		Username:     username,
		PasswordHash: hashPassword(password),
		Role:         role,
		Source:       "local",
		CreatedAt:    time.Now(),
	}
	return nil
}

// hashPassword creates a bcrypt hash of the password
func hashPassword(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		// Only reachable with an invalid cost or oversized input
		return ""
	}
	return string(hash)
}

// checkPassword verifies a password against its bcrypt hash
func checkPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// generateSessionID creates a random session ID
func generateSessionID() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

// generateSecurePassword generates a cryptographically secure random password
func generateSecurePassword(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("runguard-%d", time.Now().UnixNano())
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// CreateUser creates a new local user
func (am *AuthManager) CreateUser(username, password, role string) error {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.createLocalUser(username, password, role)
}

// DeleteUser removes a user
func (am *AuthManager) DeleteUser(username string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	if _, exists := am.users[username]; !exists {
		return fmt.Errorf("user not found")
	}
	delete(am.users, username)
	return nil
}

// GetUsers returns all users (password hashes stay unexported via json tag)
func (am *AuthManager) GetUsers() []*User {
	am.mu.RLock()
	defer am.mu.RUnlock()

	users := make([]*User, 0, len(am.users))
	for _, u := range am.users {
		users = append(users, u)
	}
	return users
}

// newSession creates and registers a session for a user. Caller holds the
// write lock.
func (am *AuthManager) newSession(user *User, source string) *Session {
	session := &Session{
		ID:        generateSessionID(),
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		Source:    source,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(am.config.SessionTTL),
	}
	am.sessions[session.ID] = session
	return session
}

// Authenticate validates credentials and creates a session
func (am *AuthManager) Authenticate(username, password string) (*Session, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	// Try LDAP authentication first if enabled
	if am.ldap != nil && am.ldap.Enabled() {
		ldapUser, err := am.ldap.Authenticate(username, password)
		if err == nil {
			// LDAP auth successful: create or refresh the local user cache
			user, exists := am.users[username]
			if !exists {
				user = &User{
					ID:        generateSessionID()[:16],
					Username:  ldapUser.Username,
					CreatedAt: time.Now(),
				}
				am.users[username] = user
			}
			user.Email = ldapUser.Email
			user.DisplayName = ldapUser.DisplayName
			user.Role = ldapUser.Role
			user.Source = "ldap"
			user.LastLogin = time.Now()

			return am.newSession(user, "ldap"), nil
		}
		// LDAP auth failed, fall through to local auth
	}

	user, exists := am.users[username]
	if !exists {
		return nil, fmt.Errorf("invalid credentials")
	}

	// Only allow password auth for local users
	if user.Source != "local" && user.Source != "" {
		return nil, fmt.Errorf("invalid credentials")
	}

	if !checkPassword(password, user.PasswordHash) {
		return nil, fmt.Errorf("invalid credentials")
	}

	user.LastLogin = time.Now()
	return am.newSession(user, "local"), nil
}

// ValidateSession checks if a session is valid
func (am *AuthManager) ValidateSession(sessionID string) (*Session, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	session, exists := am.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session not found")
	}

	if time.Now().After(session.ExpiresAt) {
		delete(am.sessions, sessionID)
		return nil, fmt.Errorf("session expired")
	}

	return session, nil
}

// InvalidateSession removes a session
func (am *AuthManager) InvalidateSession(sessionID string) {
	am.mu.Lock()
	defer am.mu.Unlock()
	delete(am.sessions, sessionID)
}

// sessionFromRequest extracts the session ID from the cookie or the
// Authorization header.
func sessionFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// AuthMiddleware wraps handlers to require authentication. The resolved
// identity travels to handlers in the X-Username and X-User-Role headers.
func (am *AuthManager) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !am.config.Enabled() {
			// Development mode: everyone is an anonymous admin.
			r.Header.Set("X-Username", "anonymous")
			r.Header.Set("X-User-Role", "admin")
			next(w, r)
			return
		}

		sessionID := sessionFromRequest(r)
		if sessionID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		session, err := am.ValidateSession(sessionID)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		r.Header.Set("X-User-ID", session.UserID)
		r.Header.Set("X-Username", session.Username)
		r.Header.Set("X-User-Role", session.Role)

		next(w, r)
	}
}

// AdminMiddleware ensures the user has admin role
func (am *AuthManager) AdminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-User-Role")
		if role != "admin" {
			http.Error(w, "Admin access required", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	AuthMode  string    `json:"auth_mode"`
}

// HandleLogin handles login requests. Repeated failures from one IP trip
// the brute-force lockout before credentials are even checked.
func (am *AuthManager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := ClientIP(r)
	if am.bruteForce.IsBlocked(ip) {
		WriteErrorSimple(w, http.StatusTooManyRequests, "Too many failed login attempts. Try again later.")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := am.Authenticate(req.Username, req.Password)
	if err != nil {
		delay := am.bruteForce.RecordFailure(ip)
		if delay > 0 {
			time.Sleep(delay)
		}
		log.Warnf("Failed login for %q from %s", req.Username, ip)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	am.bruteForce.RecordSuccess(ip)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})

	log.Infof("Login: %s (%s) from %s", session.Username, session.Source, ip)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{
		Token:     session.ID,
		Username:  session.Username,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
		AuthMode:  session.Source,
	})
}

// HandleLogout handles logout requests
func (am *AuthManager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID := sessionFromRequest(r); sessionID != "" {
		am.InvalidateSession(sessionID)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "logged out"})
}

// HandleCurrentUser returns the current user info
func (am *AuthManager) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !am.config.Enabled() {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"username":     "anonymous",
			"role":         "admin",
			"auth_enabled": false,
			"auth_mode":    "none",
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"username":     r.Header.Get("X-Username"),
		"role":         r.Header.Get("X-User-Role"),
		"auth_enabled": true,
		"auth_mode":    am.config.Mode,
		"ldap_enabled": am.IsLDAPEnabled(),
	})
}

// HandleAuthStatus returns authentication system status
func (am *AuthManager) HandleAuthStatus(w http.ResponseWriter, r *http.Request) {
	am.mu.RLock()
	totalUsers := len(am.users)
	activeSessions := len(am.sessions)
	am.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"auth_enabled":     am.config.Enabled(),
		"auth_mode":        am.config.Mode,
		"ldap_enabled":     am.IsLDAPEnabled(),
		"session_duration": am.config.SessionTTL.String(),
		"total_users":      totalUsers,
		"active_sessions":  activeSessions,
	})
}

// HandleLDAPStatus returns LDAP configuration status
func (am *AuthManager) HandleLDAPStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !am.IsLDAPEnabled() {
		json.NewEncoder(w).Encode(map[string]interface{}{"enabled": false})
		return
	}

	cfg := am.ldap.Config()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"enabled":        true,
		"url":            cfg.URL,
		"base_dn":        cfg.BaseDN,
		"user_attribute": cfg.UserAttribute,
		"admin_group":    cfg.AdminGroup,
	})
}

// HandleLDAPTest tests the LDAP connection
func (am *AuthManager) HandleLDAPTest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if am.ldap == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error",
			"error":  "LDAP is not configured",
		})
		return
	}

	if err := am.ldap.TestConnection(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
}

// UserRequest represents a user creation/update request
type UserRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
}

func validRole(role string) bool {
	return role == "admin" || role == "operator" || role == "viewer"
}

// HandleUsers lists users (GET) or creates one (POST). Admin only.
func (am *AuthManager) HandleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users := am.GetUsers()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"users": users,
			"total": len(users),
		})

	case http.MethodPost:
		var req UserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.Username == "" || req.Password == "" {
			http.Error(w, "Username and password are required", http.StatusBadRequest)
			return
		}

		if req.Role == "" {
			req.Role = "operator"
		}
		if !validRole(req.Role) {
			http.Error(w, "Invalid role. Must be admin, operator, or viewer", http.StatusBadRequest)
			return
		}

		if err := am.CreateUser(req.Username, req.Password, req.Role); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		if req.Email != "" {
			am.mu.Lock()
			if user, exists := am.users[req.Username]; exists {
				user.Email = req.Email
			}
			am.mu.Unlock()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "created",
			"username": req.Username,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleUserByName updates (PUT/PATCH) or deletes (DELETE) a single user.
// Admin only; the username comes from the URL path.
func (am *AuthManager) HandleUserByName(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		var req UserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		am.mu.Lock()
		defer am.mu.Unlock()

		user, exists := am.users[username]
		if !exists {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}

		// LDAP-sourced users are managed in the directory
		if user.Source != "local" && user.Source != "" {
			http.Error(w, "Cannot update non-local user", http.StatusBadRequest)
			return
		}

		if req.Role != "" {
			if !validRole(req.Role) {
				http.Error(w, "Invalid role", http.StatusBadRequest)
				return
			}
			user.Role = req.Role
		}
		if req.Email != "" {
			user.Email = req.Email
		}
		if req.Password != "" {
			user.PasswordHash = hashPassword(req.Password)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "updated",
			"username": username,
		})

	case http.MethodDelete:
		if username == r.Header.Get("X-Username") {
			http.Error(w, "Cannot delete your own account", http.StatusBadRequest)
			return
		}

		if err := am.DeleteUser(username); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "deleted",
			"username": username,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GenerateCSRFToken generates a new CSRF token
func (am *AuthManager) GenerateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	token := base64.URLEncoding.EncodeToString(b)

	am.mu.Lock()
	am.csrfTokens[token] = time.Now().Add(1 * time.Hour)
	am.mu.Unlock()

	return token
}

// ValidateCSRFToken validates a CSRF token
func (am *AuthManager) ValidateCSRFToken(token string) bool {
	if token == "" {
		return false
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	expiry, exists := am.csrfTokens[token]
	if !exists {
		return false
	}
	if time.Now().After(expiry) {
		delete(am.csrfTokens, token)
		return false
	}
	return true
}

// CSRFMiddleware validates CSRF tokens for state-changing requests
func (am *AuthManager) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Safe methods need no token
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// No session exists yet at login, and logout is idempotent
		if r.URL.Path == "/api/auth/login" || r.URL.Path == "/api/auth/logout" {
			next.ServeHTTP(w, r)
			return
		}

		// API clients authenticating with a Bearer token are not cookie
		// sessions, so cross-site request forgery does not apply.
		if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		// Auth disabled means no cookies to forge either
		if !am.config.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if !am.ValidateCSRFToken(r.Header.Get("X-CSRF-Token")) {
			http.Error(w, "Invalid or missing CSRF token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleCSRFToken returns a new CSRF token
func (am *AuthManager) HandleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token := am.GenerateCSRFToken()
	if token == "" {
		http.Error(w, "Failed to generate CSRF token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"csrf_token": token})
}

// cleanupLoop drops expired sessions and CSRF tokens.
func (am *AuthManager) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			am.mu.Lock()
			for id, session := range am.sessions {
				if now.After(session.ExpiresAt) {
					delete(am.sessions, id)
				}
			}
			for token, expiry := range am.csrfTokens {
				if now.After(expiry) {
					delete(am.csrfTokens, token)
				}
			}
			am.mu.Unlock()
		case <-am.done:
			return
		}
	}
}

// StopCleanup stops the background cleanup goroutines.
func (am *AuthManager) StopCleanup() {
	close(am.done)
	am.bruteForce.Stop()
}
