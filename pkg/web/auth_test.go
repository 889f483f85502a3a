package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/config"
)

func newTestAuthManager(t *testing.T, mode string) *AuthManager {
	t.Helper()
	am := NewAuthManager(AuthConfig{
		Quiet:           true,
		Mode:            mode,
		SessionTTL:      time.Hour,
		DefaultAdmin:    "admin",
		DefaultPassword: "adminpass",
	})
	t.Cleanup(am.StopCleanup)
	disableDelays(am)
	return am
}

func TestAuthenticateLocalUser(t *testing.T) {
	am := newTestAuthManager(t, "local")

	session, err := am.Authenticate("admin", "adminpass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if session.Username != "admin" {
		t.Errorf("Username = %q, want %q", session.Username, "admin")
	}
	if session.Role != "admin" {
		t.Errorf("Role = %q, want %q", session.Role, "admin")
	}
	if session.Source != "local" {
		t.Errorf("Source = %q, want %q", session.Source, "local")
	}
	if !session.ExpiresAt.After(time.Now()) {
		t.Error("session should expire in the future")
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	am := newTestAuthManager(t, "local")

	if _, err := am.Authenticate("admin", "wrong"); err == nil {
		t.Error("wrong password should fail")
	}
	if _, err := am.Authenticate("nobody", "adminpass"); err == nil {
		t.Error("unknown user should fail")
	}
}

func TestValidateSessionExpiry(t *testing.T) {
	am := newTestAuthManager(t, "local")

	session, err := am.Authenticate("admin", "adminpass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if _, err := am.ValidateSession(session.ID); err != nil {
		t.Errorf("fresh session should validate: %v", err)
	}

	// Force the session into the past
	am.mu.Lock()
	am.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)
	am.mu.Unlock()

	if _, err := am.ValidateSession(session.ID); err == nil {
		t.Error("expired session should not validate")
	}

	// Expired sessions are removed on validation
	am.mu.RLock()
	_, exists := am.sessions[session.ID]
	am.mu.RUnlock()
	if exists {
		t.Error("expired session should be deleted")
	}
}

func TestAuthMiddlewareDisabledMode(t *testing.T) {
	am := newTestAuthManager(t, "none")

	var gotUser, gotRole string
	handler := am.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-Username")
		gotRole = r.Header.Get("X-User-Role")
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/approvals", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUser != "anonymous" {
		t.Errorf("X-Username = %q, want %q", gotUser, "anonymous")
	}
	if gotRole != "admin" {
		t.Errorf("X-User-Role = %q, want %q", gotRole, "admin")
	}
}

func TestAuthMiddlewareRequiresSession(t *testing.T) {
	am := newTestAuthManager(t, "local")

	handler := am.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a session")
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/approvals", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	am := newTestAuthManager(t, "local")

	session, err := am.Authenticate("admin", "adminpass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	var gotUser string
	handler := am.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-Username")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/approvals", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUser != "admin" {
		t.Errorf("X-Username = %q, want %q", gotUser, "admin")
	}
}

func TestAuthMiddlewareAcceptsSessionCookie(t *testing.T) {
	am := newTestAuthManager(t, "local")

	session, err := am.Authenticate("admin", "adminpass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	handler := am.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/approvals", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: session.ID})
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAdminMiddleware(t *testing.T) {
	am := newTestAuthManager(t, "local")

	handler := am.AdminMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("X-User-Role", "operator")
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("operator: status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("X-User-Role", "admin")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", w.Code)
	}
}

func TestHandleLoginIssuesCookieAndToken(t *testing.T) {
	am := newTestAuthManager(t, "local")

	w := httptest.NewRecorder()
	am.HandleLogin(w, loginRequest("admin", "adminpass", "10.0.0.1:1234"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp LoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Token == "" {
		t.Error("response should carry a session token")
	}
	if resp.Role != "admin" {
		t.Errorf("Role = %q, want %q", resp.Role, "admin")
	}
	if resp.AuthMode != "local" {
		t.Errorf("AuthMode = %q, want %q", resp.AuthMode, "local")
	}

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			found = true
			if !c.HttpOnly {
				t.Error("session cookie should be HttpOnly")
			}
			if c.Value != resp.Token {
				t.Error("cookie value should match the response token")
			}
		}
	}
	if !found {
		t.Errorf("no %s cookie set", sessionCookie)
	}
}

func TestHandleLogoutInvalidatesSession(t *testing.T) {
	am := newTestAuthManager(t, "local")

	session, err := am.Authenticate("admin", "adminpass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: session.ID})
	w := httptest.NewRecorder()
	am.HandleLogout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, err := am.ValidateSession(session.ID); err == nil {
		t.Error("session should be invalid after logout")
	}
}

func TestHandleCurrentUserDisabledMode(t *testing.T) {
	am := newTestAuthManager(t, "none")

	w := httptest.NewRecorder()
	am.HandleCurrentUser(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["username"] != "anonymous" {
		t.Errorf("username = %v, want anonymous", resp["username"])
	}
	if resp["auth_enabled"] != false {
		t.Errorf("auth_enabled = %v, want false", resp["auth_enabled"])
	}
}

func TestCSRFMiddleware(t *testing.T) {
	am := newTestAuthManager(t, "local")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := am.CSRFMiddleware(inner)

	t.Run("GET passes without token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/approvals", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("POST without token rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/approvals/decide", nil))
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("POST with valid token passes", func(t *testing.T) {
		token := am.GenerateCSRFToken()
		req := httptest.NewRequest(http.MethodPost, "/api/approvals/decide", nil)
		req.Header.Set("X-CSRF-Token", token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("login path exempt", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("bearer clients exempt", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/approvals/decide", nil)
		req.Header.Set("Authorization", "Bearer sometoken")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestCSRFTokenExpiry(t *testing.T) {
	am := newTestAuthManager(t, "local")

	token := am.GenerateCSRFToken()
	if !am.ValidateCSRFToken(token) {
		t.Fatal("fresh token should validate")
	}

	am.mu.Lock()
	am.csrfTokens[token] = time.Now().Add(-time.Minute)
	am.mu.Unlock()

	if am.ValidateCSRFToken(token) {
		t.Error("expired token should not validate")
	}
	if am.ValidateCSRFToken("") {
		t.Error("empty token should not validate")
	}
}

func TestHandleUsersCreateAndList(t *testing.T) {
	am := newTestAuthManager(t, "local")

	body, _ := json.Marshal(UserRequest{Username: "alice", Password: "s3cret", Role: "viewer"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/users", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	am.HandleUsers(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201", w.Code)
	}

	// Duplicate username conflicts
	req = httptest.NewRequest(http.MethodPost, "/api/admin/users", bytes.NewBuffer(body))
	w = httptest.NewRecorder()
	am.HandleUsers(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", w.Code)
	}

	// Unknown role rejected
	bad, _ := json.Marshal(UserRequest{Username: "bob", Password: "pw", Role: "superuser"})
	req = httptest.NewRequest(http.MethodPost, "/api/admin/users", bytes.NewBuffer(bad))
	w = httptest.NewRecorder()
	am.HandleUsers(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad role: status = %d, want 400", w.Code)
	}

	// Listing shows admin plus alice
	req = httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	w = httptest.NewRecorder()
	am.HandleUsers(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", w.Code)
	}
	raw := w.Body.String()
	var listResp struct {
		Users []*User `json:"users"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal([]byte(raw), &listResp); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if listResp.Total != 2 {
		t.Errorf("Total = %d, want 2", listResp.Total)
	}
	if strings.Contains(raw, "$2a$") {
		t.Error("bcrypt hashes must not appear in the user list")
	}
}

func TestHandleUserByNameUpdateAndDelete(t *testing.T) {
	am := newTestAuthManager(t, "local")
	if err := am.CreateUser("carol", "pw12345", "operator"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// Promote carol to admin
	body, _ := json.Marshal(UserRequest{Role: "admin"})
	req := httptest.NewRequest(http.MethodPut, "/api/admin/users/carol", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	am.HandleUserByName(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, want 200", w.Code)
	}

	am.mu.RLock()
	role := am.users["carol"].Role
	am.mu.RUnlock()
	if role != "admin" {
		t.Errorf("Role = %q, want %q", role, "admin")
	}

	// Self-deletion is refused
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/users/carol", nil)
	req.Header.Set("X-Username", "carol")
	w = httptest.NewRecorder()
	am.HandleUserByName(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("self delete: status = %d, want 400", w.Code)
	}

	// Deleting as somebody else works
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/users/carol", nil)
	req.Header.Set("X-Username", "admin")
	w = httptest.NewRecorder()
	am.HandleUserByName(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("delete: status = %d, want 200", w.Code)
	}

	// Unknown user now
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/users/carol", nil)
	req.Header.Set("X-Username", "admin")
	w = httptest.NewRecorder()
	am.HandleUserByName(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing: status = %d, want 404", w.Code)
	}
}

func TestLDAPAuthenticateRejectsEmptyPassword(t *testing.T) {
	provider := NewLDAPProvider(config.LDAPConfig{
		URL:    "ldap://127.0.0.1:1",
		BaseDN: "dc=example,dc=com",
	})

	// Must fail before any connection attempt: an empty password would
	// otherwise become an anonymous bind.
	if _, err := provider.Authenticate("alice", ""); err == nil {
		t.Error("empty password should be rejected")
	}
}

func TestLDAPProviderDefaults(t *testing.T) {
	provider := NewLDAPProvider(config.LDAPConfig{URL: "ldap://localhost:389"})
	if got := provider.Config().UserAttribute; got != "uid" {
		t.Errorf("UserAttribute = %q, want %q", got, "uid")
	}
	if !provider.Enabled() {
		t.Error("provider with URL should be enabled")
	}

	disabled := NewLDAPProvider(config.LDAPConfig{})
	if disabled.Enabled() {
		t.Error("provider without URL should be disabled")
	}
}
