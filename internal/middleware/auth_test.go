package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/R3E-Network/zkgate/internal/auth"
	"github.com/R3E-Network/zkgate/internal/httputil"
	"github.com/R3E-Network/zkgate/internal/logging"
)

const testSecret = "unit-test-secret"

func generateTestToken(t *testing.T, secret, role string) string {
	t.Helper()
	token, err := auth.Mint([]byte(secret), "ops@example.com", role, time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func adminProbe(t *testing.T, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		if got := GetUserID(r.Context()); got != "ops@example.com" {
			t.Errorf("GetUserID() = %q, want ops@example.com", got)
		}
		if got := GetUserRole(r.Context()); got != auth.RoleAdmin {
			t.Errorf("GetUserRole() = %q, want admin", got)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	logger := logging.New("test", "info", "json")

	if NewAuthMiddleware("", logger).Enabled() {
		t.Error("Enabled() = true with an empty secret")
	}
	if !NewAuthMiddleware(testSecret, logger).Enabled() {
		t.Error("Enabled() = false with a secret")
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	m := NewAuthMiddleware("", logging.NewDiscard())

	called := false
	handler := m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/register_program", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("handler should be called when auth is disabled")
	}
}

func TestAuthMiddleware_ValidAdminToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logging.NewDiscard())

	called := false
	handler := m.RequireAdmin(adminProbe(t, &called))

	req := httptest.NewRequest(http.MethodPost, "/register_program", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, auth.RoleAdmin))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called {
		t.Fatal("handler was not called")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logging.NewDiscard())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"wrong secret", "Bearer " + generateTestToken(t, "other-secret", auth.RoleAdmin), http.StatusUnauthorized, "INVALID_TOKEN"},
		{"not admin", "Bearer " + generateTestToken(t, testSecret, "reader"), http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodDelete, "/programs/sp1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if called {
				t.Error("handler should not be called")
			}
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			var body httputil.ErrorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid error body: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthMiddleware_CaseInsensitiveScheme(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logging.NewDiscard())

	called := false
	handler := m.RequireAdmin(adminProbe(t, &called))

	req := httptest.NewRequest(http.MethodPost, "/register_program", nil)
	req.Header.Set("Authorization", "bearer "+generateTestToken(t, testSecret, auth.RoleAdmin))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("lowercase bearer scheme should be accepted")
	}
}
