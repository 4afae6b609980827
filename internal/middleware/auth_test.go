package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/lectgen/internal/auth"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capturePrincipal records the principal seen by the final handler.
func capturePrincipal(got **auth.Principal, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		*got = auth.GetPrincipalFromRequest(r)
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// WithIdentity
// =============================================================================

func TestWithIdentity(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name      string
		headers   map[string]string
		wantNil   bool
		wantRole  auth.Role
		wantTier  domain.Tier
		wantAdmin bool
	}{
		{
			name:    "no headers",
			headers: nil,
			wantNil: true,
		},
		{
			name:    "malformed account id",
			headers: map[string]string{HeaderAccountID: "12345"},
			wantNil: true,
		},
		{
			name:     "user with tier",
			headers:  map[string]string{HeaderAccountID: id.String(), HeaderAccountTier: "vip"},
			wantRole: auth.RoleUser,
			wantTier: domain.TierVIP,
		},
		{
			name:      "admin role is case insensitive",
			headers:   map[string]string{HeaderAccountID: id.String(), HeaderAccountRole: "Admin"},
			wantRole:  auth.RoleAdmin,
			wantAdmin: true,
		},
		{
			name:     "unknown role falls back to user",
			headers:  map[string]string{HeaderAccountID: id.String(), HeaderAccountRole: "root"},
			wantRole: auth.RoleUser,
		},
		{
			name:     "unknown tier is dropped",
			headers:  map[string]string{HeaderAccountID: id.String(), HeaderAccountTier: "gold"},
			wantRole: auth.RoleUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *auth.Principal
			var called bool
			mw := NewIdentityMiddleware(testLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			mw.WithIdentity(capturePrincipal(&got, &called)).ServeHTTP(rec, req)

			if !called {
				t.Fatal("WithIdentity must never block a request")
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected no principal, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a principal")
			}
			if got.AccountID != id {
				t.Errorf("account id = %s, want %s", got.AccountID, id)
			}
			if got.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", got.Role, tt.wantRole)
			}
			if got.Tier != tt.wantTier {
				t.Errorf("tier = %q, want %q", got.Tier, tt.wantTier)
			}
			if got.IsAdmin() != tt.wantAdmin {
				t.Errorf("IsAdmin() = %v, want %v", got.IsAdmin(), tt.wantAdmin)
			}
		})
	}
}

// =============================================================================
// RequireAccount / RequireAdmin
// =============================================================================

func TestRequireAccount(t *testing.T) {
	mw := NewIdentityMiddleware(testLogger())

	tests := []struct {
		name       string
		principal  *auth.Principal
		wantStatus int
		wantCalled bool
	}{
		{"anonymous", nil, http.StatusUnauthorized, false},
		{"user", &auth.Principal{AccountID: uuid.New(), Role: auth.RoleUser}, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *auth.Principal
			var called bool

			req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
			if tt.principal != nil {
				req = req.WithContext(auth.SetPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			mw.RequireAccount(capturePrincipal(&got, &called)).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	mw := NewIdentityMiddleware(testLogger())

	tests := []struct {
		name       string
		principal  *auth.Principal
		wantStatus int
		wantCalled bool
	}{
		{"anonymous", nil, http.StatusUnauthorized, false},
		{"user", &auth.Principal{AccountID: uuid.New(), Role: auth.RoleUser}, http.StatusForbidden, false},
		{"admin", &auth.Principal{AccountID: uuid.New(), Role: auth.RoleAdmin}, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *auth.Principal
			var called bool

			req := httptest.NewRequest(http.MethodPut, "/api/admin/accounts/x/cap", nil)
			if tt.principal != nil {
				req = req.WithContext(auth.SetPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			mw.RequireAdmin(capturePrincipal(&got, &called)).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if !tt.wantCalled && rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("rejections should be JSON, got %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("outer"), mark("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
