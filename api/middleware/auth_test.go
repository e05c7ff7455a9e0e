package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/storefront-backend/pkg/auth"
	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/enums"
)

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, userID uuid.UUID, role enums.Role) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now().UTC(), auth.AccessTokenPayload{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	Auth(testJWT(), nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT(), nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := testJWT()
	userID := uuid.New()
	token := mintTestToken(t, cfg, userID, enums.RoleAdmin)

	var gotUser *uuid.UUID
	var gotRole enums.Role
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotUser == nil || *gotUser != userID {
		t.Fatalf("user id not propagated: %v", gotUser)
	}
	if gotRole != enums.RoleAdmin {
		t.Fatalf("unexpected role %q", gotRole)
	}
}

func TestOptionalAuthAllowsGuestsButRejectsBadTokens(t *testing.T) {
	var sawUser atomic.Bool
	handler := OptionalAuth(testJWT(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUser.Store(UserIDFromContext(r.Context()) != nil)
		w.WriteHeader(http.StatusOK)
	}))

	guest := httptest.NewRecorder()
	handler.ServeHTTP(guest, httptest.NewRequest(http.MethodPost, "/", nil))
	if guest.Code != http.StatusOK || sawUser.Load() {
		t.Fatalf("guest should pass without identity, code=%d", guest.Code)
	}

	bad := httptest.NewRequest(http.MethodPost, "/", nil)
	bad.Header.Set("Authorization", "Bearer nope")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, bad)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(enums.RoleAdmin, nil)(okHandler())

	customer := httptest.NewRequest(http.MethodGet, "/", nil)
	customer = customer.WithContext(WithIdentity(customer.Context(), uuid.New(), enums.RoleCustomer))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, customer)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodGet, "/", nil)
	admin = admin.WithContext(WithIdentity(admin.Context(), uuid.New(), enums.RoleAdmin))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

type countingFirer struct{ fired atomic.Int32 }

func (c *countingFirer) Fire(context.Context) { c.fired.Add(1) }

func TestSweepTriggerFiresPerRequest(t *testing.T) {
	firer := &countingFirer{}
	handler := SweepTrigger(firer)(okHandler())
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if firer.fired.Load() != 3 {
		t.Fatalf("expected 3 fires, got %d", firer.fired.Load())
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := ClientIP(req); got != "10.0.0.1" {
		t.Fatalf("unexpected remote ip %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("unexpected forwarded ip %q", got)
	}
}

func TestRequestIDAndRecoverer(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	handler := RequestID(nil)(Recoverer(nil)(panicking))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}
