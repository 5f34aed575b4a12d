package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyExtractsIdentity(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	token := signToken(t, testSecret, jwt.MapClaims{
		"userId": "44",
		"email":  "reseller@example.com",
		"roles":  []string{RoleReseller},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != "44" {
		t.Errorf("user id = %q, want 44", identity.UserID)
	}
	if !identity.IsReseller() {
		t.Errorf("IsReseller() = false, want true")
	}
	if identity.HasRole(RoleAdministrator) {
		t.Errorf("HasRole(administrator) = true, want false")
	}
}

func TestVerifyFallsBackToSubject(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "legacy-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != "legacy-7" {
		t.Errorf("user id = %q, want legacy-7", identity.UserID)
	}
}

func TestVerifyRejections(t *testing.T) {
	now := time.Date(2025, time.June, 5, 12, 0, 0, 0, time.UTC)
	verifier, err := NewVerifier(testSecret, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrTokenMissing,
		},
		{
			name:    "garbage token",
			token:   "not.a.jwt",
			wantErr: ErrTokenInvalid,
		},
		{
			name: "wrong secret",
			token: signToken(t, "other-secret", jwt.MapClaims{
				"userId": "44",
				"exp":    now.Add(time.Hour).Unix(),
			}),
			wantErr: ErrTokenInvalid,
		},
		{
			name: "expired",
			token: signToken(t, testSecret, jwt.MapClaims{
				"userId": "44",
				"exp":    now.Add(-time.Minute).Unix(),
			}),
			wantErr: ErrTokenInvalid,
		},
		{
			name: "missing subject",
			token: signToken(t, testSecret, jwt.MapClaims{
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantErr: ErrTokenInvalid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.Verify(tc.token)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Verify error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestVerifyHonorsInjectedClock(t *testing.T) {
	now := time.Date(2025, time.June, 5, 12, 0, 0, 0, time.UTC)
	verifier, err := NewVerifier(testSecret, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	// Expired by the wall clock, but valid against the verifier's clock.
	token := signToken(t, testSecret, jwt.MapClaims{
		"userId": "44",
		"exp":    now.Add(time.Hour).Unix(),
	})

	identity, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != "44" {
		t.Errorf("user id = %q, want 44", identity.UserID)
	}
}

func TestMiddlewarePassesThroughWithoutToken(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	var sawIdentity bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawIdentity = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	verifier.Middleware()(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if sawIdentity {
		t.Errorf("identity present without a token")
	}
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	var captured *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{
		"userId": "44",
		"roles":  []string{RoleReseller},
		"exp":    time.Now().Add(time.Hour).Unix(),
	}))
	rr := httptest.NewRecorder()
	verifier.Middleware()(next).ServeHTTP(rr, req)

	if captured == nil || captured.UserID != "44" {
		t.Fatalf("identity = %+v, want user 44", captured)
	}
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler reached with an invalid token")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	verifier.Middleware()(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdmin(t *testing.T) {
	verifier, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tests := []struct {
		name       string
		roles      []string
		wantStatus int
	}{
		{name: "administrator", roles: []string{RoleAdministrator}, wantStatus: http.StatusOK},
		{name: "shop manager", roles: []string{RoleShopManager}, wantStatus: http.StatusOK},
		{name: "reseller", roles: []string{RoleReseller}, wantStatus: http.StatusForbidden},
		{name: "no roles", roles: nil, wantStatus: http.StatusForbidden},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{
				"userId": "7",
				"roles":  tc.roles,
				"exp":    time.Now().Add(time.Hour).Unix(),
			}))
			rr := httptest.NewRecorder()
			verifier.RequireAdmin()(next).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
		})
	}
}
