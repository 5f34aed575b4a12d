package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/blackboard-training/api/internal/platform/httpx"
)

const (
	// RoleAdministrator marks WordPress administrators and shop managers.
	RoleAdministrator = "administrator"
	// RoleShopManager may confirm payments from the support desk.
	RoleShopManager = "shop_manager"
	// RoleReseller unlocks per-product bulk pricing rules.
	RoleReseller = "reseller"
)

var (
	// ErrTokenInvalid indicates the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrTokenMissing indicates no bearer token was supplied.
	ErrTokenMissing = errors.New("auth: token missing")
)

// wordpressClaims mirrors the claim set issued by the WordPress JWT plugin.
type wordpressClaims struct {
	jwt.RegisteredClaims
	UserID string   `json:"userId"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

// Verifier validates WordPress-issued HS256 tokens against the shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// VerifierOption customises the verifier.
type VerifierOption func(*Verifier)

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier constructs a Verifier for the given shared secret.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	v := &Verifier{
		secret: []byte(trimmed),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify parses and validates the token, returning the embedded identity.
func (v *Verifier) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}

	claims := &wordpressClaims{}
	// Claims validation is done by hand against the verifier's clock; the
	// parser only checks the signature.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, fmt.Errorf("%w: token expired", ErrTokenInvalid)
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return &Identity{
		UserID: userID,
		Email:  strings.TrimSpace(claims.Email),
		Roles:  claims.Roles,
	}, nil
}

// Middleware extracts and verifies the bearer token when present, storing the
// identity on the request context. Requests without a token pass through
// unauthenticated.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := v.Verify(token)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "invalid bearer token", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin rejects requests whose identity lacks an administrative role.
// Manual payment confirmation and ledger reads sit behind this guard.
func (v *Verifier) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			identity, err := v.Verify(token)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "invalid bearer token", http.StatusUnauthorized))
				return
			}
			if !identity.HasRole(RoleAdministrator) && !identity.HasRole(RoleShopManager) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "administrative role required", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
