package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeControl is the token scope required to drive the acquisition task.
const ScopeControl = "control"

var errNoBearer = errors.New("missing bearer token")

// ControlClaims are the claims accepted on control endpoints.
type ControlClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens issued with a shared secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier returns nil when secret is empty, which disables
// authentication on control endpoints.
func NewTokenVerifier(secret string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses token and requires the control scope.
func (v *TokenVerifier) Verify(token string) (*ControlClaims, error) {
	claims := &ControlClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if !slices.Contains(claims.Scopes, ScopeControl) {
		return nil, fmt.Errorf("token lacks %q scope", ScopeControl)
	}
	return claims, nil
}

// Issue signs a control token for subject; used by operators and tests.
func (v *TokenVerifier) Issue(subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, ControlClaims{
		Scopes:           []string{ScopeControl},
		RegisteredClaims: claims,
	})
	return tok.SignedString(v.secret)
}

// RequireControl wraps next with bearer-token verification. A nil verifier
// lets every request through.
func (v *TokenVerifier) RequireControl(next http.HandlerFunc) http.HandlerFunc {
	if v == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="rxcapture"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if _, err := v.Verify(token); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// RequireControlForWrites leaves GET and HEAD open and guards every other
// method like RequireControl.
func (v *TokenVerifier) RequireControlForWrites(next http.HandlerFunc) http.HandlerFunc {
	guarded := v.RequireControl(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next(w, r)
			return
		}
		guarded(w, r)
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", errNoBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}
