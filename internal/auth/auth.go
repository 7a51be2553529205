// Package auth implements the static bearer-token gate in front of the
// embedding endpoints.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidCredentials is returned for a missing, malformed or wrong
// credential. Callers cannot tell the cases apart.
var ErrInvalidCredentials = errors.New("invalid authentication credentials")

// DenyDetail is the fixed detail sent with every 403.
const DenyDetail = "Invalid authentication credentials"

// Gate validates bearer tokens against one configured secret.
type Gate struct {
	secret []byte
}

// NewGate creates a Gate for secret.
func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Verify checks an Authorization header value and returns the presented
// credential if it matches the secret. The scheme and credential are split on
// the first space; the credential must match byte for byte.
func (g *Gate) Verify(header string) (string, error) {
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidCredentials
	}
	if credential == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(credential), g.secret) != 1 {
		return "", ErrInvalidCredentials
	}
	return credential, nil
}

// Middleware rejects requests without a valid bearer token with 403.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := g.Verify(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"detail": DenyDetail})
			return
		}
		next.ServeHTTP(w, r)
	})
}
