package httphandler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the claims carried by an admin bearer token.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HS256 admin bearer tokens.
type TokenSigner struct {
	Key []byte
	TTL time.Duration
}

// Issue returns a signed token for subject valid for the signer's TTL.
func (s TokenSigner) Issue(subject string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.Key)
}

// Parse verifies a token and returns its claims.
func (s TokenSigner) Parse(token string) (*AdminClaims, error) {
	t, err := jwt.ParseWithClaims(token, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.Key, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*AdminClaims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// authMiddleware requires a valid bearer token on every API route except the
// health check. Requests outside /api/v1/ pass through.
func authMiddleware(signer TokenSigner, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v1/") || r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ordersync"`)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if _, err := signer.Parse(raw); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ordersync", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
