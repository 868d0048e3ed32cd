package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken  = errors.New("missing Authorization header")
	ErrInvalidFormat = errors.New("invalid Authorization format, expected: Bearer <token>")
	ErrInvalidToken  = errors.New("invalid token")
)

type contextKey struct{}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFromContext returns the claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(contextKey{}).(*Claims)
	return c
}

// Middleware rejects requests without a valid bearer token. Paths in
// excluded pass through untouched.
func (v *Validator) Middleware(excluded ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(excluded))
	for _, p := range excluded {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				unauthorized(w, err)
				return
			}
			claims, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrInvalidFormat
	}
	return token, nil
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="hookd"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
