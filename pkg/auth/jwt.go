// Package auth validates JWT bearer tokens against a provider's JWKS.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/hookd/pkg/config"
)

// Claims are the claims extracted from a validated token.
type Claims struct {
	Subject string         `json:"sub"`
	Email   string         `json:"email,omitempty"`
	Role    string         `json:"role,omitempty"`
	Custom  map[string]any `json:"-"`
}

// Validator validates tokens. The JWKS is cached and refreshed in the
// background to follow key rotation.
type Validator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
	cancel   context.CancelFunc
}

// NewValidator registers the JWKS URL and fetches it once so a bad
// configuration fails at start-up.
func NewValidator(ctx context.Context, cfg config.AuthConfig) (*Validator, error) {
	refresh := cfg.RefreshInterval
	if refresh == 0 {
		refresh = 15 * time.Minute
	}

	cacheCtx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &Validator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cancel:   cancel,
	}, nil
}

// ValidateToken verifies the signature, expiry, issuer and audience of a
// token and returns its claims.
func (v *Validator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{Subject: parsed.Subject(), Custom: make(map[string]any)}
	for key, value := range parsed.PrivateClaims() {
		switch key {
		case "email":
			claims.Email, _ = value.(string)
		case "role":
			claims.Role, _ = value.(string)
		default:
			claims.Custom[key] = value
		}
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *Validator) Close() {
	v.cancel()
}
