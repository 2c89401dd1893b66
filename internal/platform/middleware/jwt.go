package middleware

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"confirmgate/internal/platform/config"
	dErrors "confirmgate/pkg/domain-errors"
)

// Claims are the token claims the gateway relies on. The core signs the
// bearer token it calls the webhook with; the gateway only needs to know
// who sent it.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks core-issued bearer tokens signed with either a shared
// HMAC secret or an RSA key.
type TokenVerifier struct {
	key     any
	methods []string
	opts    []jwt.ParserOption
}

// NewTokenVerifier builds a verifier from cfg. PublicKeyFile wins over
// HMACSecret when both are set.
func NewTokenVerifier(cfg config.AuthConfig) (*TokenVerifier, error) {
	v := &TokenVerifier{}
	switch {
	case cfg.PublicKeyFile != "":
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		v.key = key
		v.methods = []string{"RS256", "RS384", "RS512"}
	case cfg.HMACSecret != "":
		v.key = []byte(cfg.HMACSecret)
		v.methods = []string{"HS256", "HS384", "HS512"}
	default:
		return nil, errors.New("auth key is required")
	}

	v.opts = []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v, nil
}

func (v *TokenVerifier) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, v.opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
