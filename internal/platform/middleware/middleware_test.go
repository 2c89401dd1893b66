package middleware

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confirmgate/internal/platform/config"
	dErrors "confirmgate/pkg/domain-errors"
	"confirmgate/pkg/requestcontext"
)

const secret = "test-secret"

func signHMAC(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func validClaims() Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "core",
		Issuer:    "opencrvs:auth-service",
		Audience:  jwt.ClaimStrings{"opencrvs:confirmgate"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

func TestTokenVerifier(t *testing.T) {
	cfg := config.AuthConfig{HMACSecret: secret, Issuer: "opencrvs:auth-service", Audience: "opencrvs:confirmgate"}
	v, err := NewTokenVerifier(cfg)
	require.NoError(t, err)

	t.Run("accepts a valid token", func(t *testing.T) {
		claims, err := v.ValidateToken(signHMAC(t, validClaims()))
		require.NoError(t, err)
		assert.Equal(t, "core", claims.Subject)
	})

	t.Run("expired", func(t *testing.T) {
		c := validClaims()
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := v.ValidateToken(signHMAC(t, c))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong audience", func(t *testing.T) {
		c := validClaims()
		c.Audience = jwt.ClaimStrings{"someone-else"}
		_, err := v.ValidateToken(signHMAC(t, c))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("missing expiry", func(t *testing.T) {
		c := validClaims()
		c.ExpiresAt = nil
		_, err := v.ValidateToken(signHMAC(t, c))
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("other"))
		require.NoError(t, err)
		_, err = v.ValidateToken(tok)
		assert.Error(t, err)
	})

	t.Run("no key configured", func(t *testing.T) {
		_, err := NewTokenVerifier(config.AuthConfig{})
		assert.ErrorContains(t, err, "auth key is required")
	})
}

func TestTokenVerifierRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "core.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewTokenVerifier(config.AuthConfig{PublicKeyFile: path, HMACSecret: secret})
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims()).SignedString(key)
	require.NoError(t, err)
	claims, err := v.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "core", claims.Subject)

	// An HMAC token must not pass when the verifier expects RSA.
	_, err = v.ValidateToken(signHMAC(t, validClaims()))
	assert.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v, err := NewTokenVerifier(config.AuthConfig{HMACSecret: secret})
	require.NoError(t, err)

	var gotToken, gotSubject string
	h := RequireAuth(v, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = requestcontext.Token(r.Context())
		gotSubject = requestcontext.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token reaches the handler", func(t *testing.T) {
		tok := signHMAC(t, validClaims())
		req := httptest.NewRequest(http.MethodPost, "/events/e/register", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, tok, gotToken)
		assert.Equal(t, "core", gotSubject)
	})

	tests := []struct {
		name   string
		header string
		desc   string
	}{
		{"missing header", "", "Missing or invalid Authorization header"},
		{"not bearer", "Basic abc", "Missing or invalid Authorization header"},
		{"empty bearer", "Bearer ", "Missing or invalid Authorization header"},
		{"garbage token", "Bearer not-a-jwt", "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/events/e/register", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Contains(t, rr.Body.String(), tt.desc)
		})
	}
}

func TestRequestMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var id string
	var at time.Time
	h := RequestID(Logging(logger)(RequestTime(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = requestcontext.RequestID(r.Context())
		at = requestcontext.Now(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events/e", nil))

	assert.NotEmpty(t, id)
	assert.Equal(t, id, rr.Header().Get(RequestIDHeader))
	assert.WithinDuration(t, time.Now(), at, time.Minute)
	assert.Contains(t, buf.String(), `"status":202`)
	assert.Contains(t, buf.String(), id)
}

func TestTimeout(t *testing.T) {
	var deadline bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, deadline)
}
