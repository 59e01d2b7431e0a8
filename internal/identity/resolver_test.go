package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexlayer/reflex/internal/secret"
	"github.com/reflexlayer/reflex/internal/secret/env"
)

func newTestManager(t *testing.T, hmacSecret string) *secret.Manager {
	t.Helper()
	m := secret.NewManager()
	m.Register("env", env.New())
	t.Setenv("JWT_HMAC_SECRET", hmacSecret)
	return m
}

func signHMAC(t *testing.T, secretKey string, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": exp.Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secretKey))
	require.NoError(t, err)
	return signed
}

func TestResolveUserID_Valid(t *testing.T) {
	manager := newTestManager(t, "test-secret")
	keys := NewKeySource(manager, "env://JWT_HMAC_SECRET", "")
	r := NewResolver(keys, nil)

	tok := signHMAC(t, "test-secret", "user-42", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	sub, err := r.ResolveUserID(req)
	require.NoError(t, err)
	assert.Equal(t, "user-42", sub)
}

func TestResolveUserID_NoHeader(t *testing.T) {
	manager := newTestManager(t, "test-secret")
	keys := NewKeySource(manager, "env://JWT_HMAC_SECRET", "")
	r := NewResolver(keys, nil)

	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	_, err := r.ResolveUserID(req)
	assert.ErrorIs(t, err, ErrNoBearerToken)
}

func TestResolveUserID_Expired(t *testing.T) {
	manager := newTestManager(t, "test-secret")
	keys := NewKeySource(manager, "env://JWT_HMAC_SECRET", "")
	r := NewResolver(keys, nil)

	tok := signHMAC(t, "test-secret", "user-42", time.Now().Add(-time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	_, err := r.ResolveUserID(req)
	assert.Error(t, err)
}

func TestResolveUserID_WrongSecret(t *testing.T) {
	manager := newTestManager(t, "test-secret")
	keys := NewKeySource(manager, "env://JWT_HMAC_SECRET", "")
	r := NewResolver(keys, nil)

	tok := signHMAC(t, "wrong-secret", "user-42", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	_, err := r.ResolveUserID(req)
	assert.Error(t, err)
}
