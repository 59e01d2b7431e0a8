// Package identity consumes (never mints) bearer tokens to resolve a
// request's user_id for rate-limiting and logging purposes. Token
// verification failure is not a hard failure: the caller falls back to
// IP-only identification.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reflexlayer/reflex/internal/secret"
)

// ErrNoBearerToken indicates the request carried no Authorization: Bearer header.
var ErrNoBearerToken = errors.New("identity: no bearer token present")

// KeySource resolves the signing key material for a token's algorithm.
// HMAC secrets and RSA/ECDSA public keys are both fetched through
// secret.Manager so key rotation follows the same path as every other
// credential the service consumes.
type KeySource struct {
	manager  *secret.Manager
	hmacPath string
	rsaPath  string
}

// NewKeySource builds a KeySource backed by the given secret manager.
// hmacPath and rsaPath are secret.Manager URIs (e.g. "env://JWT_HMAC_SECRET",
// "vault://secret/data/reflex#jwt_public_key"); either may be empty if that
// algorithm family is not in use.
func NewKeySource(manager *secret.Manager, hmacPath, rsaPath string) KeySource {
	return KeySource{manager: manager, hmacPath: hmacPath, rsaPath: rsaPath}
}

func (k KeySource) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if k.hmacPath == "" {
				return nil, errors.New("identity: no HMAC key configured")
			}
			secretStr, err := k.manager.Get(ctx, k.hmacPath)
			if err != nil {
				return nil, fmt.Errorf("identity: resolve hmac secret: %w", err)
			}
			return []byte(secretStr), nil
		case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
			if k.rsaPath == "" {
				return nil, errors.New("identity: no RSA key configured")
			}
			pemStr, err := k.manager.Get(ctx, k.rsaPath)
			if err != nil {
				return nil, fmt.Errorf("identity: resolve rsa key: %w", err)
			}
			return jwt.ParseRSAPublicKeyFromPEM([]byte(pemStr))
		default:
			return nil, fmt.Errorf("identity: unsupported signing method %v", token.Header["alg"])
		}
	}
}

// Resolver extracts a verified user_id from an incoming request's bearer
// token, if present.
type Resolver struct {
	keys   KeySource
	logger *slog.Logger
}

// NewResolver builds a Resolver. A nil logger falls back to a text handler
// on stderr.
func NewResolver(keys KeySource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Resolver{keys: keys, logger: logger}
}

// ResolveUserID parses and verifies the Authorization header's bearer
// token and returns the "sub" claim. A missing or empty bearer header
// returns ErrNoBearerToken without logging. A malformed, expired or badly
// signed token, or one without a "sub" claim, returns an error and logs at
// warn. Callers must treat a non-nil
// error as "fall back to IP-only identification", not as a request
// failure.
func (r *Resolver) ResolveUserID(req *http.Request) (string, error) {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrNoBearerToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if raw == "" {
		return "", ErrNoBearerToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, r.keys.keyFunc(req.Context()),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512"}),
	)
	if err != nil {
		r.logger.Warn("bearer token verification failed, falling back to IP-only identification", "error", err)
		return "", fmt.Errorf("identity: verify token: %w", err)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		r.logger.Warn("bearer token missing sub claim, falling back to IP-only identification")
		return "", errors.New("identity: token missing sub claim")
	}
	return sub, nil
}
