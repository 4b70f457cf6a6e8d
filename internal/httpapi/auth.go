package httpapi

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ownerIDContextKey contextKey = "owner_id"

// Authenticator resolves a bearer token to the caller's owner_id, the
// identity spec.md §3/§4.2 scopes storage-state records and sessions to.
// This is intentionally a thin seam — spec.md §2's C11 entry excludes auth
// *policy* (login, issuance, roles) from this component's scope, leaving
// only token verification.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (ownerID string, err error)
}

// NoopAuthenticator accepts any token (including an empty one) and
// attributes it to a fixed owner, for local development per the teacher's
// own plugins/auth.NoopAuthProvider.
type NoopAuthenticator struct {
	OwnerID string
}

func (n NoopAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if n.OwnerID != "" {
		return n.OwnerID, nil
	}
	return "anonymous", nil
}

// jwtClaims is the minimal RS256 claim set this façade verifies: the
// subject is the owner_id, everything else (roles, sessions, refresh)
// belongs to whatever issues the token, outside this component's scope.
type jwtClaims struct {
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies RS256-signed tokens against a single public
// key, mirroring the teacher's plugins/auth.JWTAuthProvider.Authenticate
// but narrowed to verification only — this service never issues tokens.
type JWTAuthenticator struct {
	publicKey *rsa.PublicKey
}

// NewJWTAuthenticator loads an RSA public key (PKIX or PKCS1 PEM) from
// path.
func NewJWTAuthenticator(publicKeyPath string) (*JWTAuthenticator, error) {
	raw, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("jwt public key: no PEM block found")
	}

	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("jwt public key: not an RSA key")
		}
		return &JWTAuthenticator{publicKey: rsaPub}, nil
	}

	rsaPub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return &JWTAuthenticator{publicKey: rsaPub}, nil
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("no token provided")
	}

	claims := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// RequireAuth wraps next, rejecting requests with no valid bearer token and
// otherwise stashing the resolved owner_id in the request context,
// following the teacher's middleware.AuthMiddleware shape (Bearer-prefix
// parsing, context injection) narrowed to this seam's single Authenticate
// call.
func RequireAuth(authenticator Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		var token string
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}

		ownerID, err := authenticator.Authenticate(r.Context(), token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDContextKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerIDFromContext retrieves the owner_id RequireAuth attached.
func OwnerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ownerIDContextKey).(string)
	return id
}
