// Package middleware carries the external authentication boundary: the
// fabric itself treats auth policy as out of scope, but the HTTP surface
// in front of it still needs something that turns a bearer token into a
// user_pk before the WebSocket upgrade happens.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const userPKKey contextKey = "user_pk"

const errCodeUnauthorized = "unauthorized"

// clockSkewSeconds tolerates minor clock drift on exp/nbf claims.
const clockSkewSeconds = 30

// UserPK extracts the authenticated user_pk from the request context, or
// nil if the request was never authenticated (only possible when
// AllowUnauthenticated is set).
func UserPK(ctx context.Context) *int64 {
	v, _ := ctx.Value(userPKKey).(*int64)
	return v
}

// Auth validates HS256 bearer JWTs and populates user_pk from the token's
// "sub" claim. When allowUnauthenticated is true, a
// missing Authorization header is let through with a nil user_pk instead
// of rejected — gated off whenever APP_ENV=production regardless of how
// it was configured.
type Auth struct {
	secret               string
	allowUnauthenticated bool
}

// NewAuth builds the auth middleware.
func NewAuth(secret string, allowUnauthenticated bool) *Auth {
	return &Auth{secret: secret, allowUnauthenticated: allowUnauthenticated}
}

// Authenticate validates the bearer token and stashes user_pk in the
// request context for downstream handlers (notably the /ws upgrade).
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if a.allowUnauthenticated && os.Getenv("APP_ENV") != "production" {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, errCodeUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := a.validateJWT(parts[1])
		if err != nil {
			slog.Warn("middleware: jwt validation failed", "error", err, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid or expired token")
			return
		}

		sub, _ := claims["sub"].(string)
		userPK, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errCodeUnauthorized, "token subject is not a valid user_pk")
			return
		}

		ctx := context.WithValue(r.Context(), userPKKey, &userPK)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type jwtClaims map[string]interface{}

func (a *Auth) validateJWT(tokenStr string) (jwtClaims, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed JWT: expected 3 parts, got %d", len(parts))
	}
	headerB64, payloadB64, signatureB64 := parts[0], parts[1], parts[2]

	headerBytes, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header map[string]interface{}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if alg, _ := header["alg"].(string); alg != "HS256" {
		return nil, fmt.Errorf("unsupported JWT algorithm: %v", header["alg"])
	}

	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(headerB64 + "." + payloadB64))
	expected := mac.Sum(nil)

	actual, err := base64.RawURLEncoding.DecodeString(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if !hmac.Equal(expected, actual) {
		return nil, fmt.Errorf("signature verification failed")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims jwtClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	now := time.Now().Unix()
	if exp, ok := claims["exp"].(float64); ok && int64(exp)+clockSkewSeconds < now {
		return nil, fmt.Errorf("token expired")
	}
	if nbf, ok := claims["nbf"].(float64); ok && int64(nbf) > now+clockSkewSeconds {
		return nil, fmt.Errorf("token not yet valid")
	}

	return claims, nil
}
