package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/HMasataka/chathub/internal/logging"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie carries the websocket token when the browser cannot set headers
const SessionCookie = "session-token"

type principalKey struct{}

// Claims is the token presented on the websocket upgrade
type Claims struct {
	jwt.RegisteredClaims
}

// PrincipalFrom returns the token subject stored by RequireToken, or ""
func PrincipalFrom(r *http.Request) string {
	principal, _ := r.Context().Value(principalKey{}).(string)
	return principal
}

// RequireToken validates an HS256 token from the session cookie or the
// token query parameter and stores its subject on the request. An empty
// secret lets every request through without a principal.
func RequireToken(secret string, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFrom(r)
			if raw == "" {
				logger.Warn("websocket upgrade without token", "remote_addr", r.RemoteAddr)
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}

			subject, err := ParseToken(secret, raw)
			if err != nil {
				logger.Warn("invalid websocket token",
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseToken verifies raw and returns its subject
func ParseToken(secret, raw string) (string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

// SignToken issues an HS256 token for subject. Used by tooling and tests.
func SignToken(secret, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims}).SignedString([]byte(secret))
}

func tokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// RequireInternalToken guards the internal routes with a static bearer token.
// An empty token disables the check.
func RequireInternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
