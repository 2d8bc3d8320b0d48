package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/studyhall/xp-engine/logger"
	"github.com/studyhall/xp-engine/xp"
)

type callerKey struct{}

// CallerFrom returns the authenticated user id stored by RequireAuth.
func CallerFrom(ctx context.Context) (xp.UserID, bool) {
	id, ok := ctx.Value(callerKey{}).(xp.UserID)
	return id, ok && id != ""
}

func withCaller(ctx context.Context, id xp.UserID) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// RequireAuth rejects requests without a valid HS256 bearer token. The
// token subject becomes the caller's user id.
func RequireAuth(secret []byte, log *logger.Logger) func(http.Handler) http.Handler {
	log = log.With("middleware", "RequireAuth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", xp.ErrUnauthorized)
				return
			}
			userID, err := ParseToken(secret, token)
			if err != nil {
				log.Debug("rejected token", "error", err)
				writeError(w, http.StatusUnauthorized, "Unauthorized", xp.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// ParseToken validates token and returns its subject.
func ParseToken(secret []byte, token string) (xp.UserID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", xp.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", xp.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", xp.ErrUnauthorized)
	}
	return xp.UserID(claims.Subject), nil
}

// IssueToken signs an HS256 token for userID (CLI, tests).
func IssueToken(secret []byte, userID xp.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
