package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/pkg/httpext"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
)

// ExtractToken returns the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return parts[1]
}

// ValidateToken verifies an HS256 token and returns its subject.
func ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return config.GetJWTSecret(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token subject as the caller's user id.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ExtractToken(r)
		if tokenString == "" {
			httpext.JsonError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := ValidateToken(tokenString)
		if err != nil {
			log.Warn().
				Err(err).
				Str("path", r.URL.Path).
				Msg("Rejected bearer token")
			httpext.JsonError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID returns a context carrying an authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID retrieves the authenticated user id from the request context
func UserID(r *http.Request) string {
	if id, ok := r.Context().Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
