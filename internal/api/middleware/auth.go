package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/evermore/evermore/internal/api/models"
	"github.com/evermore/evermore/internal/auth"
)

// TokenValidator validates a bearer token and returns the user it was issued to.
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

// userIDKey is the context key for the authenticated user ID.
type userIDKey struct{}

// Auth creates authentication middleware that requires a valid JWT bearer token.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, detail := authenticate(validator, r)
			if detail != "" {
				writeUnauthorized(w, r, detail)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the user ID when a valid token is presented and lets anonymous
// requests through. A presented but invalid token is still rejected.
func OptionalAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, detail := authenticate(validator, r)
			if detail != "" {
				writeUnauthorized(w, r, detail)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate returns the user ID, or a non-empty detail describing why the request
// is not authenticated.
func authenticate(validator TokenValidator, r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "missing authorization header"
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) ||
		!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return "", "invalid authorization header format"
	}

	tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tokenString == "" {
		return "", "missing bearer token"
	}

	userID, err := validator.ValidateAccessToken(tokenString)
	switch {
	case err == nil:
		return userID, ""
	case errors.Is(err, auth.ErrAccessTokenExpired):
		return "", "access token has expired"
	case errors.Is(err, auth.ErrInvalidAccessToken):
		return "", "invalid access token"
	default:
		return "", "authentication failed"
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
// The response package imports this one, so the problem is written directly.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="evermore"`)
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetUserID retrieves the authenticated user ID from the context.
// Returns an empty string if not authenticated.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithUserID returns a context carrying userID, as Auth does.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}
