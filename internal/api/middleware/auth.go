package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/firewatch/firewatch/internal/api/models"
	"github.com/firewatch/firewatch/internal/auth"
)

// operatorKey is the context key for the authenticated operator.
type operatorKey struct{}

// TokenValidator validates operator bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.OperatorClaims, error)
}

// Auth creates authentication middleware that validates operator bearer tokens
// and requires scope. An empty scope only requires a valid token.
func Auth(validator TokenValidator, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			// Bearer prefix is case-insensitive.
			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "operator token has expired")
				case errors.Is(err, auth.ErrInvalidToken):
					writeUnauthorized(w, r, "invalid operator token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			if scope != "" && !claims.HasScope(scope) {
				writeForbidden(w, r, "operator token lacks scope "+scope)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized lives here rather than in response to avoid an import cycle.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := GetRequestID(r.Context())
	problem := models.NewUnauthorized(traceID, detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := GetRequestID(r.Context())
	problem := models.NewForbidden(traceID, detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetOperator returns the authenticated operator from the context, or "".
func GetOperator(ctx context.Context) string {
	if id, ok := ctx.Value(operatorKey{}).(string); ok {
		return id
	}
	return ""
}
