package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/auth"
)

const testSigningKey = "test-secret-key-for-testing-only"

func newTokens(now func() time.Time) *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{SigningKey: testSigningKey, Now: now})
}

func protected(t *testing.T, scope string, captured *string) http.Handler {
	t.Helper()
	return middleware.Auth(newTokens(nil), scope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = middleware.GetOperator(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func serveWithHeader(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/fire-risk/refetch", http.NoBody)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth_MissingAuthorizationHeader(t *testing.T) {
	rec := serveWithHeader(protected(t, auth.ScopeRefetch, nil), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")
}

func TestAuth_InvalidAuthorizationFormat(t *testing.T) {
	h := protected(t, auth.ScopeRefetch, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"just bearer", "Bearer"},
		{"garbage token", "Bearer invalid.jwt.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serveWithHeader(h, tt.header).Code)
		})
	}
}

func TestAuth_ValidTokenWithScope(t *testing.T) {
	token, _, err := newTokens(nil).IssueOperatorToken("ops-oncall", auth.ScopeRefetch)
	require.NoError(t, err)

	var operator string
	h := protected(t, auth.ScopeRefetch, &operator)

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		t.Run(prefix, func(t *testing.T) {
			rec := serveWithHeader(h, prefix+token)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "ops-oncall", operator)
		})
	}
}

func TestAuth_MissingScopeIsForbidden(t *testing.T) {
	token, _, err := newTokens(nil).IssueOperatorToken("viewer", auth.ScopeStatus)
	require.NoError(t, err)

	rec := serveWithHeader(protected(t, auth.ScopeRefetch, nil), "Bearer "+token)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), auth.ScopeRefetch)
}

func TestAuth_ExpiredToken(t *testing.T) {
	issued := time.Now().Add(-2 * auth.OperatorTokenExpiry)
	token, _, err := newTokens(func() time.Time { return issued }).IssueOperatorToken("ops-oncall", auth.ScopeRefetch)
	require.NoError(t, err)

	rec := serveWithHeader(protected(t, auth.ScopeRefetch, nil), "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestGetOperator_NoAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetOperator(req.Context()))
}
