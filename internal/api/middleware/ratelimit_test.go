package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/api/models"
	"github.com/firewatch/firewatch/internal/auth"
)

func serveFrom(h http.Handler, remoteAddr, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/fire-risk/nearest", http.NoBody)
	req.RemoteAddr = remoteAddr
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_PerIP(t *testing.T) {
	h := middleware.RateLimit(middleware.Quota{Requests: 2, Window: 90 * time.Second})(passThrough)

	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.1:5000", "").Code)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.1:5001", "").Code)

	rec := serveFrom(h, "10.0.0.1:5002", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))

	var problem models.Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	assert.Equal(t, models.ProblemTypeTooManyRequests, problem.Type)
	assert.Equal(t, "/v1/fire-risk/nearest", problem.Instance)

	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.2:5000", "").Code, "other clients unaffected")
}

func TestRateLimit_PerOperator(t *testing.T) {
	tokens := auth.NewTokenService(auth.TokenConfig{SigningKey: testSigningKey})
	alice, _, err := tokens.IssueOperatorToken("alice@firewatch.dev", auth.ScopeRefetch)
	require.NoError(t, err)
	bob, _, err := tokens.IssueOperatorToken("bob@firewatch.dev", auth.ScopeRefetch)
	require.NoError(t, err)

	quota := middleware.Quota{Requests: 2, Window: time.Minute, PerOperator: true}
	h := middleware.Auth(tokens, "")(middleware.RateLimit(quota)(passThrough))

	assert.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.1:1", alice).Code)
	assert.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.2:1", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, "192.168.1.3:1", alice).Code)
	assert.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.3:1", bob).Code)
}

func TestRateLimit_PerOperatorWithoutTokenUsesIP(t *testing.T) {
	h := middleware.RateLimit(middleware.Quota{Requests: 1, Window: time.Minute, PerOperator: true})(passThrough)

	assert.Equal(t, http.StatusOK, serveFrom(h, "10.1.1.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, "10.1.1.1:1", "").Code)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.1.1.2:1", "").Code)
}

func TestRouteQuotas(t *testing.T) {
	assert.True(t, middleware.RefetchQuota.PerOperator)
	assert.Less(t, middleware.RefetchQuota.Requests, middleware.NearestQuota.Requests)
	assert.Less(t, middleware.NearestQuota.Requests, middleware.ReadQuota.Requests)
	assert.Equal(t, time.Minute, middleware.ReadQuota.Window)
}
