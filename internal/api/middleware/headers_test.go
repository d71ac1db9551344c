package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/api/models"
)

var passThrough = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	middleware.SecurityHeaders(passThrough).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/fire-risk", http.NoBody))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
	assert.Equal(t, "geolocation=(self), camera=(), microphone=()", w.Header().Get("Permissions-Policy"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestRequireTLS(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		proto   string
		want    int
	}{
		{"disabled passes plain http", false, "http", http.StatusOK},
		{"https passes", true, "https", http.StatusOK},
		{"no forwarding header passes", true, "", http.StatusOK},
		{"plain http rejected", true, "http", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			w := httptest.NewRecorder()
			middleware.RequireTLS(tt.enabled)(passThrough).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want != http.StatusForbidden {
				return
			}
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			var problem models.Problem
			require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
			assert.Equal(t, models.ProblemTypeTLSRequired, problem.Type)
			assert.Equal(t, "/v1/ops/status", problem.Instance)
		})
	}
}

func TestContentTypeJSON(t *testing.T) {
	w := httptest.NewRecorder()
	middleware.ContentTypeJSON(passThrough).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	w.Header().Set("Content-Type", "text/plain")
	middleware.ContentTypeJSON(passThrough).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
}

func corsRequest(method, origin string, preflight bool) *http.Request {
	req := httptest.NewRequest(method, "/v1/fire-risk", http.NoBody)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
	}
	return req
}

func TestCORS_Allowlist(t *testing.T) {
	mw := middleware.CORS([]string{"https://map.firewatch.dev/", " http://localhost:5173"})

	w := httptest.NewRecorder()
	mw(passThrough).ServeHTTP(w, corsRequest(http.MethodGet, "https://map.firewatch.dev", false))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://map.firewatch.dev", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")

	w = httptest.NewRecorder()
	mw(passThrough).ServeHTTP(w, corsRequest(http.MethodGet, "http://localhost:5173", false))
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	mw(passThrough).ServeHTTP(w, corsRequest(http.MethodGet, "https://evil.example", false))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	w := httptest.NewRecorder()
	middleware.CORS([]string{"*"})(passThrough).ServeHTTP(w, corsRequest(http.MethodGet, "https://anywhere.example", false))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	w := httptest.NewRecorder()
	middleware.CORS([]string{"https://map.firewatch.dev"})(next).
		ServeHTTP(w, corsRequest(http.MethodOptions, "https://map.firewatch.dev", true))

	assert.False(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://map.firewatch.dev", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.MethodPost, w.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_PreflightFromUnlistedOrigin(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	w := httptest.NewRecorder()
	middleware.CORS([]string{"https://map.firewatch.dev"})(next).
		ServeHTTP(w, corsRequest(http.MethodOptions, "https://evil.example", true))

	assert.False(t, called)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORS_Disabled(t *testing.T) {
	w := httptest.NewRecorder()
	middleware.CORS(nil)(passThrough).ServeHTTP(w, corsRequest(http.MethodGet, "https://map.firewatch.dev", false))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	middleware.CORS([]string{"*"})(passThrough).ServeHTTP(w, corsRequest(http.MethodGet, "", false))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
