package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firewatch/firewatch/internal/api/middleware"
)

var generatedID = regexp.MustCompile(`^req_[0-9a-f]{32}$`)

func serveWithRequestID(header string) (ctxID, respID string) {
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = middleware.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/fire-risk", http.NoBody)
	if header != "" {
		req.Header.Set("X-Request-Id", header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return ctxID, w.Header().Get("X-Request-Id")
}

func TestRequestID_KeepsCallerID(t *testing.T) {
	for _, id := range []string{"req-from-client", "sync_2025.07.01", "trace:abc-123", strings.Repeat("a", 64)} {
		ctxID, respID := serveWithRequestID(id)
		assert.Equal(t, id, ctxID)
		assert.Equal(t, id, respID)
	}
}

func TestRequestID_ReplacesInvalidCallerID(t *testing.T) {
	tests := map[string]string{
		"missing":    "",
		"too long":   strings.Repeat("a", 65),
		"whitespace": "req 1",
		"header inj": "abc\r\nX-Evil: 1",
		"slash":      "../../etc",
		"non ascii":  "id-ñ",
	}
	for name, id := range tests {
		t.Run(name, func(t *testing.T) {
			ctxID, respID := serveWithRequestID(id)
			assert.Regexp(t, generatedID, ctxID)
			assert.Equal(t, ctxID, respID)
		})
	}
}

func TestRequestID_GeneratedIDsDiffer(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, _ := serveWithRequestID("")
		assert.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
}
