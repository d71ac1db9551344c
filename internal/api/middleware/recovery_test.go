package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/api/models"
)

func TestRecovery_PanicBecomesProblem(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.RequestID(middleware.Recovery(zerolog.New(&buf))(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) { panic("index out of sync") },
	)))

	req := httptest.NewRequest(http.MethodGet, "/v1/fire-risk/nearest", http.NoBody)
	req.Header.Set("X-Request-Id", "req-panic")
	w := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(w, req) })

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var problem models.Problem
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, models.ProblemTypeInternal, problem.Type)
	assert.Equal(t, "req-panic", problem.TraceID)
	assert.Equal(t, "/v1/fire-risk/nearest", problem.Instance)
	assert.NotContains(t, problem.Detail, "index out of sync")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "panic recovered", entry["message"])
	assert.Equal(t, "index out of sync", entry["panic"])
	assert.Equal(t, "req-panic", entry["request_id"])
	assert.NotEmpty(t, entry["stack"])
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	h := middleware.Recovery(zerolog.Nop())(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) },
	))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	})
}

func TestRecovery_PassesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	middleware.Recovery(zerolog.Nop())(passThrough).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)
}
