package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRequireUser(t *testing.T) {
	var seen string
	h := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	assert.Equal(t, rec.Code, http.StatusUnauthorized)
	assert.Equal(t, seen, "")

	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set(UserIDHeader, "u-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, seen, "u-1")
}

func TestTracingMiddlewareSetsRequestID(t *testing.T) {
	var requestID string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, rec.Code, http.StatusTeapot)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), requestID)
	assert.NotEqual(t, requestID, "unknown")
}

func TestErrorRecoveryMiddleware(t *testing.T) {
	h := ErrorRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, rec.Code, http.StatusInternalServerError)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, called, false)
	assert.Equal(t, rec.Header().Get("Access-Control-Allow-Origin"), "*")
}
