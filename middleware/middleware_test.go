package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEnsureRequestID(t *testing.T) {
	t.Run("generates an id when none supplied", func(t *testing.T) {
		var seen string
		handler := EnsureRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("honors an incoming X-Request-ID", func(t *testing.T) {
		var seen string
		handler := EnsureRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	})
}

func TestGetRequestIDFromContext(t *testing.T) {
	t.Run("returns the stored id", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "abc")
		assert.Equal(t, "abc", GetRequestIDFromContext(ctx))
	})

	t.Run("empty when nothing is set", func(t *testing.T) {
		assert.Empty(t, GetRequestIDFromContext(context.Background()))
	})
}

func TestRequestLogger(t *testing.T) {
	called := false
	handler := RequestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tea", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
}
