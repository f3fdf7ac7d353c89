package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/routing"
	"github.com/upb/llm-gateway/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	decode := func(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
		t.Helper()
		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return resp
	}

	t.Run("validation error maps to 400 with fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := &utils.ValidationError{
			Message: "validation failed",
			Fields:  map[string]string{"messages": "messages is required"},
		}

		HandleServiceError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode(t, w)
		assert.Equal(t, "bad_request", resp.Error)
		assert.Equal(t, "messages is required", resp.Details["messages"])
	})

	t.Run("exhausted providers map to 502 with the attempt chain", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := &routing.AllProvidersFailedError{
			Attempts: []routing.AttemptError{
				{Provider: "openai", Err: errors.New("timeout")},
				{Provider: "anthropic", Err: errors.New("overloaded")},
			},
		}

		HandleServiceError(w, err, logger)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		resp := decode(t, w)
		assert.Equal(t, "all_providers_failed", resp.Error)
		assert.Equal(t, "timeout", resp.Details["openai"])
		assert.Equal(t, "overloaded", resp.Details["anthropic"])
	})

	t.Run("invalid request maps to 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := providers.NewInvalidRequestError("openai", "unknown model", nil)

		HandleServiceError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rate limit maps to 429", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := providers.NewRateLimitError("openai", "429", nil)

		HandleServiceError(w, err, logger)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "rate_limit_exceeded", decode(t, w).Error)
	})

	t.Run("unknown errors map to 500", func(t *testing.T) {
		w := httptest.NewRecorder()

		HandleServiceError(w, errors.New("boom"), logger)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
