package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/routing"
	"github.com/upb/llm-gateway/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var validationErr *utils.ValidationError
	var allFailed *routing.AllProvidersFailedError

	switch {
	case errors.As(err, &validationErr):
		writeOrLog(utils.WriteBadRequest(w, validationErr.Message, toDetails(validationErr.Fields)), logger)

	case errors.As(err, &allFailed):
		// every provider in the chain failed; surface the chain
		details := map[string]interface{}{}
		for _, attempt := range allFailed.Attempts {
			details[attempt.Provider] = attempt.Err.Error()
		}
		writeOrLog(utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse{
			Error:   "all_providers_failed",
			Message: "no provider could serve the request",
			Details: details,
		}), logger)

	case providers.Kind(err) == providers.KindInvalidRequest:
		writeOrLog(utils.WriteBadRequest(w, err.Error(), nil), logger)

	case providers.Kind(err) == providers.KindRateLimit:
		writeOrLog(utils.WriteJSON(w, http.StatusTooManyRequests, utils.ErrorResponse{
			Error:   "rate_limit_exceeded",
			Message: err.Error(),
		}), logger)

	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeOrLog(utils.WriteInternalServerError(w, ""), logger)
	}
}

func writeOrLog(err error, logger *zap.Logger) {
	if err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

func toDetails(fields map[string]string) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	details := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	return details
}
