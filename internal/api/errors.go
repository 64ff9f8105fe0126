package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/freegpt4/webapi/internal/apperr"
)

// writeError maps err to a status and a JSON error body. Messages of
// internal and provider failures are logged and replaced by a generic text.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Public() {
		if kind == apperr.NotFound {
			httpError(w, status, kind.String(), "not found")
			return
		}
		httpError(w, status, kind.String(), "%s", ae.Message)
		return
	}

	switch kind {
	case apperr.Provider:
		logger.Warn("provider request failed", zap.Error(err))
		httpError(w, status, kind.String(), "AI provider request failed")
	default:
		logger.Error("request failed", zap.Error(err))
		httpError(w, status, apperr.Internal.String(), "internal server error")
	}
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.Validation, apperr.Upload:
		return http.StatusBadRequest
	case apperr.Auth:
		return http.StatusUnauthorized
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Provider:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
