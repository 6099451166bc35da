package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/ledger"
	"github.com/wonny/orbit/internal/remote"
	"github.com/wonny/orbit/internal/strategy"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors to HTTP status codes
// ⭐ SSOT: 에러 → 상태코드 매핑은 여기서만
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPrimaryOnly):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, remote.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, remote.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, engine.ErrInstrumentMismatch),
		errors.Is(err, engine.ErrUnsupportedAction),
		errors.Is(err, remote.ErrUnknownAction),
		errors.Is(err, remote.ErrMalformed),
		errors.Is(err, strategy.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, strategy.ErrThroughMarket),
		errors.Is(err, execution.ErrOrderNotWorking),
		errors.Is(err, execution.ErrEntryFilled),
		errors.Is(err, execution.ErrEntryNotFilled),
		errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
