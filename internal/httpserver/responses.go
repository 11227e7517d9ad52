package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var perr *domain.ProviderError
	switch {
	case errors.As(err, &perr) && perr.Kind == domain.ErrKindBadRequest:
		status, code = http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, domain.ErrQuotaExceeded):
		status, code = http.StatusTooManyRequests, "QUOTA_EXCEEDED"
	case errors.Is(err, domain.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrCircuitOpen):
		status, code = http.StatusServiceUnavailable, "CIRCUIT_OPEN"
	case errors.Is(err, domain.ErrNoHealthyProvider):
		status, code = http.StatusServiceUnavailable, "NO_HEALTHY_PROVIDER"
	case errors.Is(err, domain.ErrProviderTimeout):
		status, code = http.StatusGatewayTimeout, "PROVIDER_TIMEOUT"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error()}})
}
