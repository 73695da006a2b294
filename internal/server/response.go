package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// Error codes returned in the JSON error body.
const (
	codeInvalidArgument = "invalid_argument"
	codeUnknownPolicy   = "unknown_policy"
	codeNotFound        = "not_found"
	codeAlreadyExists   = "already_exists"
	codeNoActiveHosts   = "no_active_hosts"
	codeInternal        = "internal"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// writeError writes an error JSON response.
func writeError(w http.ResponseWriter, logger *zap.Logger, status int, code, message string) {
	logger.Warn("API error",
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("message", message),
	)
	writeJSON(w, logger, status, map[string]interface{}{
		"code":    code,
		"message": message,
	})
}

// writeDomainError maps a domain error onto an HTTP status.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, domain.ErrUnknownPolicy):
		status, code = http.StatusBadRequest, codeUnknownPolicy
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		status, code = http.StatusConflict, codeAlreadyExists
	case errors.Is(err, domain.ErrNoActiveHosts), errors.Is(err, domain.ErrNoHostsAvailable):
		status, code = http.StatusServiceUnavailable, codeNoActiveHosts
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Internal error", zap.Error(err))
		message = "internal server error"
	}
	writeError(w, logger, status, code, message)
}

// decodeJSON reads a JSON request body into dest.
func decodeJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
