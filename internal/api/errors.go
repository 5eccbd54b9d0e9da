package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tinkerforge-bridge/internal/binding"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeThingError maps registry and binding errors to responses.
// fallback is the message used for unexpected errors.
func writeThingError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, thing.ErrThingNotFound):
		writeNotFound(w, "thing not found")
	case errors.Is(err, thing.ErrThingExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "thing already exists")
	case errors.Is(err, binding.ErrBridgeInUse):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, thing.ErrInvalidThing),
		errors.Is(err, thing.ErrInvalidChannel),
		errors.Is(err, binding.ErrUnknownChannel):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}

// ackHTTPStatus is the response status for a command acknowledgment.
func ackHTTPStatus(ack binding.AckMessage) int {
	if ack.Status == binding.AckAccepted || ack.Error == nil {
		return http.StatusAccepted
	}
	switch ack.Error.Code {
	case binding.ErrCodeInvalidCommand, binding.ErrCodeInvalidParameters:
		return http.StatusBadRequest
	case binding.ErrCodeNotConfigured:
		return http.StatusConflict
	case binding.ErrCodeDeviceUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
