package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/aditya/ride-dispatch/internal/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSON writes data with the given status. Encoding failures are logged; the
// status line has already gone out by then.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encode response", "status", status, "error", err)
	}
}

func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, data)
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes err with its own status code.
func Error(w http.ResponseWriter, err *apperrors.APIError) {
	JSON(w, err.StatusCode, ErrorBody{Error: err.Code, Message: err.Message})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, apperrors.BadRequest(message))
}

func NotFound(w http.ResponseWriter, resource string) {
	Error(w, apperrors.NotFound(resource))
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, apperrors.InternalError(message))
}
