package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/aditya/towbid/internal/errors"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

type ErrorInfo struct {
	Kind    apperrors.Kind `json:"kind"`
	Reason  string         `json:"reason,omitempty"`
	Message string         `json:"message"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success wraps data in the success envelope
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, Response{Success: true, Data: data})
}

// Created sends a 201 response
func Created(w http.ResponseWriter, data interface{}) {
	Success(w, http.StatusCreated, data)
}

// NoContent sends a 204 response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes err as the error envelope. Anything that is not an APIError is
// reported as internal and its cause is logged, never sent to the caller.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apperrors.As(err)
	if !ok {
		apiErr = apperrors.Internal("internal server error", err)
	}
	if apiErr.Kind == apperrors.KindInternal || apiErr.Kind == apperrors.KindExternal {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "kind", apiErr.Kind, "error", err)
	}

	JSON(w, apiErr.StatusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Kind:    apiErr.Kind,
			Reason:  apiErr.Reason,
			Message: apiErr.Message,
		},
	})
}

// BadRequest sends a 400 validation error
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, apperrors.Validation(message))
}
