package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

type ErrorResponse struct {
	Error  string              `json:"error"`
	Errors []domain.FieldError `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, message string, statusCode int, fields []domain.FieldError) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Errors: fields})
}

// statusFor maps service errors onto response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderLocked),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrInvalidSliceTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		respondError(w, "Validation failed", http.StatusBadRequest, verr.Fields)
		return
	}

	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	respondError(w, msg, code, nil)
}
