package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrUpload                  = errors.New("upload failed")
	ErrNotFound                = errors.New("custom order not found")
	ErrForbidden               = errors.New("forbidden")
	ErrOrderLocked             = errors.New("order can no longer be edited by the customer")
	ErrConflict                = errors.New("order changed concurrently")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidSliceTransition  = errors.New("invalid slice status transition")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field problem found in one request.
// It unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
