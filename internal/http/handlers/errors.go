// Package handlers provides the HTTP API handlers for recanalyzer.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// ErrorModel is the wire shape of every error response: {"message": str}.
type ErrorModel struct {
	Message string `json:"message"`

	status int
}

func (e *ErrorModel) Error() string { return e.Message }

// GetStatus implements huma.StatusError.
func (e *ErrorModel) GetStatus() int { return e.status }

// UseCompactErrors replaces huma's default RFC 7807 error body with the
// compact model. Idempotent; called once from the server constructor.
func UseCompactErrors() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		for _, err := range errs {
			if err != nil {
				if message == "" {
					message = err.Error()
				} else {
					message = message + ": " + err.Error()
				}
				break
			}
		}
		return &ErrorModel{Message: message, status: status}
	}
}

// domainError maps a domain error onto its HTTP status: missing entities
// are 404, validation failures 400, everything else 500 with the reason
// preserved.
func domainError(err error) huma.StatusError {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return &ErrorModel{Message: err.Error(), status: http.StatusNotFound}
	case errors.Is(err, models.ErrValidation):
		return &ErrorModel{Message: err.Error(), status: http.StatusBadRequest}
	default:
		return &ErrorModel{Message: err.Error(), status: http.StatusInternalServerError}
	}
}

// writeDomainError is the raw-handler counterpart of domainError.
func writeDomainError(w http.ResponseWriter, err error) {
	model := domainError(err).(*ErrorModel)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(model.status)
	_ = json.NewEncoder(w).Encode(model)
}
