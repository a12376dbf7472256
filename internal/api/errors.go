package api

import (
	"encoding/json"
	"errors"
	"net/http"

	domainerrors "github.com/yegors/co-utm/internal/errors"
)

// ErrorBody is the JSON envelope for every failed request
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the domain error code and a readable message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor maps a domain error code to an HTTP status
func StatusFor(code string) int {
	switch code {
	case domainerrors.ErrInvalidTransition, domainerrors.ErrConflict:
		return http.StatusConflict
	case domainerrors.ErrNotFound, domainerrors.ErrConnectionNotFound:
		return http.StatusNotFound
	case domainerrors.ErrValidation:
		return http.StatusBadRequest
	case domainerrors.ErrUnknownOrInactiveFlight:
		return http.StatusUnprocessableEntity
	case domainerrors.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes err as an error envelope. Errors without a domain code
// are reported as INTERNAL.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.Code(err)
	if code == "" {
		code = domainerrors.ErrInternal
	}
	message := err.Error()
	var domainErr *domainerrors.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	WriteJSON(w, StatusFor(code), ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func writeValidation(w http.ResponseWriter, msg string) {
	WriteError(w, domainerrors.NewValidation(msg))
}

// decodeJSON reads a bounded JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domainerrors.Wrap(domainerrors.ErrValidation, "invalid JSON body", err)
	}
	return nil
}
