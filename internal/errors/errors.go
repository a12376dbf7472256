package errors

import (
	"errors"
	"fmt"
)

const (
	ErrInvalidTransition       = "INVALID_TRANSITION"
	ErrUnknownOrInactiveFlight = "UNKNOWN_OR_INACTIVE_FLIGHT"
	ErrConnectionNotFound      = "CONNECTION_NOT_FOUND"
	ErrQueueOverflow           = "QUEUE_OVERFLOW"
	ErrNotFound                = "NOT_FOUND"
	ErrValidation              = "VALIDATION"
	ErrConflict                = "CONFLICT"
	ErrRateLimited             = "RATE_LIMITED"
	ErrInternal                = "INTERNAL"
)

type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func Wrap(code, msg string, err error) *DomainError {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any DomainError in err's chain carries code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	for err != nil {
		if !errors.As(err, &domainErr) {
			return false
		}
		if domainErr.Code == code {
			return true
		}
		err = domainErr.Err
	}
	return false
}

// Code returns the code of the first DomainError in err's chain, or "".
func Code(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// --- Generic ---

func NewNotFound(entity, id string) *DomainError {
	return &DomainError{Code: ErrNotFound, Message: fmt.Sprintf("%s with id %s not found", entity, id)}
}

func NewInvalidTransition(entity, from, to string) *DomainError {
	return &DomainError{Code: ErrInvalidTransition, Message: fmt.Sprintf("%s cannot transition from %s to %s", entity, from, to)}
}

func NewValidation(msg string) *DomainError {
	return &DomainError{Code: ErrValidation, Message: msg}
}

func NewConflict(msg string) *DomainError {
	return &DomainError{Code: ErrConflict, Message: msg}
}

func NewInternal(msg string, err error) *DomainError {
	return &DomainError{Code: ErrInternal, Message: msg, Err: err}
}

// --- Drone / Hub ---

func DroneNotFound(id string) *DomainError {
	return NewNotFound("drone", id)
}

func DroneAlreadyRegistered(id string) *DomainError {
	return NewConflict(fmt.Sprintf("drone %s is already registered", id))
}

func DroneInUse(id, flightID string) *DomainError {
	return NewConflict(fmt.Sprintf("drone %s is referenced by non-terminal flight %s", id, flightID))
}

func HubNotFound(id string) *DomainError {
	return NewNotFound("hub", id)
}

// --- Flight ---

func FlightNotFound(id string) *DomainError {
	return NewNotFound("flight", id)
}

func FlightAlreadyExists(id string) *DomainError {
	return NewConflict(fmt.Sprintf("flight %s already exists", id))
}

func FlightInvalidTransition(from, to string) *DomainError {
	return NewInvalidTransition("flight", from, to)
}

func UnknownOrInactiveFlight(id string) *DomainError {
	return &DomainError{Code: ErrUnknownOrInactiveFlight, Message: fmt.Sprintf("flight %s is unknown or not active", id)}
}

// --- Command ---

func CommandNotFound(id string) *DomainError {
	return NewNotFound("command", id)
}

func CommandInvalidTransition(from, to string) *DomainError {
	return NewInvalidTransition("command", from, to)
}

func CommandRateLimited(droneID string) *DomainError {
	return &DomainError{Code: ErrRateLimited, Message: fmt.Sprintf("too many commands issued for drone %s", droneID)}
}

// --- Conflict ---

func ConflictNotFound(id string) *DomainError {
	return NewNotFound("conflict", id)
}

func ConflictInvalidTransition(from, to string) *DomainError {
	return NewInvalidTransition("conflict", from, to)
}

// --- Subscriptions ---

func ConnectionNotFound(id string) *DomainError {
	return &DomainError{Code: ErrConnectionNotFound, Message: fmt.Sprintf("connection %s not found", id)}
}

func QueueOverflow(connID string) *DomainError {
	return &DomainError{Code: ErrQueueOverflow, Message: fmt.Sprintf("outbound queue full for connection %s", connID)}
}
