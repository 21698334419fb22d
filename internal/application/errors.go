package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/approval"
	"github.com/example/neighborhood-portal/internal/persistence"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidCredentials is returned when an email/password pair does not match.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrSessionExpired is returned when a token can no longer be used; the session must end.
	ErrSessionExpired = errors.New("application: session expired")
	// ErrInvalidTransition is returned when a workflow decision does not fit the request's status.
	ErrInvalidTransition = approval.ErrInvalidTransition
)

// AccessDeniedError is an ErrUnauthorized carrying the predicate's reason tag.
type AccessDeniedError struct {
	Reason access.DenyReason
}

func (e *AccessDeniedError) Error() string {
	if e == nil || e.Reason == "" {
		return ErrUnauthorized.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUnauthorized.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrUnauthorized) hold for access denials.
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrUnauthorized
}

func denied(reason access.DenyReason) error {
	return &AccessDeniedError{Reason: reason}
}

// DenyReasonOf extracts the reason tag from an authorization failure.
func DenyReasonOf(err error) (access.DenyReason, bool) {
	var denial *AccessDeniedError
	if errors.As(err, &denial) {
		return denial.Reason, true
	}
	return "", false
}

// TransportError reports that the remote API could not be reached or answered
// with something the client could not decode.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func fieldError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return ErrInvalidTransition
	}
	return err
}
