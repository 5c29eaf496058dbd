// Package apperrors holds the error taxonomy shared by the referral engine,
// its stores and its HTTP layer.
package apperrors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrVersionConflict is returned when a conditional write lost a race
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists is returned when a unique key is violated
	ErrAlreadyExists = errors.New("record already exists")

	// ErrDuplicateTrip is returned when a trip was already counted for a referral
	ErrDuplicateTrip = errors.New("trip already counted")

	// ErrServiceUnavailable is returned once transient retries are exhausted
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInvalidStatusTransition is returned for reward status moves that are not allowed
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// NotFoundError reports a missing referrer, trip, referral or reward.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError is an expected business rejection, such as a referral that
// failed fraud evaluation. It carries the score and individual checks so the
// caller can render them.
type ValidationError struct {
	Reason     string
	FraudScore float64
	Checks     map[string]bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s (fraud score %.2f)", e.Reason, e.FraudScore)
}

// TransientStoreError wraps an I/O failure against a persistence or audit
// collaborator that is worth retrying.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientStoreError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Op: op, Err: err}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

// IsTransientIO classifies a raw driver or network error. Stores use it to
// decide whether to wrap an error with Transient.
func IsTransientIO(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
