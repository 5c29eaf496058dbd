// Package repository holds the postgres-backed stores of the referral engine
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/revaspay/referrals/internal/apperrors"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
)

// classify maps a gorm or driver error onto the engine's error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrVersionConflict) ||
		errors.Is(err, apperrors.ErrDuplicateTrip) ||
		apperrors.IsNotFound(err) {
		return err
	}
	if isUniqueViolation(err) {
		return apperrors.ErrAlreadyExists
	}
	if isTransient(err) {
		return apperrors.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// notFound converts gorm.ErrRecordNotFound, leaving other errors to classify
func notFound(op, resource, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(resource, id)
	}
	return classify(op, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isTransient(err error) bool {
	if apperrors.IsTransientIO(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgAdminShutdown, pgCannotConnectNow:
			return true
		}
		// class 08: connection exceptions
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
