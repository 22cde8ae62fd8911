package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLSTATE codes the contract and plan change stores branch on.
const (
	PGUniqueViolation      = "23505"
	PGSerializationFailure = "40001"
	PGDeadlockDetected     = "40P01"
	PGLockNotAvailable     = "55P03"
)

// PGCode returns the SQLSTATE of a postgres error anywhere in the chain.
func PGCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsDuplicateKeyErr reports unique constraint violations across the supported
// drivers, including errors that were not translated by gorm. The pending plan
// change index on plan_change_requests surfaces through here.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || PGCode(err) == PGUniqueViolation {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsLockTimeout reports a row lock that was not granted in time, e.g. the
// contract row taken FOR UPDATE by a concurrent submit or applier run.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	if PGCode(err) == PGLockNotAvailable {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "Error 1205") || strings.Contains(msg, "database is locked")
}

// IsSerializationFailure reports transactions aborted by the database to keep
// concurrent writers consistent. Deadlocks count.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	switch PGCode(err) {
	case PGSerializationFailure, PGDeadlockDetected:
		return true
	}
	return strings.Contains(err.Error(), "Error 1213")
}

// IsRetryableTxErr reports errors after which the whole transaction can be
// replayed from the start.
func IsRetryableTxErr(err error) bool {
	return IsLockTimeout(err) || IsSerializationFailure(err)
}
