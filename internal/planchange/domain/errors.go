package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation              = errors.New("validation_error")
	ErrContractNotFound        = errors.New("contract_not_found")
	ErrContractNotActive       = errors.New("contract_not_active")
	ErrConflictingChangeExists = errors.New("conflicting_change_exists")
	ErrNoticePeriodViolation   = errors.New("notice_period_violation")
	ErrStorage                 = errors.New("storage_error")
	ErrForbidden               = errors.New("forbidden")
	ErrNoPendingChange         = errors.New("no_pending_change")
	ErrRateLimited             = errors.New("rate_limited")
)

// ValidationError marks a malformed request; it is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation_error: %s", e.Reason)
	}
	return fmt.Sprintf("validation_error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NoticePeriodViolation carries the earliest date a downgrade may take effect.
type NoticePeriodViolation struct {
	RequestedDate time.Time
	EarliestDate  time.Time
}

func (e *NoticePeriodViolation) Error() string {
	return fmt.Sprintf("notice_period_violation: earliest effective date is %s", e.EarliestDate.Format(time.DateOnly))
}

func (e *NoticePeriodViolation) Is(target error) bool {
	return target == ErrNoticePeriodViolation
}

// StorageError wraps an infrastructure failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage_error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
