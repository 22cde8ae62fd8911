package domain

import (
	"context"
	"errors"
	"fmt"
)

// ProrationMode tells the processor whether to bill the mid-cycle delta.
type ProrationMode string

const (
	ProrationNone             ProrationMode = "none"
	ProrationCreateProrations ProrationMode = "create_prorations"
)

// Subscription is the part of a processor subscription this service reads.
type Subscription struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	ItemID  string `json:"item_id"`
	PriceID string `json:"price_id"`
}

//go:generate mockgen -destination=../mock/mock_processor.go -package=mock . Processor

// Processor switches the priced plan of a processor-managed subscription.
type Processor interface {
	SwitchPlan(ctx context.Context, subscriptionID, priceID string, mode ProrationMode) (*Subscription, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

var (
	ErrProcessor              = errors.New("processor_error")
	ErrProcessorNotConfigured = errors.New("processor_not_configured")
	ErrInvalidProrationMode   = errors.New("invalid_proration_mode")
)

// ProcessorError carries the message returned by the billing backend.
type ProcessorError struct {
	Message string
	Err     error
}

func NewProcessorError(err error, message string) *ProcessorError {
	return &ProcessorError{Message: message, Err: err}
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor: %s", e.Message)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

func (e *ProcessorError) Is(target error) bool {
	return target == ErrProcessor
}

func (m ProrationMode) Valid() bool {
	return m == ProrationNone || m == ProrationCreateProrations
}
