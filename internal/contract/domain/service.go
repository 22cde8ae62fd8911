package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/contractbilling/internal/fee"
)

type Service interface {
	Create(ctx context.Context, req CreateContractRequest) (*Contract, error)
	Get(ctx context.Context, id string) (*Contract, error)
	FeeBreakdown(ctx context.Context, id string) (fee.Breakdown, error)
}

type CreateContractRequest struct {
	OrganizationID          string     `json:"organization_id" validate:"required"`
	PlanTier                string     `json:"plan_tier" validate:"required"`
	SeatLimit               int        `json:"seat_limit" validate:"gt=0"`
	Package                 string     `json:"package" validate:"required"`
	BillingCycle            string     `json:"billing_cycle" validate:"required,oneof=monthly annual"`
	BillingDay              int        `json:"billing_day" validate:"gte=1,lte=31"`
	BillingMode             string     `json:"billing_mode" validate:"omitempty,oneof=invoice processor"`
	ProcessorSubscriptionID string     `json:"processor_subscription_id"`
	OneTimeFee              int64      `json:"one_time_fee" validate:"gte=0"`
	FirstInvoiceDiscount    int64      `json:"first_invoice_discount" validate:"gte=0"`
	StartDate               *time.Time `json:"start_date"`
}

var (
	ErrContractNotFound    = errors.New("contract_not_found")
	ErrInvalidContract     = errors.New("invalid_contract")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidBillingDay   = errors.New("invalid_billing_day")
	ErrInvalidSeatLimit    = errors.New("invalid_seat_limit")
	ErrContractExists      = errors.New("contract_exists")
	ErrVersionConflict     = errors.New("contract_version_conflict")
	ErrMissingSubscription = errors.New("missing_processor_subscription")
)

// ValidBillingDay accepts 1..28 or the last-day sentinel.
func ValidBillingDay(day int) bool {
	return (day >= 1 && day <= 28) || day == LastDayOfMonth
}
