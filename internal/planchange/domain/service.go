package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/contractbilling/internal/proration"
)

type Service interface {
	SubmitChange(ctx context.Context, req SubmitChangeRequest) (SubmitChangeResponse, error)
	Preview(ctx context.Context, req SubmitChangeRequest) (SubmitChangeResponse, error)
	GetPending(ctx context.Context, contractID string) (*PendingPlanChange, error)
	ListChanges(ctx context.Context, contractID string) ([]PlanChangeRequest, error)
}

type SubmitChangeRequest struct {
	ContractID    string     `json:"-" validate:"required"`
	PlanTier      string     `json:"plan_tier" validate:"required"`
	SeatLimit     int        `json:"seat_limit" validate:"gt=0"`
	Packages      []string   `json:"packages" validate:"required,min=1"`
	OneTimeFee    int64      `json:"one_time_fee" validate:"gte=0"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	RequestedBy   string     `json:"-" validate:"required"`
}

type SubmitChangeResponse struct {
	ContractID        string            `json:"contract_id"`
	ChangeID          string            `json:"change_id,omitempty"`
	EffectiveDate     time.Time         `json:"effective_date"`
	IsDowngrade       bool              `json:"is_downgrade"`
	Applied           bool              `json:"applied"`
	UserCountExceeded bool              `json:"user_count_exceeded"`
	ExcessUsers       int               `json:"excess_users"`
	CurrentUserCount  int               `json:"current_user_count"`
	Old               Terms             `json:"old"`
	Requested         Terms             `json:"requested"`
	OneTimeFee        int64             `json:"one_time_fee"`
	Proration         *proration.Result `json:"proration,omitempty"`
}
