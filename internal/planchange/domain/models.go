package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	"gorm.io/datatypes"
)

// ChangeSource names the physical representation backing a pending change.
type ChangeSource string

const (
	// SourceContract stores the change on the contract row itself.
	SourceContract ChangeSource = "contract"
	// SourceRequest stores the change as a scheduled request row.
	SourceRequest ChangeSource = "request"
)

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApplied   RequestStatus = "applied"
	RequestStatusCompleted RequestStatus = "completed"
)

// Terms is one side of a plan change.
type Terms struct {
	PlanTier   catalog.PlanTier         `json:"plan_tier"`
	BaseFee    int64                    `json:"base_fee"`
	SeatLimit  int                      `json:"seat_limit"`
	Package    catalog.PackageSelection `json:"package"`
	PackageFee int64                    `json:"package_fee"`
}

// PendingPlanChange is a not-yet-applied mutation of a contract's terms.
// A contract has at most one at any time.
type PendingPlanChange struct {
	ID                        snowflake.ID          `json:"id"`
	ContractID                snowflake.ID          `json:"contract_id"`
	OrgID                     snowflake.ID          `json:"org_id"`
	Source                    ChangeSource          `json:"source"`
	Requested                 Terms                 `json:"requested"`
	RequestedPackages         []catalog.PackageCode `json:"requested_packages"`
	Old                       Terms                 `json:"old"`
	EffectiveDate             time.Time             `json:"effective_date"`
	IsDowngrade               bool                  `json:"is_downgrade"`
	CurrentUserCountAtRequest int                   `json:"current_user_count_at_request"`
	UserCountExceeded         bool                  `json:"user_count_exceeded"`
	ExcessUsers               int                   `json:"excess_users"`
	OneTimeFee                int64                 `json:"one_time_fee"`
	ProratedAmount            int64                 `json:"prorated_amount"`
	ProratedDescription       string                `json:"prorated_description,omitempty"`
	ProcessorManaged          bool                  `json:"processor_managed"`
	ProcessorPriceID          string                `json:"processor_price_id,omitempty"`
	RequestedBy               string                `json:"requested_by"`
	RequestedAt               time.Time             `json:"requested_at"`
}

// PlanChangeRequest is the scheduled-request and audit row of a change.
type PlanChangeRequest struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	ContractID       snowflake.ID   `gorm:"not null;index" json:"contract_id"`
	OrgID            snowflake.ID   `gorm:"not null" json:"org_id"`
	Status           RequestStatus  `gorm:"type:text;not null" json:"status"`
	EffectiveDate    time.Time      `gorm:"not null;index:idx_plan_change_requests_due,priority:2" json:"effective_date"`
	IsDowngrade      bool           `gorm:"not null" json:"is_downgrade"`
	ProcessorManaged bool           `gorm:"not null" json:"processor_managed"`
	Payload          datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	RequestedBy      string         `gorm:"type:text;not null" json:"requested_by"`
	RequestedAt      time.Time      `gorm:"not null" json:"requested_at"`
	AppliedAt        *time.Time     `json:"applied_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (PlanChangeRequest) TableName() string { return "plan_change_requests" }

// ProcessorCompensation records a processor switch whose local commit failed
// and needs a follow-up.
type ProcessorCompensation struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	ContractID              snowflake.ID `gorm:"not null;index" json:"contract_id"`
	OrgID                   snowflake.ID `gorm:"not null" json:"org_id"`
	ChangeID                snowflake.ID `gorm:"not null" json:"change_id"`
	ProcessorSubscriptionID string       `gorm:"type:text;not null" json:"processor_subscription_id"`
	PriceID                 string       `gorm:"type:text;not null" json:"price_id"`
	Reason                  string       `gorm:"type:text;not null" json:"reason"`
	CreatedAt               time.Time    `json:"created_at"`
	ResolvedAt              *time.Time   `json:"resolved_at,omitempty"`
}

func (ProcessorCompensation) TableName() string { return "plan_change_compensations" }
