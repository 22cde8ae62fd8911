package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	"gorm.io/datatypes"
)

type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusSuspended ContractStatus = "suspended"
)

// BillingMode tells whether recurring charges are issued as invoices or driven
// by a processor subscription.
type BillingMode string

const (
	BillingModeInvoice   BillingMode = "invoice"
	BillingModeProcessor BillingMode = "processor"
)

// LastDayOfMonth is the billing_day sentinel resolving to each month's last day.
const LastDayOfMonth = 31

// Contract holds the currently billed terms of one organization.
type Contract struct {
	ID                        snowflake.ID             `gorm:"primaryKey" json:"id"`
	OrgID                     snowflake.ID             `gorm:"not null;uniqueIndex" json:"organization_id"`
	PlanTier                  catalog.PlanTier         `gorm:"type:text;not null" json:"plan_tier"`
	SeatLimit                 int                      `gorm:"not null" json:"seat_limit"`
	Package                   catalog.PackageSelection `gorm:"type:text;not null;default:'none'" json:"selected_package"`
	BaseMonthlyFee            int64                    `gorm:"not null" json:"base_monthly_fee"`
	PackageMonthlyFee         int64                    `gorm:"not null" json:"package_monthly_fee"`
	ProratedCharge            int64                    `gorm:"not null;default:0" json:"prorated_charge"`
	ProratedChargeDescription string                   `gorm:"type:text" json:"prorated_charge_description,omitempty"`
	TotalMonthlyFee           int64                    `gorm:"not null" json:"total_monthly_fee"`
	OneTimeFee                int64                    `gorm:"not null;default:0" json:"one_time_fee"`
	FirstInvoiceDiscount      int64                    `gorm:"not null;default:0" json:"first_invoice_discount"`
	BillingCycle              catalog.BillingCycle     `gorm:"type:text;not null" json:"billing_cycle"`
	BillingDay                int                      `gorm:"not null" json:"billing_day"`
	BillingMode               BillingMode              `gorm:"type:text;not null;default:'invoice'" json:"billing_mode"`
	ProcessorSubscriptionID   string                   `gorm:"type:text" json:"processor_subscription_id,omitempty"`
	Status                    ContractStatus           `gorm:"type:text;not null" json:"status"`
	StartDate                 time.Time                `gorm:"not null" json:"start_date"`
	PlanChangeGraceDeadline   *time.Time               `json:"plan_change_grace_deadline,omitempty"`
	PendingPlanChange         datatypes.JSON           `gorm:"type:jsonb" json:"-"`
	PendingEffectiveDate      *time.Time               `gorm:"index" json:"pending_effective_date,omitempty"`
	Version                   int64                    `gorm:"not null;default:1" json:"version"`
	CreatedAt                 time.Time                `json:"created_at"`
	UpdatedAt                 time.Time                `json:"updated_at"`
}

func (Contract) TableName() string { return "contracts" }

func (c *Contract) IsActive() bool {
	return c != nil && c.Status == ContractStatusActive
}

func (c *Contract) ProcessorManaged() bool {
	return c != nil && c.BillingMode == BillingModeProcessor
}

// HasPendingChange reports whether the embedded pending marker is set.
func (c *Contract) HasPendingChange() bool {
	return c != nil && c.PendingEffectiveDate != nil
}

// ContractPackage is one add-on association rewritten when terms change.
type ContractPackage struct {
	ContractID  snowflake.ID        `gorm:"primaryKey" json:"contract_id"`
	PackageCode catalog.PackageCode `gorm:"primaryKey;type:text" json:"package_code"`
	CreatedAt   time.Time           `json:"created_at"`
}

func (ContractPackage) TableName() string { return "contract_packages" }
