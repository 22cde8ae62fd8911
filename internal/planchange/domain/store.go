package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PendingChangeStore hides which physical representation holds a contract's
// pending change. Writers pass the transaction they run in.
type PendingChangeStore interface {
	Get(ctx context.Context, db *gorm.DB, contractID snowflake.ID) (*PendingPlanChange, error)
	// Put fails with ErrConflictingChangeExists when one is already pending.
	Put(ctx context.Context, db *gorm.DB, change *PendingPlanChange) error
	GetDue(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]PendingPlanChange, error)
	// Clear reports false when the change was already cleared.
	Clear(ctx context.Context, db *gorm.DB, change PendingPlanChange, at time.Time) (bool, error)
}

type RequestRepository interface {
	InsertCompleted(ctx context.Context, db *gorm.DB, change PendingPlanChange, appliedAt time.Time) error
	ListByContract(ctx context.Context, db *gorm.DB, contractID snowflake.ID) ([]PlanChangeRequest, error)
	InsertCompensation(ctx context.Context, db *gorm.DB, comp *ProcessorCompensation) error
}

// SeatCounter reports the number of currently active users of an organization.
type SeatCounter interface {
	CountActiveUsers(ctx context.Context, orgID snowflake.ID) (int, error)
}
