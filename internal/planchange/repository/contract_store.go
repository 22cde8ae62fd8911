package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// contractStore keeps the pending change in the contract row's JSON column.
type contractStore struct{}

type pendingRow struct {
	ID                   snowflake.ID
	PendingPlanChange    datatypes.JSON
	PendingEffectiveDate *time.Time
}

func (s *contractStore) Get(ctx context.Context, db *gorm.DB, contractID snowflake.ID) (*planchangedomain.PendingPlanChange, error) {
	var row pendingRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, pending_plan_change, pending_effective_date
		 FROM contracts
		 WHERE id = ? AND pending_effective_date IS NOT NULL`,
		contractID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return decodeContractChange(row)
}

func (s *contractStore) Put(ctx context.Context, db *gorm.DB, change *planchangedomain.PendingPlanChange) error {
	change.Source = planchangedomain.SourceContract
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET pending_plan_change = ?, pending_effective_date = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND pending_effective_date IS NULL`,
		datatypes.JSON(payload),
		change.EffectiveDate,
		change.RequestedAt,
		change.ContractID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return planchangedomain.ErrConflictingChangeExists
	}
	return nil
}

func (s *contractStore) GetDue(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]planchangedomain.PendingPlanChange, error) {
	var rows []pendingRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, pending_plan_change, pending_effective_date
		 FROM contracts
		 WHERE pending_effective_date IS NOT NULL AND pending_effective_date <= ?
		 ORDER BY pending_effective_date ASC, id ASC
		 LIMIT ?`,
		before,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	changes := make([]planchangedomain.PendingPlanChange, 0, len(rows))
	for _, row := range rows {
		change, err := decodeContractChange(row)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, nil
}

func (s *contractStore) Clear(ctx context.Context, db *gorm.DB, change planchangedomain.PendingPlanChange, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET pending_plan_change = NULL, pending_effective_date = NULL, version = version + 1, updated_at = ?
		 WHERE id = ? AND pending_effective_date IS NOT NULL`,
		at,
		change.ContractID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func decodeContractChange(row pendingRow) (*planchangedomain.PendingPlanChange, error) {
	var change planchangedomain.PendingPlanChange
	if err := json.Unmarshal(row.PendingPlanChange, &change); err != nil {
		return nil, err
	}
	change.ContractID = row.ID
	change.Source = planchangedomain.SourceContract
	if row.PendingEffectiveDate != nil {
		change.EffectiveDate = row.PendingEffectiveDate.UTC()
	}
	return &change, nil
}
