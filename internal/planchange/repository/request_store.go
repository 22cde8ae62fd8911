package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"github.com/smallbiznis/contractbilling/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const requestColumns = `id, contract_id, org_id, status, effective_date, is_downgrade, processor_managed,
	 payload, requested_by, requested_at, applied_at, created_at, updated_at`

// requestStore keeps scheduled changes as plan_change_requests rows. A partial
// unique index allows one pending row per contract.
type requestStore struct{}

func ProvideRequestRepository() planchangedomain.RequestRepository {
	return &requestStore{}
}

func (s *requestStore) Get(ctx context.Context, tx *gorm.DB, contractID snowflake.ID) (*planchangedomain.PendingPlanChange, error) {
	var row planchangedomain.PlanChangeRequest
	err := tx.WithContext(ctx).Raw(
		`SELECT `+requestColumns+`
		 FROM plan_change_requests
		 WHERE contract_id = ? AND status = ?
		 LIMIT 1`,
		contractID,
		planchangedomain.RequestStatusPending,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return decodeRequest(row)
}

func (s *requestStore) Put(ctx context.Context, tx *gorm.DB, change *planchangedomain.PendingPlanChange) error {
	change.Source = planchangedomain.SourceRequest
	err := s.insert(ctx, tx, *change, planchangedomain.RequestStatusPending, nil)
	if db.IsDuplicateKeyErr(err) {
		return planchangedomain.ErrConflictingChangeExists
	}
	return err
}

func (s *requestStore) GetDue(ctx context.Context, tx *gorm.DB, before time.Time, limit int) ([]planchangedomain.PendingPlanChange, error) {
	var rows []planchangedomain.PlanChangeRequest
	err := tx.WithContext(ctx).Raw(
		`SELECT `+requestColumns+`
		 FROM plan_change_requests
		 WHERE status = ? AND effective_date <= ?
		 ORDER BY effective_date ASC, id ASC
		 LIMIT ?`,
		planchangedomain.RequestStatusPending,
		before,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	changes := make([]planchangedomain.PendingPlanChange, 0, len(rows))
	for _, row := range rows {
		change, err := decodeRequest(row)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, nil
}

func (s *requestStore) Clear(ctx context.Context, tx *gorm.DB, change planchangedomain.PendingPlanChange, at time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE plan_change_requests
		 SET status = ?, applied_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		planchangedomain.RequestStatusApplied,
		at,
		at,
		change.ID,
		planchangedomain.RequestStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// InsertCompleted records an already-applied change for audit.
func (s *requestStore) InsertCompleted(ctx context.Context, tx *gorm.DB, change planchangedomain.PendingPlanChange, appliedAt time.Time) error {
	return s.insert(ctx, tx, change, planchangedomain.RequestStatusCompleted, &appliedAt)
}

func (s *requestStore) ListByContract(ctx context.Context, tx *gorm.DB, contractID snowflake.ID) ([]planchangedomain.PlanChangeRequest, error) {
	var rows []planchangedomain.PlanChangeRequest
	err := tx.WithContext(ctx).Raw(
		`SELECT `+requestColumns+`
		 FROM plan_change_requests
		 WHERE contract_id = ?
		 ORDER BY requested_at DESC, id DESC`,
		contractID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *requestStore) InsertCompensation(ctx context.Context, tx *gorm.DB, comp *planchangedomain.ProcessorCompensation) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO plan_change_compensations (
			id, contract_id, org_id, change_id, processor_subscription_id, price_id, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		comp.ID,
		comp.ContractID,
		comp.OrgID,
		comp.ChangeID,
		comp.ProcessorSubscriptionID,
		comp.PriceID,
		comp.Reason,
		comp.CreatedAt,
	).Error
}

func (s *requestStore) insert(ctx context.Context, tx *gorm.DB, change planchangedomain.PendingPlanChange, status planchangedomain.RequestStatus, appliedAt *time.Time) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO plan_change_requests (
			id, contract_id, org_id, status, effective_date, is_downgrade, processor_managed,
			payload, requested_by, requested_at, applied_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		change.ID,
		change.ContractID,
		change.OrgID,
		status,
		change.EffectiveDate,
		change.IsDowngrade,
		change.ProcessorManaged,
		datatypes.JSON(payload),
		change.RequestedBy,
		change.RequestedAt,
		appliedAt,
		change.RequestedAt,
		change.RequestedAt,
	).Error
}

func decodeRequest(row planchangedomain.PlanChangeRequest) (*planchangedomain.PendingPlanChange, error) {
	var change planchangedomain.PendingPlanChange
	if err := json.Unmarshal(row.Payload, &change); err != nil {
		return nil, err
	}
	change.ID = row.ID
	change.ContractID = row.ContractID
	change.Source = planchangedomain.SourceRequest
	change.EffectiveDate = row.EffectiveDate.UTC()
	return &change, nil
}
