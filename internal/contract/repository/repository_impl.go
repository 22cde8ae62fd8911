package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	"gorm.io/gorm"
)

const contractColumns = `id, org_id, plan_tier, seat_limit, package, base_monthly_fee, package_monthly_fee,
	 prorated_charge, prorated_charge_description, total_monthly_fee, one_time_fee, first_invoice_discount,
	 billing_cycle, billing_day, billing_mode, processor_subscription_id, status, start_date,
	 plan_change_grace_deadline, pending_plan_change, pending_effective_date, version, created_at, updated_at`

type repo struct{}

func Provide() contractdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, contract *contractdomain.Contract) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO contracts (
			id, org_id, plan_tier, seat_limit, package, base_monthly_fee, package_monthly_fee,
			prorated_charge, prorated_charge_description, total_monthly_fee, one_time_fee,
			first_invoice_discount, billing_cycle, billing_day, billing_mode, processor_subscription_id,
			status, start_date, plan_change_grace_deadline, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contract.ID,
		contract.OrgID,
		contract.PlanTier,
		contract.SeatLimit,
		contract.Package,
		contract.BaseMonthlyFee,
		contract.PackageMonthlyFee,
		contract.ProratedCharge,
		contract.ProratedChargeDescription,
		contract.TotalMonthlyFee,
		contract.OneTimeFee,
		contract.FirstInvoiceDiscount,
		contract.BillingCycle,
		contract.BillingDay,
		contract.BillingMode,
		contract.ProcessorSubscriptionID,
		contract.Status,
		contract.StartDate,
		contract.PlanChangeGraceDeadline,
		contract.Version,
		contract.CreatedAt,
		contract.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*contractdomain.Contract, error) {
	return r.findOne(ctx, db, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*contractdomain.Contract, error) {
	return r.findOne(ctx, db, `SELECT `+contractColumns+` FROM contracts WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) FindByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*contractdomain.Contract, error) {
	return r.findOne(ctx, db, `SELECT `+contractColumns+` FROM contracts WHERE org_id = ?`, orgID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*contractdomain.Contract, error) {
	var contract contractdomain.Contract
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&contract).Error; err != nil {
		return nil, err
	}
	if contract.ID == 0 {
		return nil, nil
	}
	return &contract, nil
}

// Upsert inserts a new contract when expectedVersion is zero, otherwise it
// rewrites the active terms only if the stored version still matches. The
// pending columns are never touched here.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, contract *contractdomain.Contract, expectedVersion int64) error {
	if expectedVersion == 0 {
		if contract.Version == 0 {
			contract.Version = 1
		}
		return r.Insert(ctx, db, contract)
	}

	result := db.WithContext(ctx).Exec(
		`UPDATE contracts SET
			plan_tier = ?, seat_limit = ?, package = ?, base_monthly_fee = ?, package_monthly_fee = ?,
			prorated_charge = ?, prorated_charge_description = ?, total_monthly_fee = ?,
			billing_mode = ?, processor_subscription_id = ?, status = ?,
			plan_change_grace_deadline = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		contract.PlanTier,
		contract.SeatLimit,
		contract.Package,
		contract.BaseMonthlyFee,
		contract.PackageMonthlyFee,
		contract.ProratedCharge,
		contract.ProratedChargeDescription,
		contract.TotalMonthlyFee,
		contract.BillingMode,
		contract.ProcessorSubscriptionID,
		contract.Status,
		contract.PlanChangeGraceDeadline,
		contract.UpdatedAt,
		contract.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return contractdomain.ErrVersionConflict
	}
	contract.Version = expectedVersion + 1
	return nil
}

func (r *repo) ListPackages(ctx context.Context, db *gorm.DB, contractID snowflake.ID) ([]contractdomain.ContractPackage, error) {
	var packages []contractdomain.ContractPackage
	err := db.WithContext(ctx).Raw(
		`SELECT contract_id, package_code, created_at
		 FROM contract_packages
		 WHERE contract_id = ?
		 ORDER BY package_code ASC`,
		contractID,
	).Scan(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *repo) ReplacePackages(ctx context.Context, db *gorm.DB, contractID snowflake.ID, codes []catalog.PackageCode, now time.Time) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM contract_packages WHERE contract_id = ?`,
		contractID,
	).Error; err != nil {
		return err
	}
	for _, code := range codes {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO contract_packages (contract_id, package_code, created_at) VALUES (?, ?, ?)`,
			contractID,
			code,
			now,
		).Error; err != nil {
			return err
		}
	}
	return nil
}
