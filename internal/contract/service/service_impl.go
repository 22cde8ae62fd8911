package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	"github.com/smallbiznis/contractbilling/internal/clock"
	"github.com/smallbiznis/contractbilling/internal/config"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	"github.com/smallbiznis/contractbilling/internal/fee"
	"github.com/smallbiznis/contractbilling/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	pricing  *config.PricingConfigHolder
	repo     contractdomain.Repository
	validate *validator.Validate
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Pricing *config.PricingConfigHolder
	Repo    contractdomain.Repository
}

func NewService(p ServiceParam) contractdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("contract.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		pricing:  p.Pricing,
		repo:     p.Repo,
		validate: validator.New(),
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req contractdomain.CreateContractRequest) (*contractdomain.Contract, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", contractdomain.ErrInvalidContract, err)
	}

	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrganizationID))
	if err != nil || orgID == 0 {
		return nil, contractdomain.ErrInvalidOrganization
	}
	if ctxOrgID, ok := orgcontext.OrgIDFromContext(ctx); ok && ctxOrgID != orgID {
		return nil, contractdomain.ErrInvalidOrganization
	}

	tier, err := catalog.ParsePlanTier(req.PlanTier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractdomain.ErrInvalidContract, err)
	}
	selection, err := catalog.ParsePackageSelection(req.Package)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractdomain.ErrInvalidContract, err)
	}
	cycle, err := catalog.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractdomain.ErrInvalidContract, err)
	}
	if !contractdomain.ValidBillingDay(req.BillingDay) {
		return nil, contractdomain.ErrInvalidBillingDay
	}

	mode := contractdomain.BillingMode(strings.TrimSpace(req.BillingMode))
	if mode == "" {
		mode = contractdomain.BillingModeInvoice
	}
	subscriptionID := strings.TrimSpace(req.ProcessorSubscriptionID)
	if mode == contractdomain.BillingModeProcessor && subscriptionID == "" {
		return nil, contractdomain.ErrMissingSubscription
	}

	prices := s.pricing.Catalog()
	baseFee, err := prices.BaseFee(tier, req.SeatLimit)
	if err != nil {
		if err == catalog.ErrSeatLimitOutsideTier {
			return nil, contractdomain.ErrInvalidSeatLimit
		}
		return nil, fmt.Errorf("%w: %v", contractdomain.ErrInvalidContract, err)
	}
	totals, err := fee.Recompute(fee.Input{
		PlanTier:       tier,
		BaseMonthlyFee: baseFee,
		Package:        selection,
		PackagePrices:  prices.Packages,
		BillingCycle:   cycle,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractdomain.ErrInvalidContract, err)
	}

	now := s.clock.Now().UTC()
	startDate := clock.Today(s.clock)
	if req.StartDate != nil && !req.StartDate.IsZero() {
		startDate = clock.Date(*req.StartDate)
	}

	contract := &contractdomain.Contract{
		ID:                      s.genID.Generate(),
		OrgID:                   orgID,
		PlanTier:                tier,
		SeatLimit:               req.SeatLimit,
		Package:                 selection,
		BaseMonthlyFee:          totals.BaseMonthlyFee,
		PackageMonthlyFee:       totals.PackageMonthlyFee,
		TotalMonthlyFee:         totals.TotalMonthlyFee,
		OneTimeFee:              req.OneTimeFee,
		FirstInvoiceDiscount:    req.FirstInvoiceDiscount,
		BillingCycle:            cycle,
		BillingDay:              req.BillingDay,
		BillingMode:             mode,
		ProcessorSubscriptionID: subscriptionID,
		Status:                  contractdomain.ContractStatusActive,
		StartDate:               startDate,
		Version:                 1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByOrgID(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if existing != nil {
			return contractdomain.ErrContractExists
		}
		if err := s.repo.Insert(ctx, tx, contract); err != nil {
			return err
		}
		return s.repo.ReplacePackages(ctx, tx, contract.ID, selection.Codes(), now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("contract created",
		zap.String("contract_id", contract.ID.String()),
		zap.String("org_id", orgID.String()),
		zap.String("plan_tier", string(tier)),
		zap.Int("seat_limit", contract.SeatLimit),
		zap.String("billing_mode", string(mode)),
	)
	return contract, nil
}

// Get implements domain.Service. Contracts outside the caller's organization
// are reported as not found.
func (s *Service) Get(ctx context.Context, id string) (*contractdomain.Contract, error) {
	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || contractID == 0 {
		return nil, contractdomain.ErrContractNotFound
	}

	contract, err := s.repo.FindByID(ctx, s.db, contractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, contractdomain.ErrContractNotFound
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && contract.OrgID != orgID {
		return nil, contractdomain.ErrContractNotFound
	}
	return contract, nil
}

// FeeBreakdown implements domain.Service.
func (s *Service) FeeBreakdown(ctx context.Context, id string) (fee.Breakdown, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return fee.Breakdown{}, err
	}
	return BreakdownFor(contract, clock.Today(s.clock))
}

// BreakdownFor itemizes the contract's next invoice as of asOf. Packages are
// priced from the fee stored on the contract, not the live catalog, so the
// grand total agrees with total_monthly_fee.
func BreakdownFor(contract *contractdomain.Contract, asOf time.Time) (fee.Breakdown, error) {
	var prorated *fee.ProratedCharge
	if contract.ProratedCharge != 0 {
		prorated = &fee.ProratedCharge{
			Amount:      contract.ProratedCharge,
			Description: contract.ProratedChargeDescription,
		}
	}
	return fee.Calculate(fee.Input{
		PlanTier:             contract.PlanTier,
		BaseMonthlyFee:       contract.BaseMonthlyFee,
		Package:              contract.Package,
		PackagePrices:        catalog.SnapshotPrices(contract.Package, contract.PackageMonthlyFee),
		BillingCycle:         contract.BillingCycle,
		StartDate:            contract.StartDate,
		AsOf:                 asOf,
		OneTimeFee:           contract.OneTimeFee,
		FirstInvoiceDiscount: contract.FirstInvoiceDiscount,
		ProratedCharge:       prorated,
	})
}
