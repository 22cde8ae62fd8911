package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	"github.com/smallbiznis/contractbilling/internal/clock"
	"github.com/smallbiznis/contractbilling/internal/config"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	obsmetrics "github.com/smallbiznis/contractbilling/internal/observability/metrics"
	"github.com/smallbiznis/contractbilling/internal/observability/tracing"
	"github.com/smallbiznis/contractbilling/internal/orgcontext"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"github.com/smallbiznis/contractbilling/internal/planchange/guard"
	"github.com/smallbiznis/contractbilling/internal/planchange/policy"
	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	"github.com/smallbiznis/contractbilling/internal/proration"
	"github.com/smallbiznis/contractbilling/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	kindUpgrade          = "upgrade"
	kindDowngrade        = "downgrade"
	kindImmediateUpgrade = "immediate_upgrade"

	submitEndpoint = "plan_change.submit"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	pricing   *config.PricingConfigHolder
	policy    *policy.Policy
	contracts contractdomain.Repository
	pending   planchangedomain.PendingChangeStore
	requests  planchangedomain.RequestRepository
	seats     planchangedomain.SeatCounter
	processor processordomain.Processor
	limiter   *ratelimit.PlanChangeLimiter
	metrics   *obsmetrics.Metrics
	validate  *validator.Validate
	tracer    trace.Tracer
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Pricing   *config.PricingConfigHolder
	Policy    *policy.Policy
	Contracts contractdomain.Repository
	Pending   planchangedomain.PendingChangeStore
	Requests  planchangedomain.RequestRepository
	Seats     planchangedomain.SeatCounter
	Processor processordomain.Processor
	Limiter   *ratelimit.PlanChangeLimiter        `optional:"true"`
	Metrics   *obsmetrics.Metrics                 `optional:"true"`
}

func NewService(p ServiceParam) planchangedomain.Service {
	return newService(p)
}

func newService(p ServiceParam) *Service {
	pol := p.Policy
	if pol == nil {
		pol = policy.New(p.Clock, p.Pricing.NoticeDays)
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("planchange.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		pricing:   p.Pricing,
		policy:    pol,
		contracts: p.Contracts,
		pending:   p.Pending,
		requests:  p.Requests,
		seats:     p.Seats,
		processor: p.Processor,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
		validate:  newValidator(),
		tracer:    otel.Tracer("contractbilling/planchange"),
	}
}

// parsedRequest is a submission resolved against the current price catalog.
type parsedRequest struct {
	contractID    snowflake.ID
	tier          catalog.PlanTier
	selection     catalog.PackageSelection
	seatLimit     int
	baseFee       int64
	packageFee    int64
	oneTimeFee    int64
	effectiveDate *time.Time
	requestedBy   string
	prices        catalog.Catalog
}

// evaluation is the outcome of classifying a request against a contract.
type evaluation struct {
	change    *planchangedomain.PendingPlanChange
	proration *proration.Result
}

// SubmitChange implements domain.Service.
func (s *Service) SubmitChange(ctx context.Context, req planchangedomain.SubmitChangeRequest) (planchangedomain.SubmitChangeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "planchange.SubmitChange")
	defer span.End()

	resp, err := s.submit(ctx, req)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, rejectionReason(err))
		s.metrics.RecordPlanChangeRejected(ctx, rejectionReason(err))
		return planchangedomain.SubmitChangeResponse{}, err
	}
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("contract_id", resp.ContractID),
		attribute.Bool("is_downgrade", resp.IsDowngrade),
		attribute.Bool("applied", resp.Applied),
	)...)
	return resp, nil
}

func (s *Service) submit(ctx context.Context, req planchangedomain.SubmitChangeRequest) (planchangedomain.SubmitChangeResponse, error) {
	parsed, err := s.parseRequest(req)
	if err != nil {
		return planchangedomain.SubmitChangeResponse{}, err
	}

	current, err := s.loadContract(ctx, s.db, parsed.contractID)
	if err != nil {
		return planchangedomain.SubmitChangeResponse{}, err
	}
	if err := s.allow(ctx, current.OrgID); err != nil {
		return planchangedomain.SubmitChangeResponse{}, err
	}

	activeUsers, err := s.seats.CountActiveUsers(ctx, current.OrgID)
	if err != nil {
		return planchangedomain.SubmitChangeResponse{}, planchangedomain.NewStorageError("count_active_users", err)
	}

	var (
		eval     evaluation
		switched bool
		kind     string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contract, err := s.loadContractForUpdate(ctx, tx, parsed.contractID)
		if err != nil {
			return err
		}

		existing, err := s.pending.Get(ctx, tx, contract.ID)
		if err != nil {
			return planchangedomain.NewStorageError("get_pending_change", err)
		}
		if existing != nil {
			return planchangedomain.ErrConflictingChangeExists
		}

		eval, err = s.evaluate(contract, parsed, activeUsers)
		if err != nil {
			return err
		}

		if eval.change.ProcessorManaged && !eval.change.IsDowngrade {
			kind = kindImmediateUpgrade
			return s.switchImmediately(ctx, tx, contract, eval.change, &switched)
		}

		kind = kindUpgrade
		if eval.change.IsDowngrade {
			kind = kindDowngrade
		}
		if err := s.pending.Put(ctx, tx, eval.change); err != nil {
			if errors.Is(err, planchangedomain.ErrConflictingChangeExists) {
				return err
			}
			return planchangedomain.NewStorageError("put_pending_change", err)
		}
		return nil
	})
	if err != nil {
		if switched {
			s.recordCompensation(ctx, eval.change, err)
			return planchangedomain.SubmitChangeResponse{}, planchangedomain.NewStorageError("commit_immediate_upgrade", err)
		}
		return planchangedomain.SubmitChangeResponse{}, err
	}

	s.metrics.RecordPlanChangeSubmitted(ctx, kind)
	s.log.Info("plan change submitted",
		zap.String("contract_id", eval.change.ContractID.String()),
		zap.String("change_id", eval.change.ID.String()),
		zap.String("kind", kind),
		zap.String("plan_tier", string(eval.change.Requested.PlanTier)),
		zap.Int("seat_limit", eval.change.Requested.SeatLimit),
		zap.Time("effective_date", eval.change.EffectiveDate),
		zap.Bool("user_count_exceeded", eval.change.UserCountExceeded),
	)
	return responseFor(eval, kind == kindImmediateUpgrade), nil
}

// switchImmediately moves a processor-managed contract to the upgraded price
// now and records the change as completed. The processor bills the prorated
// delta itself.
func (s *Service) switchImmediately(ctx context.Context, tx *gorm.DB, contract *contractdomain.Contract, change *planchangedomain.PendingPlanChange, switched *bool) error {
	_, err := s.processor.SwitchPlan(ctx, contract.ProcessorSubscriptionID, change.ProcessorPriceID, processordomain.ProrationCreateProrations)
	if err != nil {
		s.metrics.RecordProcessorCall(ctx, string(processordomain.ProrationCreateProrations), "error")
		s.log.Warn("processor rejected immediate upgrade",
			zap.String("contract_id", contract.ID.String()),
			zap.String("price_id", change.ProcessorPriceID),
			zap.Error(err),
		)
		return err
	}
	s.metrics.RecordProcessorCall(ctx, string(processordomain.ProrationCreateProrations), "success")
	*switched = true

	now := s.clock.Now().UTC()
	expected := contract.Version
	if err := ApplyTerms(contract, *change, nil); err != nil {
		return planchangedomain.NewStorageError("apply_terms", err)
	}
	contract.UpdatedAt = now

	if err := s.contracts.ReplacePackages(ctx, tx, contract.ID, change.RequestedPackages, now); err != nil {
		return planchangedomain.NewStorageError("replace_packages", err)
	}
	if err := s.contracts.Upsert(ctx, tx, contract, expected); err != nil {
		return planchangedomain.NewStorageError("update_contract", err)
	}
	change.Source = planchangedomain.SourceRequest
	if err := s.requests.InsertCompleted(ctx, tx, *change, now); err != nil {
		return planchangedomain.NewStorageError("insert_completed_change", err)
	}
	return nil
}

// recordCompensation notes a processor switch whose local commit was lost so
// the two sides can be reconciled.
func (s *Service) recordCompensation(ctx context.Context, change *planchangedomain.PendingPlanChange, cause error) {
	comp := &planchangedomain.ProcessorCompensation{
		ID:               s.genID.Generate(),
		ContractID:       change.ContractID,
		OrgID:            change.OrgID,
		ChangeID:         change.ID,
		PriceID:          change.ProcessorPriceID,
		Reason:           tracing.SafeError(cause).Error(),
		CreatedAt:        s.clock.Now().UTC(),
	}
	if contract, err := s.contracts.FindByID(ctx, s.db, change.ContractID); err == nil && contract != nil {
		comp.ProcessorSubscriptionID = contract.ProcessorSubscriptionID
	}

	s.log.Error("processor switched but local commit failed",
		zap.String("contract_id", change.ContractID.String()),
		zap.String("change_id", change.ID.String()),
		zap.String("price_id", change.ProcessorPriceID),
		zap.Error(cause),
	)
	if err := s.requests.InsertCompensation(ctx, s.db, comp); err != nil {
		s.log.Error("failed to record processor compensation",
			zap.String("contract_id", change.ContractID.String()),
			zap.String("change_id", change.ID.String()),
			zap.Error(err),
		)
	}
}

// Preview implements domain.Service. It evaluates the request without taking
// locks or persisting anything.
func (s *Service) Preview(ctx context.Context, req planchangedomain.SubmitChangeRequest) (planchangedomain.SubmitChangeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "planchange.Preview")
	defer span.End()

	parsed, err := s.parseRequest(req)
	if err != nil {
		return planchangedomain.SubmitChangeResponse{}, err
	}
	contract, err := s.loadContract(ctx, s.db, parsed.contractID)
	if err != nil {
		return planchangedomain.SubmitChangeResponse{}, err
	}
	activeUsers, err := s.seats.CountActiveUsers(ctx, contract.OrgID)
	if err != nil {
		return planchangedomain.SubmitChangeResponse{}, planchangedomain.NewStorageError("count_active_users", err)
	}
	eval, err := s.evaluate(contract, parsed, activeUsers)
	if err != nil {
		span.SetStatus(codes.Error, rejectionReason(err))
		return planchangedomain.SubmitChangeResponse{}, err
	}

	resp := responseFor(eval, false)
	resp.ChangeID = ""
	return resp, nil
}

// GetPending implements domain.Service.
func (s *Service) GetPending(ctx context.Context, contractID string) (*planchangedomain.PendingPlanChange, error) {
	id, err := parseContractID(contractID)
	if err != nil {
		return nil, err
	}
	if _, err := s.findScoped(ctx, id); err != nil {
		return nil, err
	}
	change, err := s.pending.Get(ctx, s.db, id)
	if err != nil {
		return nil, planchangedomain.NewStorageError("get_pending_change", err)
	}
	if change == nil {
		return nil, planchangedomain.ErrNoPendingChange
	}
	return change, nil
}

// ListChanges implements domain.Service. It returns the recorded history of
// scheduled and completed changes, newest first.
func (s *Service) ListChanges(ctx context.Context, contractID string) ([]planchangedomain.PlanChangeRequest, error) {
	id, err := parseContractID(contractID)
	if err != nil {
		return nil, err
	}
	if _, err := s.findScoped(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.requests.ListByContract(ctx, s.db, id)
	if err != nil {
		return nil, planchangedomain.NewStorageError("list_changes", err)
	}
	return rows, nil
}

func (s *Service) parseRequest(req planchangedomain.SubmitChangeRequest) (parsedRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return parsedRequest{}, validationError(err)
	}
	contractID, err := parseContractID(req.ContractID)
	if err != nil {
		return parsedRequest{}, err
	}

	tier, err := catalog.ParsePlanTier(req.PlanTier)
	if err != nil {
		return parsedRequest{}, planchangedomain.NewValidationError("plan_tier", err.Error())
	}
	selection, err := catalog.SelectionFromList(req.Packages)
	if err != nil {
		return parsedRequest{}, planchangedomain.NewValidationError("packages", err.Error())
	}

	prices := s.pricing.Catalog()
	baseFee, err := prices.BaseFee(tier, req.SeatLimit)
	if err != nil {
		if errors.Is(err, catalog.ErrSeatLimitOutsideTier) {
			return parsedRequest{}, planchangedomain.NewValidationError("seat_limit", fmt.Sprintf("seat limit %d is outside the %s tier", req.SeatLimit, tier))
		}
		return parsedRequest{}, planchangedomain.NewValidationError("plan_tier", err.Error())
	}
	packageFee, err := prices.Packages.PackageFee(selection)
	if err != nil {
		return parsedRequest{}, planchangedomain.NewValidationError("packages", err.Error())
	}

	var effective *time.Time
	if req.EffectiveDate != nil && !req.EffectiveDate.IsZero() {
		d := clock.Date(*req.EffectiveDate)
		effective = &d
	}

	return parsedRequest{
		contractID:    contractID,
		tier:          tier,
		selection:     selection,
		seatLimit:     req.SeatLimit,
		baseFee:       baseFee,
		packageFee:    packageFee,
		oneTimeFee:    req.OneTimeFee,
		effectiveDate: effective,
		requestedBy:   strings.TrimSpace(req.RequestedBy),
		prices:        prices,
	}, nil
}

// evaluate classifies the request and builds the pending change. It has no
// side effects beyond drawing an id.
func (s *Service) evaluate(contract *contractdomain.Contract, req parsedRequest, activeUsers int) (evaluation, error) {
	decision, err := s.policy.Evaluate(contract.BillingDay, contract.SeatLimit, req.seatLimit, req.effectiveDate)
	if err != nil {
		return evaluation{}, err
	}
	seats := guard.CheckSeats(activeUsers, req.seatLimit)

	change := &planchangedomain.PendingPlanChange{
		ID:         s.genID.Generate(),
		ContractID: contract.ID,
		OrgID:      contract.OrgID,
		Requested: planchangedomain.Terms{
			PlanTier:   req.tier,
			BaseFee:    req.baseFee,
			SeatLimit:  req.seatLimit,
			Package:    req.selection,
			PackageFee: req.packageFee,
		},
		RequestedPackages:         req.selection.Codes(),
		Old:                       termsOf(contract),
		EffectiveDate:             decision.EffectiveDate,
		IsDowngrade:               decision.IsDowngrade,
		CurrentUserCountAtRequest: activeUsers,
		UserCountExceeded:         seats.Exceeded,
		ExcessUsers:               seats.Excess,
		OneTimeFee:                req.oneTimeFee,
		ProcessorManaged:          contract.ProcessorManaged(),
		RequestedBy:               req.requestedBy,
		RequestedAt:               s.clock.Now().UTC(),
	}

	if change.ProcessorManaged {
		priceID, err := req.prices.ProcessorPrice(req.tier, req.selection)
		if err != nil {
			return evaluation{}, planchangedomain.NewValidationError("plan_tier",
				fmt.Sprintf("no processor price for %s", catalog.ProcessorPriceKey(req.tier, req.selection)))
		}
		change.ProcessorPriceID = priceID
	}

	eval := evaluation{change: change}
	if !decision.IsDowngrade {
		result, err := proration.Calculate(proration.Input{
			OldMonthlyFee: contract.BaseMonthlyFee + contract.PackageMonthlyFee,
			NewMonthlyFee: req.baseFee + req.packageFee,
			ChangeDate:    decision.EffectiveDate,
			BillingCycle:  contract.BillingCycle,
			StartDate:     contract.StartDate,
		})
		if err != nil {
			return evaluation{}, planchangedomain.NewValidationError("effective_date", err.Error())
		}
		change.ProratedAmount = result.ProratedDifference
		change.ProratedDescription = result.Description()
		eval.proration = &result
	}
	return eval, nil
}

// allow applies the per-organization submit limit. An unreachable limiter
// lets the request through.
func (s *Service) allow(ctx context.Context, orgID snowflake.ID) error {
	if s.limiter == nil || !s.limiter.Enabled() {
		return nil
	}
	result, err := s.limiter.AllowSubmit(ctx, orgID.String())
	if err != nil {
		s.log.Warn("plan change rate limiter unavailable",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		return nil
	}
	if result != nil && !result.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, orgID.String(), submitEndpoint)
		return planchangedomain.ErrRateLimited
	}
	return nil
}

// findScoped loads a contract in any status.
func (s *Service) findScoped(ctx context.Context, id snowflake.ID) (*contractdomain.Contract, error) {
	contract, err := s.contracts.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, planchangedomain.NewStorageError("find_contract", err)
	}
	if contract == nil || !inScope(ctx, contract) {
		return nil, planchangedomain.ErrContractNotFound
	}
	return contract, nil
}

func (s *Service) loadContract(ctx context.Context, db *gorm.DB, id snowflake.ID) (*contractdomain.Contract, error) {
	contract, err := s.contracts.FindByID(ctx, db, id)
	return checkContract(ctx, contract, err)
}

func (s *Service) loadContractForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*contractdomain.Contract, error) {
	contract, err := s.contracts.FindByIDForUpdate(ctx, tx, id)
	return checkContract(ctx, contract, err)
}

func checkContract(ctx context.Context, contract *contractdomain.Contract, err error) (*contractdomain.Contract, error) {
	if err != nil {
		return nil, planchangedomain.NewStorageError("find_contract", err)
	}
	if contract == nil || !inScope(ctx, contract) {
		return nil, planchangedomain.ErrContractNotFound
	}
	if !contract.IsActive() {
		return nil, planchangedomain.ErrContractNotActive
	}
	return contract, nil
}

// inScope hides contracts of other organizations when the caller is scoped.
func inScope(ctx context.Context, contract *contractdomain.Contract) bool {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	return !ok || contract.OrgID == orgID
}

func parseContractID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, planchangedomain.ErrContractNotFound
	}
	return id, nil
}

func responseFor(eval evaluation, applied bool) planchangedomain.SubmitChangeResponse {
	change := eval.change
	return planchangedomain.SubmitChangeResponse{
		ContractID:        change.ContractID.String(),
		ChangeID:          change.ID.String(),
		EffectiveDate:     change.EffectiveDate,
		IsDowngrade:       change.IsDowngrade,
		Applied:           applied,
		UserCountExceeded: change.UserCountExceeded,
		ExcessUsers:       change.ExcessUsers,
		CurrentUserCount:  change.CurrentUserCountAtRequest,
		Old:               change.Old,
		Requested:         change.Requested,
		OneTimeFee:        change.OneTimeFee,
		Proration:         eval.proration,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return planchangedomain.NewValidationError(toSnake(fe.Field()), fmt.Sprintf("failed %s validation", fe.Tag()))
	}
	return planchangedomain.NewValidationError("", err.Error())
}

// toSnake covers struct field names without a json tag.
func toSnake(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
			prevLower = false
		} else {
			prevLower = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, planchangedomain.ErrValidation):
		return "validation"
	case errors.Is(err, planchangedomain.ErrContractNotFound):
		return "contract_not_found"
	case errors.Is(err, planchangedomain.ErrContractNotActive):
		return "contract_not_active"
	case errors.Is(err, planchangedomain.ErrConflictingChangeExists):
		return "conflicting_change"
	case errors.Is(err, planchangedomain.ErrNoticePeriodViolation):
		return "notice_period"
	case errors.Is(err, planchangedomain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, processordomain.ErrProcessor):
		return "processor"
	case errors.Is(err, planchangedomain.ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}
