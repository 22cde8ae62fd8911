package applier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/contractbilling/internal/authorization"
	"github.com/smallbiznis/contractbilling/internal/clock"
	"github.com/smallbiznis/contractbilling/internal/config"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	"github.com/smallbiznis/contractbilling/internal/fee"
	obsmetrics "github.com/smallbiznis/contractbilling/internal/observability/metrics"
	"github.com/smallbiznis/contractbilling/internal/observability/tracing"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	planchangeservice "github.com/smallbiznis/contractbilling/internal/planchange/service"
	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	"github.com/smallbiznis/contractbilling/internal/ratelimit"
	pkgdb "github.com/smallbiznis/contractbilling/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	jobApplyDue = "apply_due_changes"
	runLockName = "applier"

	maxApplyAttempts = 3
)

var (
	ErrInvalidConfig = errors.New("invalid_applier_config")
	ErrRunInProgress = errors.New("applier_run_in_progress")

	errPendingCleared = errors.New("pending_change_already_cleared")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Pricing   *config.PricingConfigHolder
	Contracts contractdomain.Repository
	Pending   planchangedomain.PendingChangeStore
	Requests  planchangedomain.RequestRepository
	Processor processordomain.Processor
	AuthzSvc  authorization.Service
	Locker    *ratelimit.Locker                   `optional:"true"`
	Config    Config                              `optional:"true"`
}

// Applier moves due pending plan changes onto their contracts.
type Applier struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	pricing   *config.PricingConfigHolder
	contracts contractdomain.Repository
	pending   planchangedomain.PendingChangeStore
	requests  planchangedomain.RequestRepository
	processor processordomain.Processor
	authzSvc  authorization.Service
	locker    *ratelimit.Locker
	tracer    trace.Tracer

	// guards runs when no redis lock is configured
	mu sync.Mutex
}

// Summary reports one ApplyDueChanges pass. Truncated marks a run cut short by
// its timeout or cancellation; changes it did not reach stay due.
type Summary struct {
	RunDate      time.Time   `json:"run_date"`
	Total        int         `json:"total"`
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
	SkippedCount int         `json:"skipped_count"`
	Truncated    bool        `json:"truncated"`
	Errors       []ItemError `json:"errors"`
}

// ItemError is one contract that could not be applied.
type ItemError struct {
	ContractID string `json:"contract_id"`
	ChangeID   string `json:"change_id"`
	OrgID      string `json:"org_id"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSkipped
	outcomeFailed
)

func New(p Params) (*Applier, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Pricing == nil ||
		p.Contracts == nil || p.Pending == nil || p.Requests == nil || p.Processor == nil || p.AuthzSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Applier{
		db:        p.DB,
		log:       p.Log.Named("applier").With(zap.String("component", "applier")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		pricing:   p.Pricing,
		contracts: p.Contracts,
		pending:   p.Pending,
		requests:  p.Requests,
		processor: p.Processor,
		authzSvc:  p.AuthzSvc,
		locker:    p.Locker,
		tracer:    otel.Tracer("contractbilling/applier"),
	}, nil
}

// ApplyDueChanges applies every pending change effective on or before today.
// A zero today means the clock's current date. Failures are isolated per
// contract and reported in the summary; the returned error is reserved for
// run-level problems such as an overlapping run.
func (a *Applier) ApplyDueChanges(parent context.Context, today time.Time) (Summary, error) {
	if today.IsZero() {
		today = clock.Today(a.clock)
	} else {
		today = clock.Date(today)
	}

	lease, err := a.acquire(parent)
	if err != nil {
		return Summary{}, err
	}
	defer lease.release()

	ctx, cancel := context.WithTimeout(parent, a.cfg.Timeout)
	defer cancel()

	m := obsmetrics.Applier()
	m.IncJobRun(jobApplyDue)
	ctx, run := a.startRun(ctx, jobApplyDue, a.cfg.BatchSize)
	run.refresh = lease.refresh
	a.logJobStart(ctx, run, today)

	summary, err := a.applyDue(ctx, today, run)
	m.ObserveJobDuration(jobApplyDue, time.Since(run.startedAt))
	a.logJobFinish(ctx, run)
	if err == nil {
		return summary, nil
	}

	m.IncJobError(jobApplyDue, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.IncJobTimeout(jobApplyDue)
		processed, _ := run.counts()
		a.logger(ctx).Warn("applier.job.timeout",
			zap.String("run_id", run.runID),
			zap.Duration("timeout", a.cfg.Timeout),
			zap.Int("processed_count", processed),
		)
		summary.Truncated = true
		return summary, nil
	}
	return summary, fmt.Errorf("%s: %w", jobApplyDue, err)
}

func (a *Applier) applyDue(ctx context.Context, today time.Time, run *jobRun) (Summary, error) {
	summary := Summary{RunDate: today, Errors: []ItemError{}}
	attempted := map[snowflake.ID]struct{}{}
	var mu sync.Mutex

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := run.refresh(ctx); err != nil {
			a.logApplierError(ctx, run, "applier.lock.refresh_failed", 0, err)
			return summary, fmt.Errorf("refresh applier lease: %w", err)
		}

		// Failed changes stay due; widen the window so they cannot starve the rest.
		due, err := a.pending.GetDue(ctx, a.db, today, a.cfg.BatchSize+len(attempted))
		if err != nil {
			a.logApplierError(ctx, run, "applier.fetch.failed", 0, err)
			return summary, planchangedomain.NewStorageError("get_due_changes", err)
		}
		batch := lo.Filter(due, func(change planchangedomain.PendingPlanChange, _ int) bool {
			_, seen := attempted[change.ID]
			return !seen
		})
		if len(batch) == 0 {
			return summary, nil
		}
		if len(batch) > a.cfg.BatchSize {
			batch = batch[:a.cfg.BatchSize]
		}

		var g errgroup.Group
		g.SetLimit(a.cfg.Concurrency)
		for _, change := range batch {
			change := change
			attempted[change.ID] = struct{}{}
			g.Go(func() error {
				result, err := a.applyWithRetry(ctx, change, today, run)

				mu.Lock()
				defer mu.Unlock()
				summary.Total++
				switch result {
				case outcomeApplied:
					summary.SuccessCount++
					run.AddProcessed(1)
				case outcomeSkipped:
					summary.SkippedCount++
				case outcomeFailed:
					summary.FailureCount++
					summary.Errors = append(summary.Errors, ItemError{
						ContractID: change.ContractID.String(),
						ChangeID:   change.ID.String(),
						OrgID:      change.OrgID.String(),
						Reason:     obsmetrics.ClassifyApplierReason(err),
						Message:    err.Error(),
					})
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// applyWithRetry replays version conflicts and retryable database errors a
// bounded number of times instead of overwriting concurrent writes. A
// processor switch that already succeeded is not repeated on replay, and it is
// compensated only when the change finally fails.
func (a *Applier) applyWithRetry(ctx context.Context, change planchangedomain.PendingPlanChange, today time.Time, run *jobRun) (outcome, error) {
	m := obsmetrics.Applier()
	kind := obsmetrics.ChangeKindUpgrade
	if change.IsDowngrade {
		kind = obsmetrics.ChangeKindDowngrade
	}

	var (
		err  error
		call processorCall
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		var result outcome
		result, err = a.applyOne(ctx, change, today, &call)
		if err == nil {
			switch result {
			case outcomeApplied:
				m.IncChange(kind, obsmetrics.ChangeOutcomeApplied)
				a.logChangeApplied(ctx, change)
			case outcomeSkipped:
				m.IncChange(kind, obsmetrics.ChangeOutcomeSkipped)
			}
			return result, nil
		}
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}

	if call.switched != nil {
		a.recordCompensation(ctx, call.switched, call.subscriptionID, err)
	}
	m.IncChange(kind, obsmetrics.ChangeOutcomeFailed)
	m.IncJobError(jobApplyDue, err)
	a.logChangeFailed(ctx, run, change, err)
	return outcomeFailed, err
}

// processorCall remembers a plan switch that reached the processor across
// replays of the same change.
type processorCall struct {
	switched       *planchangedomain.PendingPlanChange
	subscriptionID string
}

func retryable(err error) bool {
	return errors.Is(err, contractdomain.ErrVersionConflict) || pkgdb.IsRetryableTxErr(err)
}

// applyOne runs the read-modify-write of one contract in a single transaction.
// The pending marker is re-read under the row lock so a change cleared by an
// earlier run is skipped.
func (a *Applier) applyOne(ctx context.Context, change planchangedomain.PendingPlanChange, today time.Time, call *processorCall) (outcome, error) {
	ctx, span := a.tracer.Start(ctx, "applier.ApplyChange", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("contract_id", change.ContractID.String()),
		attribute.String("change_id", change.ID.String()),
		attribute.Bool("is_downgrade", change.IsDowngrade),
	)...))
	defer span.End()

	ctx = a.withLogContext(ctx, change.OrgID)
	if err := a.authorizeSystem(ctx, change.OrgID); err != nil {
		span.SetStatus(codes.Error, "forbidden")
		return outcomeFailed, err
	}

	m := obsmetrics.Applier()
	result := outcomeApplied

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		contract, err := a.contracts.FindByIDForUpdate(ctx, tx, change.ContractID)
		m.ObserveDBLockWait(obsmetrics.LockResourceContractByID, time.Since(lockStart))
		if err != nil {
			return planchangedomain.NewStorageError("lock_contract", err)
		}
		if contract == nil {
			return planchangedomain.ErrContractNotFound
		}

		current, err := a.pending.Get(ctx, tx, contract.ID)
		if err != nil {
			return planchangedomain.NewStorageError("get_pending_change", err)
		}
		if current == nil || current.ID != change.ID {
			result = outcomeSkipped
			return nil
		}

		if current.ProcessorManaged && call.switched == nil {
			if _, err := a.processor.SwitchPlan(ctx, contract.ProcessorSubscriptionID, current.ProcessorPriceID, processordomain.ProrationNone); err != nil {
				return err
			}
			call.switched = current
			call.subscriptionID = contract.ProcessorSubscriptionID
		}

		now := a.clock.Now().UTC()
		expected := contract.Version
		if err := planchangeservice.ApplyTerms(contract, *current, chargeFor(*current)); err != nil {
			return planchangedomain.NewStorageError("apply_terms", err)
		}
		contract.PlanChangeGraceDeadline = nil
		if current.IsDowngrade {
			deadline := today.AddDate(0, 0, a.pricing.GraceDays())
			contract.PlanChangeGraceDeadline = &deadline
		}
		contract.UpdatedAt = now

		if err := a.contracts.ReplacePackages(ctx, tx, contract.ID, current.RequestedPackages, now); err != nil {
			return planchangedomain.NewStorageError("replace_packages", err)
		}
		if err := a.contracts.Upsert(ctx, tx, contract, expected); err != nil {
			if errors.Is(err, contractdomain.ErrVersionConflict) {
				return err
			}
			return planchangedomain.NewStorageError("update_contract", err)
		}
		cleared, err := a.pending.Clear(ctx, tx, *current, now)
		if err != nil {
			return planchangedomain.NewStorageError("clear_pending_change", err)
		}
		if !cleared {
			return errPendingCleared
		}
		if current.Source == planchangedomain.SourceContract {
			if err := a.requests.InsertCompleted(ctx, tx, *current, now); err != nil {
				return planchangedomain.NewStorageError("insert_completed_change", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, obsmetrics.ClassifyApplierReason(err))
		return outcomeFailed, err
	}
	return result, nil
}

// chargeFor is the one-off amount a change adds to the next invoice of an
// invoice-managed contract. Processor-managed contracts are billed by the
// processor, and downgrades add nothing, so both leave the carried charge alone.
func chargeFor(change planchangedomain.PendingPlanChange) *fee.ProratedCharge {
	if change.ProcessorManaged {
		return nil
	}
	amount := change.ProratedAmount + change.OneTimeFee
	if amount == 0 {
		return nil
	}
	desc := change.ProratedDescription
	if change.ProratedAmount == 0 {
		desc = ""
	}
	if change.OneTimeFee > 0 {
		if desc == "" {
			desc = "Plan change one-time fee"
		} else {
			desc += " plus one-time fee"
		}
	}
	return &fee.ProratedCharge{
		Amount:      amount,
		Description: desc,
	}
}

func (a *Applier) recordCompensation(ctx context.Context, change *planchangedomain.PendingPlanChange, subscriptionID string, cause error) {
	comp := &planchangedomain.ProcessorCompensation{
		ID:                      a.genID.Generate(),
		ContractID:              change.ContractID,
		OrgID:                   change.OrgID,
		ChangeID:                change.ID,
		ProcessorSubscriptionID: subscriptionID,
		PriceID:                 change.ProcessorPriceID,
		Reason:                  tracing.SafeError(cause).Error(),
		CreatedAt:               a.clock.Now().UTC(),
	}
	if err := a.requests.InsertCompensation(ctx, a.db, comp); err != nil {
		a.logger(ctx).Error("applier.compensation.failed",
			zap.String("contract_id", change.ContractID.String()),
			zap.String("change_id", change.ID.String()),
			zap.Error(err),
		)
		return
	}
	a.logger(ctx).Warn("applier.compensation.recorded",
		zap.String("contract_id", change.ContractID.String()),
		zap.String("change_id", change.ID.String()),
		zap.String("price_id", change.ProcessorPriceID),
	)
}

// runLease is the hold on the applier run. refresh is called between batches.
type runLease struct {
	release func()
	refresh func(context.Context) error
}

// acquire takes the run lease. Without redis a process-local mutex keeps runs
// from overlapping.
func (a *Applier) acquire(ctx context.Context) (runLease, error) {
	m := obsmetrics.Applier()
	if a.locker == nil {
		if !a.mu.TryLock() {
			m.IncLockContention(jobApplyDue)
			return runLease{}, ErrRunInProgress
		}
		return runLease{
			release: a.mu.Unlock,
			refresh: func(context.Context) error { return nil },
		}, nil
	}

	lockStart := time.Now()
	lease, err := a.locker.Acquire(ctx, runLockName, a.cfg.LockTTL)
	m.ObserveDBLockWait(obsmetrics.LockResourceApplierRun, time.Since(lockStart))
	if err != nil {
		return runLease{}, fmt.Errorf("acquire applier lock: %w", err)
	}
	if lease == nil {
		m.IncLockContention(jobApplyDue)
		return runLease{}, ErrRunInProgress
	}
	return runLease{
		release: func() {
			if err := a.locker.Release(context.Background(), lease); err != nil {
				a.log.Warn("applier.lock.release_failed", zap.String("key", lease.Key), zap.Error(err))
			}
		},
		refresh: func(ctx context.Context) error {
			return a.locker.Refresh(ctx, lease)
		},
	}, nil
}

func (a *Applier) authorizeSystem(ctx context.Context, orgID snowflake.ID) error {
	if a.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return a.authzSvc.Authorize(ctx, authorization.ActorSystem, orgID.String(), authorization.ObjectApplier, authorization.ActionApplierRun)
}

// RunForever applies due changes every RunInterval until ctx is done.
func (a *Applier) RunForever(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := a.clock.Now().Add(a.cfg.RunInterval)
	m := obsmetrics.Applier()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			m.ObserveRunLoopLag(lag)
		}
		summary, err := a.ApplyDueChanges(ctx, time.Time{})
		switch {
		case errors.Is(err, ErrRunInProgress):
			a.log.Debug("applier run skipped, another run holds the lock")
		case err != nil:
			a.log.Warn("applier run failed", zap.Error(err))
		case summary.Truncated:
			a.log.Warn("applier run cut short, remaining changes stay due",
				zap.Int("total", summary.Total),
				zap.Duration("timeout", a.cfg.Timeout),
			)
		case summary.FailureCount > 0:
			a.log.Warn("applier run finished with failures",
				zap.Int("total", summary.Total),
				zap.Int("failure_count", summary.FailureCount),
			)
		}
		nextRun = nextRun.Add(a.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
