package applier

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/contractbilling/internal/observability/context"
	obslogger "github.com/smallbiznis/contractbilling/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/contractbilling/internal/observability/metrics"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"go.uber.org/zap"
)

type jobRun struct {
	mu             sync.Mutex
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
	refresh        func(context.Context) error
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.mu.Lock()
	r.processedCount += count
	r.mu.Unlock()
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

func (r *jobRun) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processedCount, r.errorCount
}

func (a *Applier) startRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     a.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	return a.withLogContext(ctx, 0), run
}

func (a *Applier) withLogContext(ctx context.Context, orgID snowflake.ID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = obscontext.WithActor(ctx, "system", "applier")
	if orgID != 0 {
		ctx = obscontext.WithOrgID(ctx, orgID.String())
	}
	return ctx
}

func (a *Applier) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, a.log)
}

func (a *Applier) logJobStart(ctx context.Context, run *jobRun, today time.Time) {
	a.logger(ctx).Info("applier.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
		zap.String("run_date", today.Format(time.DateOnly)),
	)
}

func (a *Applier) logJobFinish(ctx context.Context, run *jobRun) {
	processed, errorCount := run.counts()
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", processed),
		zap.Int("error_count", errorCount),
	}
	log := a.logger(ctx)
	if errorCount > 0 {
		log.Warn("applier.job.finish", fields...)
		return
	}
	log.Info("applier.job.finish", fields...)
}

func (a *Applier) logApplierError(ctx context.Context, run *jobRun, msg string, orgID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	ctx = a.withLogContext(ctx, orgID)
	baseFields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("org_id", idString(orgID)),
		zap.String("error_type", obsmetrics.ClassifyApplierErrorType(err)),
		zap.String("error", err.Error()),
		zap.Bool("retryable", obsmetrics.IsApplierErrorRetryable(err)),
	}
	a.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

// logChangeFailed carries both sides of the change so it can be remediated by hand.
func (a *Applier) logChangeFailed(ctx context.Context, run *jobRun, change planchangedomain.PendingPlanChange, err error) {
	a.logApplierError(ctx, run, "applier.change.failed", change.OrgID, err,
		zap.String("contract_id", idString(change.ContractID)),
		zap.String("change_id", idString(change.ID)),
		zap.Bool("is_downgrade", change.IsDowngrade),
		zap.Bool("processor_managed", change.ProcessorManaged),
		zap.String("effective_date", change.EffectiveDate.Format(time.DateOnly)),
		zap.Any("current_terms", change.Old),
		zap.Any("requested_terms", change.Requested),
	)
}

func (a *Applier) logChangeApplied(ctx context.Context, change planchangedomain.PendingPlanChange) {
	ctx = a.withLogContext(ctx, change.OrgID)
	a.logger(ctx).Info("applier.change.applied",
		zap.String("contract_id", idString(change.ContractID)),
		zap.String("change_id", idString(change.ID)),
		zap.Bool("is_downgrade", change.IsDowngrade),
		zap.String("plan_tier", string(change.Requested.PlanTier)),
		zap.Int("seat_limit", change.Requested.SeatLimit),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
