package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/contractbilling/internal/authorization"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	pkgdb "github.com/smallbiznis/contractbilling/pkg/db"
	"gorm.io/gorm"
)

const (
	ApplierErrorTypeDeadlineExceeded = "deadline_exceeded"
	ApplierErrorTypeAuthorization    = "authorization"
	ApplierErrorTypeBusinessRule     = "business_rule"
	ApplierErrorTypeDB               = "db"
	ApplierErrorTypeProcessor        = "processor"
	ApplierErrorTypeUnknown          = "unknown"
)

const (
	ApplierReasonDeadlineExceeded     = "deadline_exceeded"
	ApplierReasonDBLockTimeout        = "db_lock_timeout"
	ApplierReasonSerializationFailure = "serialization_failure"
	ApplierReasonUniqueViolation      = "unique_violation"
	ApplierReasonVersionConflict      = "version_conflict"
	ApplierReasonProcessor            = "processor"
	ApplierReasonForbidden            = "forbidden"
	ApplierReasonUnknown              = "unknown"
)

const (
	ChangeKindUpgrade   = "upgrade"
	ChangeKindDowngrade = "downgrade"

	ChangeOutcomeApplied = "applied"
	ChangeOutcomeSkipped = "skipped"
	ChangeOutcomeFailed  = "failed"
)

const (
	LockResourceContractByID = "contract_by_id"
	LockResourceApplierRun   = "applier_run"
)

// ApplierMetrics captures scheduled change applier health signals.
type ApplierMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	changesProcessed *prometheus.CounterVec
	lockContention   *prometheus.CounterVec
	runLoopLag       prometheus.Observer
	dbLockWait       *prometheus.HistogramVec
	lockWaitObserver map[string]prometheus.Observer
}

var (
	applierMetricsOnce sync.Once
	applierMetrics     *ApplierMetrics
)

// Applier returns the singleton applier metrics registry.
func Applier() *ApplierMetrics {
	return ApplierWithConfig(Config{})
}

// ApplierWithConfig returns the singleton applier metrics registry using config labels.
func ApplierWithConfig(cfg Config) *ApplierMetrics {
	applierMetricsOnce.Do(func() {
		applierMetrics = newApplierMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return applierMetrics
}

// ResetApplierMetricsForTest resets the applier metrics singleton for tests.
func ResetApplierMetricsForTest() {
	applierMetricsOnce = sync.Once{}
	applierMetrics = nil
}

func newApplierMetrics(registerer prometheus.Registerer, cfg Config) *ApplierMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "contractbilling"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "contractbilling_applier_job_runs_total",
		Help:        "Applier job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "contractbilling_applier_job_duration_seconds",
		Help:        "Applier job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "contractbilling_applier_job_timeouts_total",
		Help:        "Applier job runs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "contractbilling_applier_job_errors_total",
		Help:        "Applier job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	changesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "contractbilling_applier_changes_total",
		Help:        "Scheduled plan changes processed by kind and outcome.",
		ConstLabels: constLabels,
	}, []string{"kind", "outcome"})
	lockContention := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "contractbilling_applier_lock_contention_total",
		Help:        "Applier runs skipped because another run held the lock.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "contractbilling_applier_runloop_lag_seconds",
		Help:        "Applier run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "contractbilling_applier_db_lock_wait_seconds",
		Help:        "Applier DB lock wait time for SELECT FOR UPDATE contention.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		changesProcessed,
		lockContention,
		runLoopLag,
		dbLockWait,
	)

	lockWaitObserver := map[string]prometheus.Observer{
		LockResourceContractByID: dbLockWait.WithLabelValues(LockResourceContractByID),
		LockResourceApplierRun:   dbLockWait.WithLabelValues(LockResourceApplierRun),
	}

	return &ApplierMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		changesProcessed: changesProcessed,
		lockContention:   lockContention,
		runLoopLag:       runLoopLag,
		dbLockWait:       dbLockWait,
		lockWaitObserver: lockWaitObserver,
	}
}

// IncJobRun increments the run counter for an applier job.
func (m *ApplierMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records applier job latency in seconds.
func (m *ApplierMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *ApplierMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the applier job error counter with classification.
func (m *ApplierMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyApplierReason(err)).Inc()
}

// IncChange counts a single scheduled change by kind and outcome.
func (m *ApplierMetrics) IncChange(kind, outcome string) {
	if m == nil || m.changesProcessed == nil {
		return
	}
	m.changesProcessed.WithLabelValues(kind, outcome).Inc()
}

func (m *ApplierMetrics) IncLockContention(job string) {
	if m == nil || m.lockContention == nil {
		return
	}
	m.lockContention.WithLabelValues(job).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *ApplierMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *ApplierMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserver[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifyApplierErrorType returns a low-cardinality error type for logging.
func ClassifyApplierErrorType(err error) string {
	if err == nil {
		return ApplierErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ApplierErrorTypeDeadlineExceeded
	}
	if isAuthorizationError(err) {
		return ApplierErrorTypeAuthorization
	}
	if errors.Is(err, processordomain.ErrProcessor) {
		return ApplierErrorTypeProcessor
	}
	if isDBError(err) {
		return ApplierErrorTypeDB
	}
	return ApplierErrorTypeBusinessRule
}

// IsApplierErrorRetryable reports whether the next run may succeed where this one failed.
func IsApplierErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, contractdomain.ErrVersionConflict) || errors.Is(err, processordomain.ErrProcessor) {
		return true
	}
	return isDBError(err)
}

// ClassifyApplierReason maps applier errors to low-cardinality reasons.
func ClassifyApplierReason(err error) string {
	if err == nil {
		return ApplierReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ApplierReasonDeadlineExceeded
	}
	if isAuthorizationError(err) {
		return ApplierReasonForbidden
	}
	if errors.Is(err, contractdomain.ErrVersionConflict) {
		return ApplierReasonVersionConflict
	}
	if errors.Is(err, processordomain.ErrProcessor) {
		return ApplierReasonProcessor
	}
	if isDBLockTimeout(err) {
		return ApplierReasonDBLockTimeout
	}
	if isSerializationFailure(err) {
		return ApplierReasonSerializationFailure
	}
	if isUniqueViolation(err) {
		return ApplierReasonUniqueViolation
	}
	return ApplierReasonUnknown
}

func isDBLockTimeout(err error) bool {
	return pkgdb.IsLockTimeout(err)
}

func isSerializationFailure(err error) bool {
	return pkgdb.IsSerializationFailure(err)
}

func isUniqueViolation(err error) bool {
	return pkgdb.IsDuplicateKeyErr(err)
}

func isAuthorizationError(err error) bool {
	return errors.Is(err, authorization.ErrForbidden) ||
		errors.Is(err, authorization.ErrInvalidActor) ||
		errors.Is(err, authorization.ErrInvalidOrganization) ||
		errors.Is(err, authorization.ErrInvalidObject) ||
		errors.Is(err, authorization.ErrInvalidAction)
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return pkgdb.PGCode(err) != ""
}
