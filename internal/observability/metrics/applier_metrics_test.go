package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/contractbilling/internal/authorization"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	processordomain "github.com/smallbiznis/contractbilling/internal/processor/domain"
	"gorm.io/gorm"
)

func TestApplierMetricsCountsChangesByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newApplierMetrics(reg, Config{ServiceName: "contractbilling-test", Environment: "test"})

	m.IncJobRun("apply_scheduled_changes")
	m.IncChange(ChangeKindDowngrade, ChangeOutcomeApplied)
	m.IncChange(ChangeKindDowngrade, ChangeOutcomeApplied)
	m.IncChange(ChangeKindUpgrade, ChangeOutcomeFailed)
	m.ObserveJobDuration("apply_scheduled_changes", 2*time.Second)
	m.ObserveDBLockWait(LockResourceContractByID, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("apply_scheduled_changes")); got != 1 {
		t.Fatalf("expected 1 job run, got %v", got)
	}
	if got := testutil.ToFloat64(m.changesProcessed.WithLabelValues(ChangeKindDowngrade, ChangeOutcomeApplied)); got != 2 {
		t.Fatalf("expected 2 applied downgrades, got %v", got)
	}
	if got := testutil.ToFloat64(m.changesProcessed.WithLabelValues(ChangeKindUpgrade, ChangeOutcomeFailed)); got != 1 {
		t.Fatalf("expected 1 failed upgrade, got %v", got)
	}
}

func TestApplierMetricsJobErrorUsesReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newApplierMetrics(reg, Config{})

	m.IncJobError("apply_scheduled_changes", fmt.Errorf("wrap: %w", contractdomain.ErrVersionConflict))
	m.IncJobError("apply_scheduled_changes", nil)

	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("apply_scheduled_changes", ApplierReasonVersionConflict)); got != 1 {
		t.Fatalf("expected 1 version conflict error, got %v", got)
	}
}

func TestNilApplierMetricsIsSafe(t *testing.T) {
	var m *ApplierMetrics
	m.IncJobRun("x")
	m.IncJobError("x", context.DeadlineExceeded)
	m.IncChange(ChangeKindUpgrade, ChangeOutcomeApplied)
	m.ObserveRunLoopLag(-time.Second)
	m.ObserveDBLockWait(LockResourceApplierRun, time.Second)
}

func TestClassifyApplierReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ApplierReasonUnknown},
		{"deadline", context.DeadlineExceeded, ApplierReasonDeadlineExceeded},
		{"forbidden", authorization.ErrForbidden, ApplierReasonForbidden},
		{"version", contractdomain.ErrVersionConflict, ApplierReasonVersionConflict},
		{"processor", processordomain.NewProcessorError(nil, "card declined"), ApplierReasonProcessor},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, ApplierReasonDBLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, ApplierReasonSerializationFailure},
		{"unique", gorm.ErrDuplicatedKey, ApplierReasonUniqueViolation},
		{"other", fmt.Errorf("boom"), ApplierReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyApplierReason(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestClassifyApplierErrorTypeAndRetry(t *testing.T) {
	if got := ClassifyApplierErrorType(&pgconn.PgError{Code: "23505"}); got != ApplierErrorTypeDB {
		t.Fatalf("expected db, got %q", got)
	}
	if got := ClassifyApplierErrorType(fmt.Errorf("rule")); got != ApplierErrorTypeBusinessRule {
		t.Fatalf("expected business_rule, got %q", got)
	}
	if got := ClassifyApplierErrorType(processordomain.NewProcessorError(nil, "down")); got != ApplierErrorTypeProcessor {
		t.Fatalf("expected processor, got %q", got)
	}
	if IsApplierErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("record not found must not be retryable")
	}
	if !IsApplierErrorRetryable(contractdomain.ErrVersionConflict) {
		t.Fatalf("version conflict should be retryable")
	}
}
