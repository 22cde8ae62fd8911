package proration

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contractbilling/internal/catalog"
)

var (
	ErrNegativeFee         = errors.New("negative_fee")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrMissingChangeDate   = errors.New("missing_change_date")
	ErrChangeBeforeStart   = errors.New("change_date_before_start")
)

type Input struct {
	OldMonthlyFee int64
	NewMonthlyFee int64
	ChangeDate    time.Time
	BillingCycle  catalog.BillingCycle
	StartDate     time.Time
}

// Result holds the signed prorated amounts for the proration unit containing
// the change date. The unit is always the calendar month, under annual billing
// too; TermStart and TermEnd report the enclosing annual span.
type Result struct {
	OldPlanProratedAmount int64     `json:"old_plan_prorated_amount"`
	NewPlanProratedAmount int64     `json:"new_plan_prorated_amount"`
	ProratedDifference    int64     `json:"prorated_difference"`
	BillingPeriodStart    time.Time `json:"billing_period_start"`
	BillingPeriodEnd      time.Time `json:"billing_period_end"`
	DaysTotal             int       `json:"days_total"`
	DaysRemaining         int       `json:"days_remaining"`
	TermStart             time.Time `json:"term_start"`
	TermEnd               time.Time `json:"term_end"`
}

func Calculate(in Input) (Result, error) {
	if in.OldMonthlyFee < 0 || in.NewMonthlyFee < 0 {
		return Result{}, ErrNegativeFee
	}
	if in.ChangeDate.IsZero() {
		return Result{}, ErrMissingChangeDate
	}
	change := dateOf(in.ChangeDate)

	termStart, termEnd := MonthStart(change), MonthEnd(change)
	switch in.BillingCycle {
	case catalog.BillingCycleMonthly:
	case catalog.BillingCycleAnnual:
		var err error
		termStart, termEnd, err = AnnualTerm(in.StartDate, change)
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, ErrInvalidBillingCycle
	}

	periodStart := MonthStart(change)
	periodEnd := MonthEnd(change)
	daysTotal := periodEnd.Day()
	daysRemaining := daysTotal - change.Day() + 1

	oldAmount := -prorate(in.OldMonthlyFee, daysRemaining, daysTotal)
	newAmount := prorate(in.NewMonthlyFee, daysRemaining, daysTotal)

	return Result{
		OldPlanProratedAmount: oldAmount,
		NewPlanProratedAmount: newAmount,
		ProratedDifference:    oldAmount + newAmount,
		BillingPeriodStart:    periodStart,
		BillingPeriodEnd:      periodEnd,
		DaysTotal:             daysTotal,
		DaysRemaining:         daysRemaining,
		TermStart:             termStart,
		TermEnd:               termEnd,
	}, nil
}

// prorate rounds fee*remaining/total half away from zero in one step.
func prorate(fee int64, remaining, total int) int64 {
	return decimal.NewFromInt(fee).
		Mul(decimal.NewFromInt(int64(remaining))).
		DivRound(decimal.NewFromInt(int64(total)), 0).
		IntPart()
}

// AnnualTerm resolves the 12-month span anchored at start that contains at.
// The returned end is the last day of the span.
func AnnualTerm(start, at time.Time) (time.Time, time.Time, error) {
	if start.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("annual term: %w", ErrMissingChangeDate)
	}
	start = dateOf(start)
	at = dateOf(at)
	if at.Before(start) {
		return time.Time{}, time.Time{}, ErrChangeBeforeStart
	}
	years := at.Year() - start.Year()
	termStart := addYears(start, years)
	if termStart.After(at) {
		years--
		termStart = addYears(start, years)
	}
	termEnd := addYears(start, years+1).AddDate(0, 0, -1)
	return termStart, termEnd, nil
}

// Description renders the prorated line used on the next invoice.
func (r Result) Description() string {
	return fmt.Sprintf("Prorated plan change %s to %s (%d/%d days)",
		r.BillingPeriodStart.AddDate(0, 0, r.DaysTotal-r.DaysRemaining).Format(time.DateOnly),
		r.BillingPeriodEnd.Format(time.DateOnly),
		r.DaysRemaining,
		r.DaysTotal,
	)
}

func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func MonthEnd(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, -1)
}

// addYears keeps Feb 29 anchors on the last day of February.
func addYears(t time.Time, years int) time.Time {
	y := t.Year() + years
	d := t.Day()
	if last := MonthEnd(time.Date(y, t.Month(), 1, 0, 0, 0, 0, time.UTC)).Day(); d > last {
		d = last
	}
	return time.Date(y, t.Month(), d, 0, 0, 0, 0, time.UTC)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
