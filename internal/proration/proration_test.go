package proration

import (
	"testing"
	"time"

	"github.com/smallbiznis/contractbilling/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCalculate_UpgradeMidJune(t *testing.T) {
	got, err := Calculate(Input{
		OldMonthlyFee: 45000,
		NewMonthlyFee: 70000,
		ChangeDate:    date(2025, 6, 10),
		BillingCycle:  catalog.BillingCycleMonthly,
		StartDate:     date(2024, 1, 1),
	})
	require.NoError(t, err)

	assert.Equal(t, 30, got.DaysTotal)
	assert.Equal(t, 21, got.DaysRemaining)
	assert.Equal(t, int64(-31500), got.OldPlanProratedAmount)
	assert.Equal(t, int64(49000), got.NewPlanProratedAmount)
	assert.Equal(t, int64(17500), got.ProratedDifference)
	assert.Equal(t, date(2025, 6, 1), got.BillingPeriodStart)
	assert.Equal(t, date(2025, 6, 30), got.BillingPeriodEnd)
}

func TestCalculate_RoundsHalfAwayFromZero(t *testing.T) {
	got, err := Calculate(Input{
		OldMonthlyFee: 15,
		NewMonthlyFee: 15,
		ChangeDate:    date(2025, 2, 28),
		BillingCycle:  catalog.BillingCycleMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, 28, got.DaysTotal)
	assert.Equal(t, 1, got.DaysRemaining)
	// 15/28 = 0.53 rounds to 1
	assert.Equal(t, int64(-1), got.OldPlanProratedAmount)
	assert.Equal(t, int64(1), got.NewPlanProratedAmount)

	got, err = Calculate(Input{
		OldMonthlyFee: 5,
		NewMonthlyFee: 5,
		ChangeDate:    date(2024, 4, 16),
		BillingCycle:  catalog.BillingCycleMonthly,
	})
	require.NoError(t, err)
	// 5 * 15 / 30 = 2.5
	assert.Equal(t, int64(-3), got.OldPlanProratedAmount)
	assert.Equal(t, int64(3), got.NewPlanProratedAmount)
	assert.Equal(t, int64(0), got.ProratedDifference)
}

func TestCalculate_FirstDayChargesWholeMonth(t *testing.T) {
	got, err := Calculate(Input{
		OldMonthlyFee: 31000,
		NewMonthlyFee: 62000,
		ChangeDate:    date(2025, 1, 1),
		BillingCycle:  catalog.BillingCycleMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, 31, got.DaysRemaining)
	assert.Equal(t, int64(-31000), got.OldPlanProratedAmount)
	assert.Equal(t, int64(62000), got.NewPlanProratedAmount)
}

func TestCalculate_AnnualProratesWithinCalendarMonth(t *testing.T) {
	got, err := Calculate(Input{
		OldMonthlyFee: 45000,
		NewMonthlyFee: 70000,
		ChangeDate:    date(2025, 6, 10),
		BillingCycle:  catalog.BillingCycleAnnual,
		StartDate:     date(2024, 9, 15),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(17500), got.ProratedDifference)
	assert.Equal(t, date(2025, 6, 1), got.BillingPeriodStart)
	assert.Equal(t, date(2024, 9, 15), got.TermStart)
	assert.Equal(t, date(2025, 9, 14), got.TermEnd)
}

func TestCalculate_Errors(t *testing.T) {
	_, err := Calculate(Input{OldMonthlyFee: -1, ChangeDate: date(2025, 1, 1), BillingCycle: catalog.BillingCycleMonthly})
	assert.ErrorIs(t, err, ErrNegativeFee)

	_, err = Calculate(Input{ChangeDate: date(2025, 1, 1), BillingCycle: "weekly"})
	assert.ErrorIs(t, err, ErrInvalidBillingCycle)

	_, err = Calculate(Input{BillingCycle: catalog.BillingCycleMonthly})
	assert.ErrorIs(t, err, ErrMissingChangeDate)

	_, err = Calculate(Input{
		ChangeDate:   date(2024, 1, 1),
		BillingCycle: catalog.BillingCycleAnnual,
		StartDate:    date(2024, 6, 1),
	})
	assert.ErrorIs(t, err, ErrChangeBeforeStart)
}

func TestCalculate_SignProperty(t *testing.T) {
	fees := []int64{1, 7, 999, 45000, 123457}
	for month := time.January; month <= time.December; month++ {
		last := MonthEnd(date(2024, month, 1)).Day()
		for day := 1; day <= last; day++ {
			for _, oldFee := range fees {
				for _, newFee := range fees {
					got, err := Calculate(Input{
						OldMonthlyFee: oldFee,
						NewMonthlyFee: newFee,
						ChangeDate:    date(2024, month, day),
						BillingCycle:  catalog.BillingCycleMonthly,
					})
					require.NoError(t, err)
					assert.LessOrEqual(t, got.OldPlanProratedAmount, int64(0))
					assert.GreaterOrEqual(t, got.NewPlanProratedAmount, int64(0))
					assert.LessOrEqual(t, got.DaysRemaining, got.DaysTotal)
				}
			}
		}
	}
}

func TestAnnualTerm_LeapAnchor(t *testing.T) {
	start, end, err := AnnualTerm(date(2024, 2, 29), date(2025, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2025, 2, 28), start)
	assert.Equal(t, date(2026, 2, 27), end)
}
