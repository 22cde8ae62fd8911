package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/contractbilling/internal/clock"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextBillingDate(t *testing.T) {
	cases := []struct {
		name       string
		today      time.Time
		billingDay int
		want       time.Time
	}{
		{name: "before billing day", today: date(2025, 1, 10), billingDay: 15, want: date(2025, 1, 15)},
		{name: "on billing day rolls over", today: date(2025, 1, 15), billingDay: 15, want: date(2025, 2, 15)},
		{name: "after billing day", today: date(2025, 1, 20), billingDay: 1, want: date(2025, 2, 1)},
		{name: "december rolls into new year", today: date(2025, 12, 20), billingDay: 5, want: date(2026, 1, 5)},
		{name: "last day sentinel this month", today: date(2025, 1, 30), billingDay: contractdomain.LastDayOfMonth, want: date(2025, 1, 31)},
		{name: "last day sentinel short month", today: date(2025, 1, 31), billingDay: contractdomain.LastDayOfMonth, want: date(2025, 2, 28)},
		{name: "last day sentinel leap year", today: date(2024, 2, 10), billingDay: contractdomain.LastDayOfMonth, want: date(2024, 2, 29)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextBillingDate(tc.today, tc.billingDay)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextBillingDate_InvalidDay(t *testing.T) {
	for _, day := range []int{0, 29, 30, 32, -1} {
		_, err := NextBillingDate(date(2025, 1, 1), day)
		assert.ErrorIs(t, err, ErrInvalidBillingDay, "day %d", day)
	}
}

func TestDecide_DowngradeShortNoticeMovesToFollowingCycle(t *testing.T) {
	got, err := Decide(Input{
		Today:              date(2025, 1, 15),
		BillingDay:         1,
		CurrentSeatLimit:   30,
		RequestedSeatLimit: 10,
	})
	require.NoError(t, err)

	assert.True(t, got.IsDowngrade)
	assert.Equal(t, date(2025, 2, 1), got.NextBillingDate)
	assert.Equal(t, 17, got.DaysUntilBilling)
	assert.Equal(t, date(2025, 3, 1), got.EffectiveDate)
}

func TestDecide_DowngradeWithEnoughNotice(t *testing.T) {
	got, err := Decide(Input{
		Today:              date(2024, 12, 1),
		BillingDay:         1,
		CurrentSeatLimit:   30,
		RequestedSeatLimit: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 31, got.DaysUntilBilling)
	assert.Equal(t, date(2025, 1, 1), got.EffectiveDate)
}

func TestDecide_UpgradeIsImmediate(t *testing.T) {
	got, err := Decide(Input{
		Today:              time.Date(2025, 6, 10, 17, 45, 0, 0, time.UTC),
		BillingDay:         1,
		CurrentSeatLimit:   10,
		RequestedSeatLimit: 30,
	})
	require.NoError(t, err)

	assert.False(t, got.IsDowngrade)
	assert.Equal(t, date(2025, 6, 10), got.EffectiveDate)
}

func TestDecide_SameSeatsIsNotDowngrade(t *testing.T) {
	got, err := Decide(Input{
		Today:              date(2025, 6, 10),
		BillingDay:         1,
		CurrentSeatLimit:   10,
		RequestedSeatLimit: 10,
	})
	require.NoError(t, err)
	assert.False(t, got.IsDowngrade)
	assert.Equal(t, date(2025, 6, 10), got.EffectiveDate)
}

func TestDecide_RejectsForcedEarlierDate(t *testing.T) {
	forced := date(2025, 2, 1)
	_, err := Decide(Input{
		Today:                  date(2025, 1, 15),
		BillingDay:             1,
		CurrentSeatLimit:       30,
		RequestedSeatLimit:     10,
		RequestedEffectiveDate: &forced,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, planchangedomain.ErrNoticePeriodViolation))
	var violation *planchangedomain.NoticePeriodViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, date(2025, 3, 1), violation.EarliestDate)
}

func TestDecide_AcceptsLaterBillingDate(t *testing.T) {
	later := date(2025, 5, 1)
	got, err := Decide(Input{
		Today:                  date(2025, 1, 15),
		BillingDay:             1,
		CurrentSeatLimit:       30,
		RequestedSeatLimit:     10,
		RequestedEffectiveDate: &later,
	})
	require.NoError(t, err)
	assert.Equal(t, later, got.EffectiveDate)

	offCycle := date(2025, 5, 3)
	_, err = Decide(Input{
		Today:                  date(2025, 1, 15),
		BillingDay:             1,
		CurrentSeatLimit:       30,
		RequestedSeatLimit:     10,
		RequestedEffectiveDate: &offCycle,
	})
	assert.ErrorIs(t, err, planchangedomain.ErrValidation)
}

func TestDecide_NoticeFloorHoldsForEveryDay(t *testing.T) {
	billingDays := []int{1, 5, 14, 28, contractdomain.LastDayOfMonth}
	start := date(2024, 1, 1)
	for offset := 0; offset < 3*366; offset++ {
		today := start.AddDate(0, 0, offset)
		for _, day := range billingDays {
			got, err := Decide(Input{
				Today:              today,
				BillingDay:         day,
				CurrentSeatLimit:   20,
				RequestedSeatLimit: 5,
			})
			require.NoError(t, err)
			lead := int(got.EffectiveDate.Sub(today).Hours() / 24)
			if lead < DefaultNoticeDays {
				t.Fatalf("today=%s day=%d effective=%s lead=%d", today.Format(time.DateOnly), day, got.EffectiveDate.Format(time.DateOnly), lead)
			}
			assert.Equal(t, got.EffectiveDate, BillingDateIn(got.EffectiveDate.Year(), got.EffectiveDate.Month(), day))
		}
	}
}

func TestDecide_EndOfJanuaryDoesNotShortenNotice(t *testing.T) {
	got, err := Decide(Input{
		Today:              date(2025, 1, 31),
		BillingDay:         1,
		CurrentSeatLimit:   30,
		RequestedSeatLimit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, date(2025, 4, 1), got.EffectiveDate)
}

func TestPolicyUsesInjectedClock(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	p := New(fc, func() int { return 45 })

	got, err := p.Evaluate(1, 30, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 3, 1), got.EffectiveDate)

	fc.AdvanceDays(1)
	got, err = p.Evaluate(1, 30, 10, nil)
	require.NoError(t, err)
	// 2025-01-16 to 2025-03-01 is 44 days, so a 45 day window needs April.
	assert.Equal(t, date(2025, 4, 1), got.EffectiveDate)
}
