package policy

import (
	"errors"
	"time"

	"github.com/smallbiznis/contractbilling/internal/clock"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
)

// DefaultNoticeDays is the minimum lead time before a downgrade takes effect.
const DefaultNoticeDays = 30

var ErrInvalidBillingDay = errors.New("invalid_billing_day")

type Input struct {
	Today              time.Time
	BillingDay         int
	CurrentSeatLimit   int
	RequestedSeatLimit int
	// RequestedEffectiveDate is only honored for downgrades.
	RequestedEffectiveDate *time.Time
	NoticeDays             int
}

type Decision struct {
	EffectiveDate    time.Time `json:"effective_date"`
	IsDowngrade      bool      `json:"is_downgrade"`
	NextBillingDate  time.Time `json:"next_billing_date"`
	DaysUntilBilling int       `json:"days_until_billing"`
}

// Decide classifies the change and computes the earliest effective date.
// Seat count is the only downgrade signal. Upgrades apply today; downgrades
// wait for a billing date at least NoticeDays away.
func Decide(in Input) (Decision, error) {
	today := clock.Date(in.Today)
	next, err := NextBillingDate(today, in.BillingDay)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{
		IsDowngrade:      in.RequestedSeatLimit < in.CurrentSeatLimit,
		NextBillingDate:  next,
		DaysUntilBilling: daysBetween(today, next),
	}
	if !decision.IsDowngrade {
		decision.EffectiveDate = today
		return decision, nil
	}

	notice := in.NoticeDays
	if notice <= 0 {
		notice = DefaultNoticeDays
	}
	earliest := next
	for daysBetween(today, earliest) < notice {
		earliest = followingBillingDate(earliest, in.BillingDay)
	}
	decision.EffectiveDate = earliest

	if in.RequestedEffectiveDate == nil {
		return decision, nil
	}
	requested := clock.Date(*in.RequestedEffectiveDate)
	if requested.Before(earliest) {
		return Decision{}, &planchangedomain.NoticePeriodViolation{
			RequestedDate: requested,
			EarliestDate:  earliest,
		}
	}
	if !requested.Equal(BillingDateIn(requested.Year(), requested.Month(), in.BillingDay)) {
		return Decision{}, planchangedomain.NewValidationError("effective_date", "effective date must fall on a billing date")
	}
	decision.EffectiveDate = requested
	return decision, nil
}

// NextBillingDate returns this month's billing date when today is before it,
// otherwise next month's.
func NextBillingDate(today time.Time, billingDay int) (time.Time, error) {
	if !contractdomain.ValidBillingDay(billingDay) {
		return time.Time{}, ErrInvalidBillingDay
	}
	today = clock.Date(today)
	current := BillingDateIn(today.Year(), today.Month(), billingDay)
	if today.Day() < current.Day() {
		return current, nil
	}
	return followingBillingDate(current, billingDay), nil
}

// BillingDateIn resolves billingDay inside a month; the last-day sentinel
// becomes the month's actual last day.
func BillingDateIn(year int, month time.Month, billingDay int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := billingDay
	if billingDay == contractdomain.LastDayOfMonth || day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func followingBillingDate(d time.Time, billingDay int) time.Time {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return BillingDateIn(first.Year(), first.Month(), billingDay)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// Policy binds Decide to an injected clock and a notice window that may be
// reloaded at runtime.
type Policy struct {
	clock      clock.Clock
	noticeDays func() int
}

func New(c clock.Clock, noticeDays func() int) *Policy {
	if noticeDays == nil {
		noticeDays = func() int { return DefaultNoticeDays }
	}
	return &Policy{clock: c, noticeDays: noticeDays}
}

func (p *Policy) Today() time.Time {
	return clock.Today(p.clock)
}

func (p *Policy) Evaluate(billingDay, currentSeats, requestedSeats int, requested *time.Time) (Decision, error) {
	return Decide(Input{
		Today:                  p.Today(),
		BillingDay:             billingDay,
		CurrentSeatLimit:       currentSeats,
		RequestedSeatLimit:     requestedSeats,
		RequestedEffectiveDate: requested,
		NoticeDays:             p.noticeDays(),
	})
}
