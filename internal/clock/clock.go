package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the single source of "now" for policy and applier code.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func New() Clock {
	return SystemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(New),
)

// Today returns the current UTC calendar date at midnight.
func Today(c Clock) time.Time {
	return Date(c.Now())
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
