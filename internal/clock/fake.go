package clock

import "time"

type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// AdvanceDays moves the clock forward by whole calendar days.
func (c *FakeClock) AdvanceDays(days int) {
	c.now = c.now.AddDate(0, 0, days)
}

func (c *FakeClock) Set(t time.Time) {
	c.now = t.UTC()
}
