package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateTruncatesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)
	in := time.Date(2025, 1, 15, 3, 30, 0, 0, loc)

	got := Date(in)

	assert.Equal(t, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC), got)
}

func TestFakeClockAdvanceDays(t *testing.T) {
	fc := NewFakeClock(time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC))
	fc.AdvanceDays(1)

	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Today(fc))
}
