package guard

// SeatCheck reports how far active users exceed a proposed seat limit.
type SeatCheck struct {
	Exceeded bool `json:"user_count_exceeded"`
	Excess   int  `json:"excess_users"`
}

// CheckSeats flags, but never blocks, a seat limit below the active user count.
func CheckSeats(activeUsers, newSeatLimit int) SeatCheck {
	excess := max(0, activeUsers-newSeatLimit)
	return SeatCheck{Exceeded: excess > 0, Excess: excess}
}
