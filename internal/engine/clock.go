package engine

import "time"

// Clock is the engine's time source. Reducer timestamps, commit times and
// scheduler due times all come from it, so tests and the harness swap in a
// manual clock to control time exactly.
//
// Ordering never depends on the clock: commit versions and journal seq
// numbers order events.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock in UTC.
type WallClock struct{}

// Now returns the current time in UTC.
func (WallClock) Now() time.Time {
	return time.Now().UTC()
}
