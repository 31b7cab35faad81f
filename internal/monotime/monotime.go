// Package monotime reads and sleeps against the monotonic clock.
//
// Time points are kept as split seconds/nanoseconds so that deadlines can be
// advanced by exact nanosecond steps, and converted to float seconds for
// storage and arithmetic.
package monotime

import "math"

const nanosPerSecond = 1_000_000_000

// TimePoint is a monotonic clock reading. Nsec is always in [0, 1e9).
type TimePoint struct {
	Sec  int64
	Nsec int64
}

// Now returns the current monotonic time.
func Now() TimePoint {
	return now()
}

// Seconds converts t to floating-point seconds.
func (t TimePoint) Seconds() float64 {
	return float64(t.Sec) + 1e-9*float64(t.Nsec)
}

// Nanos returns t as a single nanosecond count.
func (t TimePoint) Nanos() int64 {
	return t.Sec*nanosPerSecond + t.Nsec
}

// FromSeconds converts floating-point seconds to a TimePoint.
func FromSeconds(s float64) TimePoint {
	intpart, frac := math.Modf(s)
	return normalize(int64(intpart), int64(frac*1e9))
}

// FromNanos builds a TimePoint from a nanosecond count.
func FromNanos(ns int64) TimePoint {
	return normalize(0, ns)
}

// DiffNanos returns a - b in nanoseconds.
func DiffNanos(a, b TimePoint) int64 {
	return a.Nsec - b.Nsec + nanosPerSecond*(a.Sec-b.Sec)
}

// Bump returns t advanced by ns nanoseconds, carrying into seconds.
func (t TimePoint) Bump(ns int64) TimePoint {
	return normalize(t.Sec, t.Nsec+ns)
}

// Before reports whether t is earlier than u.
func (t TimePoint) Before(u TimePoint) bool {
	return DiffNanos(t, u) < 0
}

// SleepUntil blocks until the monotonic clock has reached deadline and
// returns the time observed on waking. An absolute sleep may return early
// (signal delivery), so the sleep is re-issued until the clock has passed
// the deadline.
func SleepUntil(deadline TimePoint) TimePoint {
	t := Now()
	for t.Before(deadline) {
		sleepAbs(deadline)
		t = Now()
	}
	return t
}

func normalize(sec, nsec int64) TimePoint {
	sec += nsec / nanosPerSecond
	nsec %= nanosPerSecond
	if nsec < 0 {
		nsec += nanosPerSecond
		sec--
	}
	return TimePoint{Sec: sec, Nsec: nsec}
}
