//go:build linux

package monotime

import (
	"time"

	"golang.org/x/sys/unix"
)

func now() TimePoint {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNow()
	}
	sec, nsec := ts.Unix()
	return TimePoint{Sec: sec, Nsec: nsec}
}

func sleepAbs(deadline TimePoint) {
	ts := unix.NsecToTimespec(deadline.Nanos())
	// EINTR is expected; the caller re-checks the clock.
	_ = unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
}

var fallbackEpoch = time.Now()

func fallbackNow() TimePoint {
	return FromNanos(int64(time.Since(fallbackEpoch)))
}
