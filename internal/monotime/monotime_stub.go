//go:build !linux

package monotime

import "time"

var epoch = time.Now()

func now() TimePoint {
	return FromNanos(int64(time.Since(epoch)))
}

func sleepAbs(deadline TimePoint) {
	if d := DiffNanos(deadline, now()); d > 0 {
		time.Sleep(time.Duration(d))
	}
}
