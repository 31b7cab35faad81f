// Package spin burns CPU for a calibrated amount of time to simulate load
// inside the audio callback and render goroutines.
package spin

import (
	"fmt"
	"sync/atomic"
	"time"
)

// UnitIterations is the number of mixing steps in one unit, about 100us on
// the reference hardware. The calibration is not portable; use Calibrate to
// measure the local cost.
const UnitIterations = 30083

var sink atomic.Uint32

// Units spins for n calibrated units and returns the mixed value.
func Units(n int) uint32 {
	x := uint32(1)
	for i := 0; i < n; i++ {
		x = mix(x, UnitIterations)
	}
	sink.Store(x)
	return x
}

// Millis spins for n nominal milliseconds.
func Millis(n int) uint32 {
	return Units(10 * n)
}

func mix(x uint32, iters int) uint32 {
	for j := 0; j < iters; j++ {
		x += 42
		x += x << 10
		x ^= x >> 6
	}
	return x
}

// Calibration is the outcome of a timed spin.
type Calibration struct {
	Millis  int
	Elapsed time.Duration
}

func (c Calibration) String() string {
	return fmt.Sprintf("%d iters in %.6fs", c.Millis, c.Elapsed.Seconds())
}

// Ratio is the measured cost of one nominal millisecond relative to a real
// one. Values above 1 mean the host is slower than the reference.
func (c Calibration) Ratio() float64 {
	if c.Millis <= 0 {
		return 0
	}
	return c.Elapsed.Seconds() * 1000 / float64(c.Millis)
}

// Calibrate warms up for warmupMs nominal milliseconds and then times ms
// nominal milliseconds of spinning.
func Calibrate(warmupMs, ms int) Calibration {
	Millis(warmupMs)
	start := time.Now()
	Millis(ms)
	return Calibration{Millis: ms, Elapsed: time.Since(start)}
}
