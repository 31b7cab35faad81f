// Package analysis derives timing statistics from recorded jitter sessions:
// clock drift by linear regression, worst-case render thread delays and an
// estimate of the driver's native buffer size.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/recorder"
)

const (
	// DefaultSkip is the number of start-up callbacks ignored by every
	// statistic.
	DefaultSkip = 100
	// ProbeBufferSize is the buffer size requested by a buffer-size
	// detection session.
	ProbeBufferSize = 64
	// GapThreshold separates back-to-back callbacks from callbacks that
	// waited for the hardware.
	GapThreshold = 0.001
)

var ErrTooFewSamples = errors.New("too few samples after skip")

// DriftResult is a linear fit of callback start time against index.
type DriftResult struct {
	// Rate is the fitted seconds per callback.
	Rate float64
	// Jitter is the max-min residual against the rate, in seconds.
	Jitter float64
}

func (d DriftResult) String() string {
	return fmt.Sprintf("ms per tick = %.3f; jitter (lr) = %.3f", d.Rate*1000, d.Jitter*1000)
}

// Drift fits starts[skip:] by least squares. When forceRate is non-zero the
// residual is taken against it instead of the fitted rate, so that runs can
// be compared against the first run's clock.
func Drift(starts []float64, skip int, forceRate float64) (DriftResult, error) {
	n := len(starts)
	count := n - skip
	if skip < 0 || count < 2 {
		return DriftResult{}, fmt.Errorf("%w: %d samples, skip %d", ErrTooFewSamples, n, skip)
	}
	var xys, xs, ys, x2s float64
	for i := skip; i < n; i++ {
		x := float64(i)
		y := starts[i]
		xys += x * y
		xs += x
		ys += y
		x2s += x * x
	}
	c := float64(count)
	beta := (c*xys - xs*ys) / (c*x2s - xs*xs)
	rate := beta
	if forceRate != 0 {
		rate = forceRate
	}
	var minErr, maxErr float64
	for i := skip; i < n; i++ {
		e := rate*float64(i) - starts[i]
		if i == skip || e < minErr {
			minErr = e
		}
		if i == skip || e > maxErr {
			maxErr = e
		}
	}
	return DriftResult{Rate: beta, Jitter: maxErr - minErr}, nil
}

// ActualSampleRate is the sample rate implied by a fitted callback rate.
func ActualSampleRate(bufferSize int, rate float64) float64 {
	if rate == 0 {
		return 0
	}
	return float64(bufferSize) / rate
}

// ThreadMeasurement holds worst-case delays after the callback started, in
// seconds.
type ThreadMeasurement struct {
	CallbackDone float64
	RenderStart  float64
	RenderEnd    float64
}

func (t ThreadMeasurement) String() string {
	return fmt.Sprintf("cbDone=%.3f, renderStart=%.3f, renderEnd=%.3f",
		t.CallbackDone*1000, t.RenderStart*1000, t.RenderEnd*1000)
}

// Threads returns the largest callback, render-wake and render-done delays
// relative to the callback start over indexes >= skip.
func Threads(ts recorder.Timestamps, skip int) ThreadMeasurement {
	var tm ThreadMeasurement
	for i := skip; i < ts.Len(); i++ {
		start := ts.CallbackStart.At(i)
		tm.CallbackDone = math.Max(tm.CallbackDone, ts.CallbackDone.At(i)-start)
		tm.RenderStart = math.Max(tm.RenderStart, ts.RenderWake.At(i)-start)
		tm.RenderEnd = math.Max(tm.RenderEnd, ts.RenderDone.At(i)-start)
	}
	return tm
}

// BufferEstimate is the outcome of BufferSize.
type BufferEstimate struct {
	Raw  float64
	Size int
}

// BufferSize estimates the native buffer size from a session run with
// probeSize-frame buffers. The driver requests small buffers in bursts, one
// burst per native period; counting the gaps longer than GapThreshold gives
// the number of periods. The result is rounded to a multiple of 16.
func BufferSize(starts []float64, probeSize, skip int) (BufferEstimate, error) {
	n := len(starts)
	if skip < 1 || n-skip < 1 {
		return BufferEstimate{}, fmt.Errorf("%w: %d samples, skip %d", ErrTooFewSamples, n, skip)
	}
	gaps := 0
	for i := skip; i < n; i++ {
		if starts[i]-starts[i-1] > GapThreshold {
			gaps++
		}
	}
	if gaps == 0 {
		return BufferEstimate{}, errors.New("no callback gaps above 1ms")
	}
	raw := float64(probeSize) * float64(n-skip) / float64(gaps)
	return BufferEstimate{Raw: raw, Size: 16 * int(math.Round(raw/16))}, nil
}

// MarkJitter recomputes a session's callback jitter in milliseconds from its
// recorded start times.
func MarkJitter(starts []float64, sampleRate, bufferSize, skip int) float64 {
	return jitter.Recompute(starts, sampleRate, bufferSize, skip)
}
