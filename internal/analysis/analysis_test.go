package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/NodePath81/latprobe/internal/recorder"
)

func periodic(n int, period float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 50 + float64(i)*period
	}
	return out
}

func TestDriftPeriodic(t *testing.T) {
	starts := periodic(400, 0.005)
	d, err := Drift(starts, DefaultSkip, 0)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if math.Abs(d.Rate-0.005) > 1e-9 {
		t.Fatalf("rate = %v, want 0.005", d.Rate)
	}
	if d.Jitter > 1e-9 {
		t.Fatalf("jitter = %v, want ~0", d.Jitter)
	}
}

func TestDriftSingleOutlier(t *testing.T) {
	starts := periodic(400, 0.005)
	starts[250] += 0.003
	d, err := Drift(starts, DefaultSkip, 0.005)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if math.Abs(d.Jitter-0.003) > 1e-9 {
		t.Fatalf("jitter = %v, want 0.003", d.Jitter)
	}
	// Outliers before the skip are ignored.
	starts = periodic(400, 0.005)
	starts[10] += 1
	d, _ = Drift(starts, DefaultSkip, 0)
	if d.Jitter > 1e-9 {
		t.Fatalf("warm-up outlier leaked into jitter %v", d.Jitter)
	}
}

func TestDriftForcedRateExposesClockError(t *testing.T) {
	starts := periodic(300, 0.0051)
	d, err := Drift(starts, DefaultSkip, 0.005)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	// 199 intervals of 0.1ms accumulated error.
	if math.Abs(d.Jitter-0.0199) > 1e-9 {
		t.Fatalf("jitter = %v, want 0.0199", d.Jitter)
	}
	if math.Abs(d.Rate-0.0051) > 1e-9 {
		t.Fatalf("rate = %v, want fitted 0.0051", d.Rate)
	}
}

func TestDriftTooFew(t *testing.T) {
	if _, err := Drift(periodic(101, 0.01), DefaultSkip, 0); !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("err = %v, want ErrTooFewSamples", err)
	}
}

func TestDriftString(t *testing.T) {
	d := DriftResult{Rate: 0.0053333, Jitter: 0.0012}
	if got := d.String(); got != "ms per tick = 5.333; jitter (lr) = 1.200" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestActualSampleRate(t *testing.T) {
	if got := ActualSampleRate(480, 0.01); math.Abs(got-48000) > 1e-6 {
		t.Fatalf("ActualSampleRate = %v, want 48000", got)
	}
	if ActualSampleRate(480, 0) != 0 {
		t.Fatalf("zero rate should give 0")
	}
}

func TestThreads(t *testing.T) {
	ts := recorder.NewTimestamps(4)
	for i := 0; i < 4; i++ {
		base := float64(i)
		ts.CallbackStart.Set(i, base)
		ts.CallbackDone.Set(i, base+0.001*float64(i))
		ts.RenderWake.Set(i, base+0.002)
		ts.RenderDone.Set(i, base+0.003*float64(i))
	}
	ts.RenderDone.Set(0, 99)
	tm := Threads(ts, 1)
	if math.Abs(tm.CallbackDone-0.003) > 1e-9 || math.Abs(tm.RenderStart-0.002) > 1e-9 || math.Abs(tm.RenderEnd-0.009) > 1e-9 {
		t.Fatalf("unexpected measurement %+v", tm)
	}
	if got := (ThreadMeasurement{CallbackDone: 0.001, RenderStart: 0.0025, RenderEnd: 0.01}).String(); got != "cbDone=1.000, renderStart=2.500, renderEnd=10.000" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestBufferSizeBursts(t *testing.T) {
	// Four 64-frame callbacks back to back every 256-frame period.
	var starts []float64
	now := 10.0
	for p := 0; p < 200; p++ {
		for k := 0; k < 4; k++ {
			starts = append(starts, now+float64(k)*0.0001)
		}
		now += 256.0 / 48000
	}
	est, err := BufferSize(starts, ProbeBufferSize, DefaultSkip)
	if err != nil {
		t.Fatalf("BufferSize: %v", err)
	}
	if est.Size != 256 {
		t.Fatalf("size = %d (raw %f), want 256", est.Size, est.Raw)
	}
}

func TestBufferSizeRoundsTo16(t *testing.T) {
	starts := []float64{0, 0.002, 0.0021, 0.004, 0.0041, 0.0042}
	est, err := BufferSize(starts, 64, 1)
	if err != nil {
		t.Fatalf("BufferSize: %v", err)
	}
	// 5 intervals, 2 gaps: raw 160.
	if est.Raw != 160 || est.Size != 160 {
		t.Fatalf("estimate = %+v, want 160", est)
	}
	if _, err := BufferSize([]float64{0, 0.0001, 0.0002}, 64, 1); err == nil {
		t.Fatalf("expected error without gaps")
	}
}

func TestMarkJitterMatchesRecompute(t *testing.T) {
	starts := periodic(20, 0.004)
	starts[15] += 0.001
	got := MarkJitter(starts, 48000, 192, 5)
	if math.Abs(got-1.0) > 1e-6 {
		t.Fatalf("MarkJitter = %v, want ~1ms", got)
	}
}
