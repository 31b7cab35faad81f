package jitter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/NodePath81/latprobe/internal/util"
)

func testParams(length int) Params {
	p := DefaultParams(48000, 256)
	p.TrialLength = length
	p.WarmupSkip = 5
	p.RenderPriority = 0
	return p
}

func runSession(t *testing.T, sink *fakeSink, p Params) *Result {
	t.Helper()
	e := NewEngine(sink, util.DiscardLogger())
	res, err := e.RunJitterSession(context.Background(), p)
	if err != nil {
		t.Fatalf("RunJitterSession: %v", err)
	}
	return res
}

func TestPlayIndexRoundRobin(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	p := testParams(40)
	runSession(t, sink, p)
	if len(sink.enqueued) < p.TrialLength {
		t.Fatalf("enqueued %d buffers, want >= %d", len(sink.enqueued), p.TrialLength)
	}
	for i := 0; i < NumBuffers; i++ {
		for j := i + 1; j < NumBuffers; j++ {
			if sink.enqueued[i] == sink.enqueued[j] {
				t.Fatalf("buffers %d and %d share storage", i, j)
			}
		}
	}
	for i, ptr := range sink.enqueued {
		if ptr != sink.enqueued[i%NumBuffers] {
			t.Fatalf("callback %d enqueued buffer out of rotation", i)
		}
	}
}

func TestBuffersAreMarkedSilence(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	runSession(t, sink, testParams(20))
	for i, m := range sink.markers {
		if m != markerSample {
			t.Fatalf("buffer %d marker = %d, want %d", i, m, markerSample)
		}
		if sink.sizes[i] != 256 {
			t.Fatalf("buffer %d size = %d, want 256", i, sink.sizes[i])
		}
	}
	if sink.dirty != 0 {
		t.Fatalf("%d buffers carried non-zero samples after the marker", sink.dirty)
	}
	if sink.opened != 1 || sink.closed != 1 {
		t.Fatalf("open/close = %d/%d, want 1/1", sink.opened, sink.closed)
	}
}

func TestJitterFormula(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	p := testParams(50)
	res := runSession(t, sink, p)
	want := (res.MaxMark - res.MinMark) * float64(p.BufferSize) / float64(p.SampleRate) * 1000
	if res.JitterMs != want {
		t.Fatalf("JitterMs = %v, want %v", res.JitterMs, want)
	}
	if res.MaxMark < res.MinMark {
		t.Fatalf("max mark %f below min mark %f", res.MaxMark, res.MinMark)
	}
	if res.Text != fmt.Sprintf("fake callback jitter = %.3fms", want) {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestJitterRecomputesFromStarts(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	p := testParams(60)
	p.WarmupSkip = 10
	res := runSession(t, sink, p)
	got := Recompute(res.Timestamps.CallbackStart.Values(), p.SampleRate, p.BufferSize, p.WarmupSkip)
	if got != res.JitterMs {
		t.Fatalf("recomputed %v, session reported %v", got, res.JitterMs)
	}
}

func TestTimestampOrdering(t *testing.T) {
	sink := newFakeSink(2 * time.Millisecond)
	p := testParams(40)
	res := runSession(t, sink, p)
	ts := res.Timestamps
	for i := 0; i < p.TrialLength; i++ {
		if ts.CallbackDone.At(i) < ts.CallbackStart.At(i) {
			t.Fatalf("callback %d done before start", i)
		}
		if i > 0 && ts.CallbackStart.At(i) <= ts.CallbackStart.At(i-1) {
			t.Fatalf("callback %d started before callback %d", i, i-1)
		}
	}
	for i := 1; i < p.TrialLength; i++ {
		if ts.RenderWake.At(i) < ts.CallbackStart.At(i) {
			t.Fatalf("render %d woke before callback %d started", i, i)
		}
		if ts.RenderDone.At(i) < ts.RenderWake.At(i) {
			t.Fatalf("render %d done before wake", i)
		}
	}
	if ts.RenderWake.At(0) != 0 || ts.RenderDone.At(0) != 0 {
		t.Fatalf("render slot 0 should stay unused")
	}
}

func TestNoUnderrunsWithoutLoad(t *testing.T) {
	for _, lookahead := range []int{0, 1} {
		t.Run(fmt.Sprintf("lookahead=%d", lookahead), func(t *testing.T) {
			sink := newFakeSink(5 * time.Millisecond)
			p := testParams(40)
			p.Lookahead = lookahead
			res := runSession(t, sink, p)
			if res.Underruns != 0 || len(res.UnderrunAt) != 0 {
				t.Fatalf("underruns = %d at %v, want 0", res.Underruns, res.UnderrunAt)
			}
			if lookahead > 0 {
				return
			}
			// Render i is woken by callback i and must finish before
			// callback i+1 plays its buffer.
			ts := res.Timestamps
			for i := 1; i < p.TrialLength-1; i++ {
				if ts.RenderWake.At(i) >= ts.CallbackStart.At(i+1) {
					t.Fatalf("render %d woke after callback %d started", i, i+1)
				}
				if ts.RenderDone.At(i) >= ts.CallbackStart.At(i+1) {
					t.Fatalf("render %d finished after callback %d started", i, i+1)
				}
			}
		})
	}
}

func median(xs []float64) float64 {
	s := slices.Clone(xs)
	slices.Sort(s)
	return s[len(s)/2]
}

func TestPulsedSessionAlternatesLoad(t *testing.T) {
	sink := newFakeSink(5 * time.Millisecond)
	p := testParams(30)
	p.Pulse = true
	p.PulseBlock = 5
	p.CallbackDelay = 10
	p.RenderDelay = 10
	res := runSession(t, sink, p)
	ts := res.Timestamps

	var cbQuiet, cbLoaded, renderQuiet, renderLoaded []float64
	for i := 0; i < p.TrialLength; i++ {
		cb := ts.CallbackDone.At(i) - ts.CallbackStart.At(i)
		loaded := (i/p.PulseBlock)&1 == 1
		if loaded {
			cbLoaded = append(cbLoaded, cb)
		} else {
			cbQuiet = append(cbQuiet, cb)
		}
		if i == 0 {
			continue
		}
		r := ts.RenderDone.At(i) - ts.RenderWake.At(i)
		if loaded {
			renderLoaded = append(renderLoaded, r)
		} else {
			renderQuiet = append(renderQuiet, r)
		}
	}
	if q, l := median(cbQuiet), median(cbLoaded); l <= 5*q || l <= 0 {
		t.Fatalf("callback duration quiet %.9fs loaded %.9fs, want loaded blocks well above quiet", q, l)
	}
	if q, l := median(renderQuiet), median(renderLoaded); l <= 5*q || l <= 0 {
		t.Fatalf("render duration quiet %.9fs loaded %.9fs, want loaded blocks well above quiet", q, l)
	}
}

func TestZeroParamsTakeOnlyStructuralDefaults(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	res := runSession(t, sink, Params{SampleRate: 48000, BufferSize: 256, TrialLength: 20})
	if res.Params.PulseBlock != DefaultPulseBlock {
		t.Fatalf("pulse block = %d, want %d", res.Params.PulseBlock, DefaultPulseBlock)
	}
	if res.Params.WarmupSkip != 0 || res.Params.RenderPriority != 0 {
		t.Fatalf("zero warmup/priority replaced: %+v", res.Params)
	}
	if res.RenderPriorityErr != nil {
		t.Fatalf("render priority attempted: %v", res.RenderPriorityErr)
	}
}

func TestUnderrunsUnderRenderLoad(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	p := testParams(20)
	p.RenderDelay = 200
	obs := &countingObserver{}
	e := NewEngine(sink, util.DiscardLogger())
	e.AddObserver(obs)
	res, err := e.RunJitterSession(context.Background(), p)
	if err != nil {
		t.Fatalf("RunJitterSession: %v", err)
	}
	if res.Underruns == 0 {
		t.Fatalf("expected underruns with a render slower than the callback period")
	}
	if len(res.UnderrunAt) != res.Underruns {
		t.Fatalf("underrun indexes %d, count %d", len(res.UnderrunAt), res.Underruns)
	}
	for _, c := range res.UnderrunAt {
		if c < firstChecked || c >= p.TrialLength {
			t.Fatalf("underrun at callback %d outside %d..%d", c, firstChecked, p.TrialLength-1)
		}
	}
	if obs.underruns != res.Underruns || obs.started != 1 || obs.finished != 1 {
		t.Fatalf("observer saw %d underruns, %d starts, %d finishes", obs.underruns, obs.started, obs.finished)
	}
}

func TestPulsedDelay(t *testing.T) {
	p := Params{Pulse: true, PulseBlock: 50}
	for _, tc := range []struct {
		count int
		want  int
	}{{0, 0}, {49, 0}, {50, 7}, {99, 7}, {100, 0}, {150, 7}} {
		if got := p.pulsed(7, tc.count); got != tc.want {
			t.Errorf("pulsed(7, %d) = %d, want %d", tc.count, got, tc.want)
		}
	}
	p.Pulse = false
	if got := p.pulsed(7, 0); got != 7 {
		t.Fatalf("unpulsed delay = %d, want 7", got)
	}
}

func TestLookaheadSession(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	p := testParams(30)
	p.Lookahead = 2
	res := runSession(t, sink, p)
	if res.Timestamps.RenderDone.At(p.TrialLength-1) == 0 {
		t.Fatalf("render did not reach the last trial")
	}
}

func TestSessionExclusive(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	e := NewEngine(sink, util.DiscardLogger())
	s, err := e.Begin(testParams(10))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if id, ok := e.Active(); !ok || id != s.ID() {
		t.Fatalf("Active = %q, %v", id, ok)
	}
	if _, err := e.Begin(testParams(10)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Begin err = %v, want ErrSessionActive", err)
	}
	if _, err := e.RunJitterSession(context.Background(), testParams(10)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("RunJitterSession err = %v, want ErrSessionActive", err)
	}
	if _, err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := e.Active(); ok {
		t.Fatalf("engine still active after Run")
	}
	if _, err := s.Run(); err == nil {
		t.Fatalf("expected error running a session twice")
	}
	if _, err := e.RunJitterSession(context.Background(), testParams(10)); err != nil {
		t.Fatalf("RunJitterSession after release: %v", err)
	}
}

func TestInvalidParams(t *testing.T) {
	e := NewEngine(newFakeSink(time.Millisecond), util.DiscardLogger())
	cases := []func(p *Params){
		func(p *Params) { p.SampleRate = 0 },
		func(p *Params) { p.BufferSize = MaxBufferSize + 1 },
		func(p *Params) { p.TrialLength = MaxTrialLength + 1 },
		func(p *Params) { p.TrialLength = 1 },
		func(p *Params) { p.CallbackDelay = -1 },
		func(p *Params) { p.WarmupSkip = p.TrialLength },
		func(p *Params) { p.Lookahead = -1 },
		func(p *Params) { p.RenderPriority = 100 },
	}
	for i, mutate := range cases {
		p := testParams(20)
		mutate(&p)
		if _, err := e.RunJitterSession(context.Background(), p); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("case %d: err = %v, want ErrInvalidParams", i, err)
		}
	}
}

func TestCancelledContextNotStarted(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	e := NewEngine(sink, util.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.RunJitterSession(ctx, testParams(10)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sink.opened != 0 {
		t.Fatalf("sink opened for a cancelled request")
	}
}

func TestEnqueueFailureIsDriverError(t *testing.T) {
	for _, failAt := range []int{0, 1, 12} {
		sink := newFakeSink(time.Millisecond)
		sink.failAt = failAt
		obs := &countingObserver{}
		e := NewEngine(sink, util.DiscardLogger())
		e.AddObserver(obs)
		res, err := e.RunJitterSession(context.Background(), testParams(30))
		if !errors.Is(err, ErrDriver) {
			t.Fatalf("failAt %d: err = %v, want ErrDriver", failAt, err)
		}
		if res != nil {
			t.Fatalf("failAt %d: expected nil result", failAt)
		}
		if _, ok := e.Active(); ok {
			t.Fatalf("failAt %d: engine not released", failAt)
		}
		if !errors.Is(obs.lastErr, ErrDriver) {
			t.Fatalf("failAt %d: observer err = %v", failAt, obs.lastErr)
		}
	}
}

func TestOpenFailureIsDriverError(t *testing.T) {
	sink := newFakeSink(time.Millisecond)
	sink.openErr = errors.New("no device")
	e := NewEngine(sink, util.DiscardLogger())
	if _, err := e.RunJitterSession(context.Background(), testParams(10)); !errors.Is(err, ErrDriver) {
		t.Fatalf("err = %v, want ErrDriver", err)
	}
}

func TestRecomputeSkipsWarmup(t *testing.T) {
	// A perfectly periodic schedule after a late start.
	sr, bs := 48000, 480
	period := float64(bs) / float64(sr)
	starts := make([]float64, 20)
	for i := range starts {
		starts[i] = 100 + float64(i)*period
	}
	starts[0] += 0.5
	if got := Recompute(starts, sr, bs, 1); got > 1e-6 {
		t.Fatalf("periodic jitter = %v, want ~0", got)
	}
	if got := Recompute(starts, sr, bs, 0); got < 499 || got > 501 {
		t.Fatalf("jitter including the late start = %v, want ~500ms", got)
	}
	if got := Recompute(starts, sr, bs, len(starts)); got != 0 {
		t.Fatalf("no tracked marks should give 0, got %v", got)
	}
}
