package jitter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NodePath81/latprobe/internal/monotime"
	"github.com/NodePath81/latprobe/internal/recorder"
	"github.com/NodePath81/latprobe/internal/sched"
	"github.com/NodePath81/latprobe/internal/sem"
	"github.com/NodePath81/latprobe/internal/spin"
	"github.com/NodePath81/latprobe/internal/util"
)

// Result is the outcome of one session.
type Result struct {
	SessionID string
	Sink      string
	Params    Params

	Timestamps recorder.Timestamps
	MinMark    float64
	MaxMark    float64
	JitterMs   float64

	Underruns  int
	UnderrunAt []int

	// RenderPriorityErr is set when the render thread kept its default
	// scheduling class.
	RenderPriorityErr error

	Started  time.Time
	Finished time.Time
	Text     string
}

// Session is the state of one jitter run. Fields touched by the callback are
// written only on the sink goroutine (and the driving goroutine for the
// primed first callback); render fields only on the render goroutine. The
// driving goroutine reads both after done has been posted and the render
// goroutine joined.
type Session struct {
	id        string
	engine    *Engine
	sink      AudioSink
	params    Params
	logger    util.Logger
	observers []Observer
	ran       atomic.Bool

	wake  *sem.Semaphore
	ready *sem.Semaphore
	done  *sem.Semaphore

	abortCtx context.Context
	abort    context.CancelFunc

	// callback state
	pool      [NumBuffers][]int16
	playIx    int
	count     int
	marks     markTracker
	jitterMs  float64
	underruns []int
	failed    bool
	driverErr error

	// render state
	renderWG          sync.WaitGroup
	renderPriorityErr error

	ts recorder.Timestamps
}

func newSession(e *Engine, id string, p Params) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		engine:   e,
		sink:     e.sink,
		params:   p,
		logger:   e.logger.With("session", id),
		wake:     sem.New(p.Lookahead, p.TrialLength),
		ready:    sem.New(0, p.TrialLength),
		done:     sem.New(0, 1),
		abortCtx: ctx,
		abort:    cancel,
		marks:    markTracker{skip: p.WarmupSkip},
		ts:       recorder.NewTimestamps(p.TrialLength),
	}
	for i := range s.pool {
		s.pool[i] = make([]int16, p.BufferSize)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Run drives the session to completion and releases the engine. A session
// runs once.
func (s *Session) Run() (*Result, error) {
	defer s.engine.end(s)
	if !s.ran.CompareAndSwap(false, true) {
		return nil, errors.New("jitter session already run")
	}
	for _, o := range s.observers {
		o.SessionStarted(s.id, s.params)
	}
	res, err := s.run()
	for _, o := range s.observers {
		o.SessionFinished(s.id, res, err)
	}
	return res, err
}

func (s *Session) run() (*Result, error) {
	defer s.abort()
	started := time.Now()
	p := s.params
	s.logger.Info("jitter session starting",
		"sink", s.sink.Name(),
		"sample_rate", p.SampleRate,
		"buffer_size", p.BufferSize,
		"length", p.TrialLength,
		"cb_delay", p.CallbackDelay,
		"render_delay", p.RenderDelay,
		"pulse", p.Pulse)

	if err := s.sink.Open(Format{SampleRate: p.SampleRate, BufferSize: p.BufferSize}); err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDriver, s.sink.Name(), err)
	}
	defer func() {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("sink close failed", "error", err)
		}
	}()
	s.sink.OnBufferNeeded(s.callback)
	defer s.sink.OnBufferNeeded(nil)

	s.callback()
	if !s.failed {
		if err := s.sink.Start(); err != nil {
			s.driverErr = fmt.Errorf("start: %w", err)
		} else {
			s.done.Wait()
			s.renderWG.Wait()
			if err := s.sink.Stop(); err != nil {
				s.logger.Warn("sink stop failed", "error", err)
			}
		}
	}
	s.abort()
	s.renderWG.Wait()

	if s.driverErr != nil {
		s.logger.Error("jitter session failed", "error", s.driverErr)
		return nil, fmt.Errorf("%w: %s: %v", ErrDriver, s.sink.Name(), s.driverErr)
	}

	res := &Result{
		SessionID:         s.id,
		Sink:              s.sink.Name(),
		Params:            p,
		Timestamps:        s.ts,
		MinMark:           s.marks.min,
		MaxMark:           s.marks.max,
		JitterMs:          s.jitterMs,
		Underruns:         len(s.underruns),
		UnderrunAt:        s.underruns,
		RenderPriorityErr: s.renderPriorityErr,
		Started:           started,
		Finished:          time.Now(),
	}
	res.Text = fmt.Sprintf("%s callback jitter = %.3fms", res.Sink, res.JitterMs)
	if res.Underruns > 0 {
		s.logger.Warn("render underruns", "count", res.Underruns)
	}
	s.logger.Info("jitter session complete", "jitter_ms", res.JitterMs, "underruns", res.Underruns)
	return res, nil
}

func (s *Session) callback() {
	if s.failed {
		return
	}
	p := &s.params
	length := p.TrialLength
	count := s.count
	if count >= length {
		// Keep the driver fed until the driving goroutine stops it.
		if err := s.enqueueNext(); err != nil {
			s.logger.Debug("enqueue after completion failed", "error", err)
		}
		return
	}

	if count == 1 {
		s.renderWG.Add(1)
		go s.render()
	}

	delay := p.pulsed(p.CallbackDelay, count)
	start := monotime.Now().Seconds()
	s.ts.CallbackStart.Set(count, start)
	spin.Units(delay)
	s.ts.CallbackDone.Set(count, monotime.Now().Seconds())
	s.marks.observe(count, Mark(start, count, p.SampleRate, p.BufferSize))
	if count == length-1 && s.marks.seen {
		s.jitterMs = JitterMs(s.marks.min, s.marks.max, p.SampleRate, p.BufferSize)
		s.logger.Info("mark jitter",
			"marks", s.marks.max-s.marks.min,
			"ms", s.jitterMs)
	}

	if count >= firstChecked && !s.ready.TryWait() {
		s.underrun(count)
	}

	if err := s.enqueueNext(); err != nil {
		s.fail(err)
		return
	}

	if count >= 1 && count < length-p.Lookahead {
		s.wake.Post()
	}
	s.count++
	if s.count == length {
		s.done.Post()
	}
}

func (s *Session) enqueueNext() error {
	buf := s.pool[s.playIx]
	clear(buf)
	buf[0] = markerSample
	if err := s.sink.Enqueue(buf); err != nil {
		return err
	}
	s.playIx = (s.playIx + 1) % NumBuffers
	return nil
}

func (s *Session) underrun(count int) {
	s.underruns = append(s.underruns, count)
	s.logger.Debug("underrun", "count", count)
	for _, o := range s.observers {
		o.Underrun(s.id, count)
	}
}

func (s *Session) fail(err error) {
	s.failed = true
	s.driverErr = fmt.Errorf("enqueue at callback %d: %w", s.count, err)
	s.abort()
	s.done.Post()
}

func (s *Session) render() {
	defer s.renderWG.Done()
	// Left locked so a thread with a changed policy is discarded on exit.
	runtime.LockOSThread()

	p := &s.params
	if p.RenderPriority > 0 {
		if err := sched.SetFIFO(p.RenderPriority); err != nil {
			s.renderPriorityErr = err
			s.logger.Warn("render thread priority not raised", "priority", p.RenderPriority, "error", err)
		}
	}
	for i := 1; i < p.TrialLength; i++ {
		if err := s.wake.WaitContext(s.abortCtx); err != nil {
			return
		}
		s.ts.RenderWake.Set(i, monotime.Now().Seconds())
		spin.Units(p.pulsed(p.RenderDelay, i))
		s.ts.RenderDone.Set(i, monotime.Now().Seconds())
		s.ready.Post()
	}
	s.logger.Debug("render thread complete")
}
