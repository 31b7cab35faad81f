package audio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/monotime"
	"github.com/NodePath81/latprobe/internal/util"
)

// ErrInjectedFault is returned by Enqueue once the configured fault point is
// reached.
var ErrInjectedFault = errors.New("injected enqueue fault")

// SimulatedSink is a clock-driven buffer queue. Every buffer period it
// retires the oldest queued buffer and asks for another, the way a hardware
// queue signals buffer completion. It produces no sound.
type SimulatedSink struct {
	logger util.Logger

	mu        sync.Mutex
	format    jitter.Format
	period    time.Duration
	open      bool
	running   bool
	handler   func()
	queued    int
	failAfter int
	stats     SinkStats

	stop chan struct{}
	wg   sync.WaitGroup
}

// SinkStats counts driver-side events since Open.
type SinkStats struct {
	Enqueued  int
	Callbacks int
	// Starved counts periods in which the queue was empty.
	Starved int
}

func NewSimulatedSink(logger util.Logger) *SimulatedSink {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &SimulatedSink{logger: logger, failAfter: -1}
}

func (s *SimulatedSink) Name() string {
	return BackendSimulated
}

// FailAfter makes Enqueue fail once n buffers have been accepted. A negative
// n disables the fault.
func (s *SimulatedSink) FailAfter(n int) {
	s.mu.Lock()
	s.failAfter = n
	s.mu.Unlock()
}

func (s *SimulatedSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Period is the buffer period for the open format.
func (s *SimulatedSink) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

func (s *SimulatedSink) Open(f jitter.Format) error {
	if err := checkFormat(f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return errors.New("simulated sink already open")
	}
	s.format = f
	s.period = time.Duration(float64(time.Second) * float64(f.BufferSize) / float64(f.SampleRate))
	s.open = true
	s.queued = 0
	s.stats = SinkStats{}
	s.logger.Debug("simulated sink open", "sample_rate", f.SampleRate, "buffer_size", f.BufferSize, "period", s.period)
	return nil
}

func (s *SimulatedSink) OnBufferNeeded(handler func()) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func (s *SimulatedSink) Enqueue(buf []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if len(buf) != s.format.BufferSize {
		return fmt.Errorf("enqueue: got %d frames, want %d", len(buf), s.format.BufferSize)
	}
	if s.failAfter >= 0 && s.stats.Enqueued >= s.failAfter {
		return ErrInjectedFault
	}
	if s.queued >= jitter.NumBuffers {
		return ErrQueueFull
	}
	s.queued++
	s.stats.Enqueued++
	return nil
}

func (s *SimulatedSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if s.running {
		return errors.New("simulated sink already running")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stop, s.period)
	return nil
}

func (s *SimulatedSink) run(stop <-chan struct{}, period time.Duration) {
	defer s.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	deadline := monotime.Now()
	for {
		deadline = deadline.Bump(int64(period))
		monotime.SleepUntil(deadline)
		select {
		case <-stop:
			return
		default:
		}
		s.mu.Lock()
		h := s.handler
		ok := s.queued > 0
		if ok {
			s.queued--
			s.stats.Callbacks++
		} else {
			s.stats.Starved++
		}
		s.mu.Unlock()
		if ok && h != nil {
			h()
		}
	}
}

func (s *SimulatedSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *SimulatedSink) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.queued = 0
	return nil
}
