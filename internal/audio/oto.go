//go:build oto

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/util"
	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process, fixed to the first sample rate.
var (
	otoMu   sync.Mutex
	otoCtx  *oto.Context
	otoRate int
)

func otoContext(f jitter.Format) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if otoRate != f.SampleRate {
			return nil, fmt.Errorf("oto context fixed at %d Hz, requested %d Hz", otoRate, f.SampleRate)
		}
		return otoCtx, nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(float64(time.Second) * float64(f.BufferSize) / float64(f.SampleRate)),
	})
	if err != nil {
		return nil, err
	}
	<-ready
	otoCtx = ctx
	otoRate = f.SampleRate
	return ctx, nil
}

// OtoSink plays the probe's buffers through the system audio device. The
// player pulls bytes through Read; each time a queued buffer has been fully
// consumed the handler is asked for the next one. An empty queue plays
// silence.
type OtoSink struct {
	logger util.Logger

	mu     sync.Mutex
	player *oto.Player
	format jitter.Format

	// cbMu is held while the handler runs so Stop can wait it out.
	cbMu    sync.Mutex
	handler func()
	stopped bool

	// ring holds every queued buffer plus the one Read is draining.
	queue   chan []byte
	ring    [jitter.NumBuffers + 1][]byte
	ringIx  int
	pending []byte
}

func newOtoSink(logger util.Logger) (jitter.AudioSink, error) {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &OtoSink{logger: logger, stopped: true}, nil
}

func (s *OtoSink) Name() string {
	return BackendOto
}

func (s *OtoSink) Open(f jitter.Format) error {
	if err := checkFormat(f); err != nil {
		return err
	}
	ctx, err := otoContext(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		return fmt.Errorf("oto sink already open")
	}
	s.format = f
	s.queue = make(chan []byte, jitter.NumBuffers)
	for i := range s.ring {
		s.ring[i] = make([]byte, 2*f.BufferSize)
	}
	s.ringIx = 0
	s.pending = nil
	s.player = ctx.NewPlayer(s)
	s.player.SetBufferSize(2 * f.BufferSize)
	return nil
}

func (s *OtoSink) OnBufferNeeded(handler func()) {
	s.cbMu.Lock()
	s.handler = handler
	s.cbMu.Unlock()
}

// Enqueue is called from the handler, or before Start for the primed
// buffer, so the ring has a single writer.
func (s *OtoSink) Enqueue(buf []int16) error {
	if s.queue == nil {
		return ErrNotOpen
	}
	if len(buf) != s.format.BufferSize {
		return fmt.Errorf("enqueue: got %d frames, want %d", len(buf), s.format.BufferSize)
	}
	// Only Read drains the queue, so a slot free here stays free.
	if len(s.queue) == cap(s.queue) {
		return ErrQueueFull
	}
	b := s.ring[s.ringIx]
	for i, v := range buf {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	s.queue <- b
	s.ringIx = (s.ringIx + 1) % len(s.ring)
	return nil
}

// Read implements io.Reader for the oto player.
func (s *OtoSink) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(s.pending) == 0 {
			select {
			case b := <-s.queue:
				s.pending = b
			default:
				clear(p[n:])
				return len(p), nil
			}
		}
		c := copy(p[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
		if len(s.pending) == 0 {
			s.bufferDone()
		}
	}
	return n, nil
}

func (s *OtoSink) bufferDone() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.stopped || s.handler == nil {
		return
	}
	s.handler()
}

func (s *OtoSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return ErrNotOpen
	}
	s.cbMu.Lock()
	s.stopped = false
	s.cbMu.Unlock()
	s.player.Play()
	return nil
}

func (s *OtoSink) Stop() error {
	s.cbMu.Lock()
	s.stopped = true
	s.cbMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.Pause()
	}
	return nil
}

func (s *OtoSink) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	s.queue = nil
	s.pending = nil
	return err
}
