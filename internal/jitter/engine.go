// Package jitter measures how regularly an audio driver requests buffers.
//
// A session primes one buffer, starts playback and lets the driver's
// callback run TrialLength times. Each callback records its start time,
// optionally burns CPU, checks that the render goroutine produced the
// previous buffer in time and enqueues a silent buffer carrying one marker
// sample. The spread of start times around the ideal schedule implied by
// sample rate and buffer size is reported as the callback jitter.
package jitter

import (
	"context"
	"sync"

	"github.com/NodePath81/latprobe/internal/util"
	"github.com/google/uuid"
)

// Engine owns an AudioSink and runs at most one session on it at a time.
type Engine struct {
	sink   AudioSink
	logger util.Logger

	mu        sync.Mutex
	active    *Session
	observers []Observer
}

func NewEngine(sink AudioSink, logger util.Logger) *Engine {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Engine{sink: sink, logger: logger}
}

// AddObserver registers o for the events of sessions started afterwards.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

func (e *Engine) SinkName() string {
	return e.sink.Name()
}

// Active returns the id of the running session, if any.
func (e *Engine) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return "", false
	}
	return e.active.id, true
}

// Begin validates p and claims the engine for a new session. It fails with
// ErrSessionActive while another session holds the engine. The session is
// released when its Run returns.
func (e *Engine) Begin(p Params) (*Session, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, ErrSessionActive
	}
	s := newSession(e, uuid.NewString(), p)
	s.observers = append([]Observer(nil), e.observers...)
	e.active = s
	return s, nil
}

func (e *Engine) end(s *Session) {
	e.mu.Lock()
	if e.active == s {
		e.active = nil
	}
	e.mu.Unlock()
}

// RunJitterSession runs one session to completion. ctx is only checked
// before the session starts; a running session is not cancellable.
func (e *Engine) RunJitterSession(ctx context.Context, p Params) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := e.Begin(p)
	if err != nil {
		return nil, err
	}
	return s.Run()
}
