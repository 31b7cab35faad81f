package jitter

import (
	"errors"
	"fmt"
)

const (
	// NumBuffers is the size of the play buffer pool.
	NumBuffers = 4
	// MaxTrialLength caps the number of callbacks in one session.
	MaxTrialLength = 10000
	// MaxBufferSize caps the frames per buffer.
	MaxBufferSize = 4096

	DefaultTrialLength    = 2000
	DefaultWarmupSkip     = 100
	DefaultPulseBlock     = 50
	DefaultRenderPriority = 1

	markerSample = 1000
	// firstChecked is the first callback that expects a rendered buffer.
	// The render goroutine is started in callback 1.
	firstChecked = 2
)

var (
	ErrSessionActive = errors.New("jitter session already active")
	ErrDriver        = errors.New("audio driver failure")
	ErrInvalidParams = errors.New("invalid jitter parameters")
)

// Params describes one jitter session. Delays are in spin units of about
// 100us. A zero TrialLength or PulseBlock takes the default; every other
// zero value is used as given, so a bare literal skips no warmup callbacks
// and leaves the render thread's scheduling class alone. Start from
// DefaultParams for the standard session.
type Params struct {
	SampleRate  int
	BufferSize  int
	TrialLength int

	CallbackDelay int
	RenderDelay   int
	// Pulse applies the delays only on odd blocks of PulseBlock callbacks.
	Pulse      bool
	PulseBlock int

	// Lookahead is the number of buffers the render goroutine may work ahead
	// of the callback.
	Lookahead int
	// WarmupSkip is the first callback index that contributes to the mark
	// jitter. Zero tracks every callback.
	WarmupSkip int
	// RenderPriority is the SCHED_FIFO priority requested for the render
	// goroutine's thread. Zero leaves the thread alone.
	RenderPriority int
}

// DefaultParams returns a 2000-callback session at the given format with no
// load.
func DefaultParams(sampleRate, bufferSize int) Params {
	return Params{
		SampleRate:     sampleRate,
		BufferSize:     bufferSize,
		TrialLength:    DefaultTrialLength,
		PulseBlock:     DefaultPulseBlock,
		WarmupSkip:     DefaultWarmupSkip,
		RenderPriority: DefaultRenderPriority,
	}
}

func (p Params) withDefaults() Params {
	if p.TrialLength == 0 {
		p.TrialLength = DefaultTrialLength
	}
	if p.PulseBlock == 0 {
		p.PulseBlock = DefaultPulseBlock
	}
	return p
}

func (p Params) validate() error {
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("%w: sample_rate must be > 0", ErrInvalidParams)
	case p.BufferSize <= 0 || p.BufferSize > MaxBufferSize:
		return fmt.Errorf("%w: buffer_size must be in 1..%d", ErrInvalidParams, MaxBufferSize)
	case p.TrialLength < 2 || p.TrialLength > MaxTrialLength:
		return fmt.Errorf("%w: trial_length must be in 2..%d", ErrInvalidParams, MaxTrialLength)
	case p.CallbackDelay < 0 || p.RenderDelay < 0:
		return fmt.Errorf("%w: delays must be >= 0", ErrInvalidParams)
	case p.PulseBlock <= 0:
		return fmt.Errorf("%w: pulse_block must be > 0", ErrInvalidParams)
	case p.Lookahead < 0 || p.Lookahead >= p.TrialLength:
		return fmt.Errorf("%w: lookahead must be in 0..trial_length-1", ErrInvalidParams)
	case p.WarmupSkip < 0 || p.WarmupSkip >= p.TrialLength:
		return fmt.Errorf("%w: warmup_skip must be in 0..trial_length-1", ErrInvalidParams)
	case p.RenderPriority < 0 || p.RenderPriority > 99:
		return fmt.Errorf("%w: render_priority must be in 0..99", ErrInvalidParams)
	}
	return nil
}

// pulsed returns delay, or zero on even pulse blocks when pulsing.
func (p Params) pulsed(delay, count int) int {
	if !p.Pulse {
		return delay
	}
	return delay * ((count / p.PulseBlock) & 1)
}
