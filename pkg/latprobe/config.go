package latprobe

import "time"

const (
	// DefaultBackend is the audio backend used when none is given.
	DefaultBackend = "simulated"
	// DefaultSampleRate is the sample rate in Hz.
	DefaultSampleRate = 44100
	// DefaultBufferSize is the number of frames per buffer.
	DefaultBufferSize = 768
	// DefaultTrialLength is the number of callbacks per session.
	DefaultTrialLength = 2000
	// DefaultWarmupSkip is the number of start-up callbacks excluded from the
	// jitter.
	DefaultWarmupSkip = 100
	// DefaultRenderPriority is the SCHED_FIFO priority of the render thread.
	DefaultRenderPriority = 1
	// DefaultWakeTrials is the number of sleeps in a wake probe.
	DefaultWakeTrials = 100
	// DefaultWakePeriod is the spacing of consecutive wake deadlines.
	DefaultWakePeriod = 10 * time.Millisecond
)

// JitterConfig defines one jitter session.
type JitterConfig struct {
	// Backend selects the audio sink ("simulated" or "oto").
	Backend string
	// SampleRate is the stream sample rate in Hz.
	SampleRate int
	// BufferSize is the number of frames per buffer.
	BufferSize int
	// TrialLength is the number of callbacks to record.
	TrialLength int
	// CallbackDelay is the CPU load burned in each callback, in units of
	// about 100us.
	CallbackDelay int
	// RenderDelay is the CPU load burned by the render thread per buffer.
	RenderDelay int
	// Pulse applies the delays only on alternate blocks of PulseBlock
	// callbacks.
	Pulse      bool
	PulseBlock int
	// Lookahead is how many buffers the render thread may run ahead.
	Lookahead int
	// WarmupSkip excludes the first callbacks from the jitter (0 = default,
	// clamped below TrialLength).
	WarmupSkip int
	// RenderPriority is the SCHED_FIFO priority requested for the render
	// thread (0 = default).
	RenderPriority int
	// SkipPriority leaves the render thread at its normal priority.
	SkipPriority bool
}

// WakeConfig defines a wake-latency probe.
type WakeConfig struct {
	// Trials is the number of absolute sleeps.
	Trials int
	// Period is the spacing of the sleep deadlines.
	Period time.Duration
	// SkipPriority runs both threads at their inherited priority instead of
	// nice -19 and -16.
	SkipPriority bool
}
