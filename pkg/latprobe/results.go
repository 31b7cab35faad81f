package latprobe

import "time"

// JitterResults contains the outcome of a jitter session.
type JitterResults struct {
	// SessionID identifies the session in logs and stores.
	SessionID string
	// Backend is the name of the sink that played the session.
	Backend string
	// SampleRate and BufferSize echo the stream format.
	SampleRate int
	BufferSize int
	// Callbacks is the number of callbacks recorded.
	Callbacks int
	// Jitter is the spread of callback start marks around the ideal schedule.
	Jitter time.Duration
	// JitterMs is Jitter in milliseconds as printed in reports.
	JitterMs float64
	// Underruns counts callbacks that found the render thread behind.
	Underruns int
	// PriorityError is set when the render thread kept its normal priority.
	PriorityError error
	// CallbackStarts holds the start time of every callback in seconds.
	CallbackStarts []float64
	// Duration is the wall-clock duration of the session.
	Duration time.Duration
	// Text is the one-line summary, e.g. "simulated callback jitter = 1.234ms".
	Text string
}

// WakeResults contains the outcome of a wake-latency probe.
type WakeResults struct {
	// Completed is false when the producer priority could not be raised; only
	// Text and PriorityError are meaningful then.
	Completed bool
	// Trials is the number of sleeps performed.
	Trials int
	// MaxOvershoot is the largest wake time past its deadline.
	MaxOvershoot time.Duration
	// MaxIndex is the trial that produced MaxOvershoot.
	MaxIndex int
	// MeanOvershoot is the average wake time past the deadline.
	MeanOvershoot time.Duration
	// MaxHandoff is the largest delay between a post and the consumer waking.
	MaxHandoff time.Duration
	// PriorityError reports a failed producer priority change.
	PriorityError error
	// ConsumerPriorityError reports a failed consumer priority change.
	ConsumerPriorityError error
	// Text is the one-line summary.
	Text string
}
