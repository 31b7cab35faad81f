package jitter

// Format is the stream format a sink is opened with.
type Format struct {
	SampleRate int
	BufferSize int
}

// AudioSink is a buffer-queue audio output. The sink invokes the registered
// handler on its own goroutine each time it needs another buffer, and the
// handler enqueues exactly one buffer of BufferSize samples before returning.
type AudioSink interface {
	Name() string
	// Open prepares the driver for one session.
	Open(f Format) error
	OnBufferNeeded(handler func())
	// Enqueue hands a buffer to the driver. The sink must not retain buf
	// after the handler that enqueued it has been called NumBuffers-1 more
	// times.
	Enqueue(buf []int16) error
	Start() error
	// Stop halts playback. No handler invocation is in flight once Stop
	// returns.
	Stop() error
	Close() error
}

// Observer receives session events. Underrun is called on the sink's
// goroutine and must not block.
type Observer interface {
	SessionStarted(id string, p Params)
	Underrun(id string, count int)
	SessionFinished(id string, res *Result, err error)
}
