package jitter

import (
	"errors"
	"sync"
	"time"
)

// fakeSink calls the handler once per period while a buffer is queued, like
// a buffer-queue driver signalling completion of the oldest buffer.
type fakeSink struct {
	period  time.Duration
	failAt  int
	openErr error

	mu       sync.Mutex
	handler  func()
	queued   int
	enqueued []*int16
	markers  []int16
	dirty    int
	sizes    []int
	opened   int
	closed   int

	stop chan struct{}
	wg   sync.WaitGroup
}

func newFakeSink(period time.Duration) *fakeSink {
	return &fakeSink{period: period, failAt: -1}
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Open(Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) OnBufferNeeded(h func()) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeSink) Enqueue(buf []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt >= 0 && len(f.enqueued) == f.failAt {
		return errors.New("buffer queue broken")
	}
	f.enqueued = append(f.enqueued, &buf[0])
	f.markers = append(f.markers, buf[0])
	f.sizes = append(f.sizes, len(buf))
	for _, v := range buf[1:] {
		if v != 0 {
			f.dirty++
			break
		}
	}
	f.queued++
	return nil
}

func (f *fakeSink) Start() error {
	f.stop = make(chan struct{})
	f.wg.Add(1)
	go f.loop()
	return nil
}

func (f *fakeSink) loop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
		}
		f.mu.Lock()
		h := f.handler
		ok := f.queued > 0
		if ok {
			f.queued--
		}
		f.mu.Unlock()
		if ok && h != nil {
			h()
		}
	}
}

func (f *fakeSink) Stop() error {
	close(f.stop)
	f.wg.Wait()
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	started   int
	finished  int
	underruns int
	lastErr   error
}

func (c *countingObserver) SessionStarted(string, Params) {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *countingObserver) Underrun(string, int) {
	c.mu.Lock()
	c.underruns++
	c.mu.Unlock()
}

func (c *countingObserver) SessionFinished(_ string, _ *Result, err error) {
	c.mu.Lock()
	c.finished++
	c.lastErr = err
	c.mu.Unlock()
}
