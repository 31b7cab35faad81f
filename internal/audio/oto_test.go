//go:build oto

package audio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/NodePath81/latprobe/internal/jitter"
)

// queuedOtoSink returns a sink with its queue set up but no device opened.
func queuedOtoSink(frames int) *OtoSink {
	s := &OtoSink{stopped: true}
	s.format = jitter.Format{SampleRate: 48000, BufferSize: frames}
	s.queue = make(chan []byte, jitter.NumBuffers)
	for i := range s.ring {
		s.ring[i] = make([]byte, 2*frames)
	}
	return s
}

func TestOtoEnqueueFullLeavesRingIntact(t *testing.T) {
	s := queuedOtoSink(8)
	for i := 0; i < jitter.NumBuffers; i++ {
		buf := make([]int16, 8)
		buf[0] = int16(i + 1)
		if err := s.Enqueue(buf); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	var before [jitter.NumBuffers + 1][]byte
	for i, b := range s.ring {
		before[i] = bytes.Clone(b)
	}
	ix := s.ringIx

	full := make([]int16, 8)
	for i := range full {
		full[i] = -1
	}
	if err := s.Enqueue(full); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if s.ringIx != ix {
		t.Fatalf("ring index moved from %d to %d", ix, s.ringIx)
	}
	for i, b := range s.ring {
		if !bytes.Equal(b, before[i]) {
			t.Fatalf("ring slot %d overwritten by a rejected buffer", i)
		}
	}
}

func TestOtoRingCoversDrainingBuffer(t *testing.T) {
	s := queuedOtoSink(4)
	for i := 0; i < jitter.NumBuffers; i++ {
		if err := s.Enqueue(make([]int16, 4)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	// Take the oldest buffer as Read does, leaving it half drained.
	s.pending = (<-s.queue)[2:]
	next := []int16{7, 7, 7, 7}
	if err := s.Enqueue(next); err != nil {
		t.Fatalf("enqueue after drain: %v", err)
	}
	if s.pending[0] != 0 || s.pending[1] != 0 {
		t.Fatalf("draining buffer overwritten: %v", s.pending)
	}
}
