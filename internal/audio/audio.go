// Package audio provides AudioSink implementations for the jitter probe.
package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/util"
)

const (
	BackendSimulated = "simulated"
	BackendOto       = "oto"
)

var (
	ErrBackendUnavailable = errors.New("audio backend not compiled in")
	ErrNotOpen            = errors.New("audio sink not open")
	ErrQueueFull          = errors.New("audio buffer queue full")
)

// New builds the sink for the named backend.
func New(backend string, logger util.Logger) (jitter.AudioSink, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSimulated:
		return NewSimulatedSink(logger), nil
	case BackendOto:
		return newOtoSink(logger)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}

func checkFormat(f jitter.Format) error {
	if f.SampleRate <= 0 || f.BufferSize <= 0 {
		return fmt.Errorf("invalid format %d Hz / %d frames", f.SampleRate, f.BufferSize)
	}
	return nil
}
