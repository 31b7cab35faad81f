package latprobe

import (
	"errors"

	"github.com/NodePath81/latprobe/internal/jitter"
)

var (
	// ErrSessionActive indicates another session holds the backend.
	ErrSessionActive = jitter.ErrSessionActive
	// ErrDriver wraps failures reported by the audio driver.
	ErrDriver = jitter.ErrDriver
	// ErrInvalidConfig indicates a session parameter out of range.
	ErrInvalidConfig = jitter.ErrInvalidParams
	// ErrUnknownBackend indicates a backend name that is not recognised.
	ErrUnknownBackend = errors.New("unknown audio backend")
)
