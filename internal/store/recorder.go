package store

import (
	"context"
	"time"

	"github.com/NodePath81/latprobe/internal/jitter"
)

// SessionRecorder persists every successful jitter session.
type SessionRecorder struct {
	store *Store
}

func NewSessionRecorder(s *Store) *SessionRecorder {
	return &SessionRecorder{store: s}
}

func (r *SessionRecorder) SessionStarted(string, jitter.Params) {}

func (r *SessionRecorder) Underrun(string, int) {}

func (r *SessionRecorder) SessionFinished(id string, res *jitter.Result, err error) {
	if err != nil || res == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := SessionRecord{
		ID:          id,
		Sink:        res.Sink,
		SampleRate:  res.Params.SampleRate,
		BufferSize:  res.Params.BufferSize,
		Length:      res.Params.TrialLength,
		CbDelay:     res.Params.CallbackDelay,
		RenderDelay: res.Params.RenderDelay,
		Pulse:       res.Params.Pulse,
		JitterMs:    res.JitterMs,
		Underruns:   res.Underruns,
		Created:     res.Finished.UTC(),
	}
	if err := r.store.SaveSession(ctx, rec); err != nil {
		r.store.logger.Warn("session not saved", "session", id, "error", err)
	}
}
