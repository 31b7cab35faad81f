package latprobe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NodePath81/latprobe/internal/audio"
	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/util"
	"github.com/NodePath81/latprobe/internal/wakeprobe"
)

var (
	enginesMu sync.Mutex
	engines   = map[string]*jitter.Engine{}
)

// engineFor returns the process-wide engine of a backend. Audio drivers
// allow one player context per process, so engines are shared.
func engineFor(backend string) (*jitter.Engine, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" {
		name = DefaultBackend
	}
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if e, ok := engines[name]; ok {
		return e, nil
	}
	switch name {
	case audio.BackendSimulated, audio.BackendOto:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	sink, err := audio.New(name, util.DiscardLogger())
	if err != nil {
		return nil, err
	}
	e := jitter.NewEngine(sink, util.DiscardLogger())
	engines[name] = e
	return e, nil
}

func jitterParams(cfg JitterConfig) jitter.Params {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	p := jitter.DefaultParams(cfg.SampleRate, cfg.BufferSize)
	if cfg.TrialLength != 0 {
		p.TrialLength = cfg.TrialLength
	}
	p.CallbackDelay = cfg.CallbackDelay
	p.RenderDelay = cfg.RenderDelay
	p.Pulse = cfg.Pulse
	if cfg.PulseBlock != 0 {
		p.PulseBlock = cfg.PulseBlock
	}
	p.Lookahead = cfg.Lookahead
	if cfg.WarmupSkip != 0 {
		p.WarmupSkip = cfg.WarmupSkip
	} else if p.WarmupSkip >= p.TrialLength {
		p.WarmupSkip = p.TrialLength - 1
	}
	if cfg.RenderPriority != 0 {
		p.RenderPriority = cfg.RenderPriority
	}
	if cfg.SkipPriority {
		p.RenderPriority = 0
	}
	return p
}

// RunJitterSession plays one session and measures its callback jitter. ctx is
// only checked before the session starts; a running session always runs to
// completion.
func RunJitterSession(ctx context.Context, cfg JitterConfig) (*JitterResults, error) {
	engine, err := engineFor(cfg.Backend)
	if err != nil {
		return nil, err
	}
	res, err := engine.RunJitterSession(ctx, jitterParams(cfg))
	if err != nil {
		return nil, err
	}
	return jitterResults(res), nil
}

func jitterResults(res *jitter.Result) *JitterResults {
	out := &JitterResults{
		SessionID:     res.SessionID,
		Backend:       res.Sink,
		SampleRate:    res.Params.SampleRate,
		BufferSize:    res.Params.BufferSize,
		Callbacks:     res.Timestamps.Len(),
		Jitter:        time.Duration(res.JitterMs * float64(time.Millisecond)),
		JitterMs:      res.JitterMs,
		Underruns:     res.Underruns,
		PriorityError: res.RenderPriorityErr,
		Duration:      res.Finished.Sub(res.Started),
		Text:          res.Text,
	}
	if res.Timestamps.CallbackStart != nil {
		out.CallbackStarts = append([]float64(nil), res.Timestamps.CallbackStart.Values()...)
	}
	return out
}

// RunWakeLatencyProbe runs the wake probe and blocks until both of its
// threads have finished.
func RunWakeLatencyProbe(cfg WakeConfig) WakeResults {
	wc := wakeprobe.DefaultConfig()
	if cfg.Trials > 0 {
		wc.Trials = cfg.Trials
	}
	if cfg.Period > 0 {
		wc.Period = cfg.Period
	}
	wc.SkipPriority = cfg.SkipPriority
	res := wakeprobe.Run(wc, util.DiscardLogger())
	return WakeResults{
		Completed:             res.Completed,
		Trials:                wc.Trials,
		MaxOvershoot:          time.Duration(res.MaxOvershootNs),
		MaxIndex:              res.MaxIndex,
		MeanOvershoot:         time.Duration(res.MeanOvershootNs),
		MaxHandoff:            time.Duration(res.MaxHandoff * float64(time.Second)),
		PriorityError:         res.PriorityErr,
		ConsumerPriorityError: res.ConsumerPriorityErr,
		Text:                  res.Text,
	}
}
