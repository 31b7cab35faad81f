// Package sweep runs the full diagnostic: buffer-size detection followed by
// load experiments that step the callback or render delay until the driver
// visibly struggles, and the best-configuration search across sample rates.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/NodePath81/latprobe/internal/analysis"
	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/spin"
	"github.com/NodePath81/latprobe/internal/util"
)

const (
	DefaultDetectLength = 10000
	DefaultTrialLength  = 2000
	DefaultMaxDelay     = 100
	DefaultBadJitter    = 0.02
	DefaultBadRender    = 0.06
	DefaultBadLimit     = 2

	defaultSampleRate = 44100
	defaultBufferSize = 768
)

var DefaultSampleRates = []int{44100, 48000}

// Runner runs one jitter session. *jitter.Engine satisfies it.
type Runner interface {
	RunJitterSession(ctx context.Context, p jitter.Params) (*jitter.Result, error)
}

// Config controls a sweep. Zero values take the defaults.
type Config struct {
	SampleRate int
	BufferSize int
	// Confident keeps SampleRate/BufferSize instead of the detected values.
	Confident bool

	DetectLength int
	TrialLength  int
	MaxDelay     int
	BadJitter    float64
	BadRender    float64
	BadLimit     int
	Skip         int
	WarmupSkip   int
	Lookahead    int
	// RenderPriority is passed through to every session.
	RenderPriority int

	SampleRates []int
	Calibrate   bool
	Device      string
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.DetectLength == 0 {
		c.DetectLength = DefaultDetectLength
	}
	if c.TrialLength == 0 {
		c.TrialLength = DefaultTrialLength
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.BadJitter == 0 {
		c.BadJitter = DefaultBadJitter
	}
	if c.BadRender == 0 {
		c.BadRender = DefaultBadRender
	}
	if c.BadLimit == 0 {
		c.BadLimit = DefaultBadLimit
	}
	if c.Skip == 0 {
		c.Skip = analysis.DefaultSkip
	}
	if c.WarmupSkip == 0 {
		c.WarmupSkip = jitter.DefaultWarmupSkip
	}
	if len(c.SampleRates) == 0 {
		c.SampleRates = DefaultSampleRates
	}
	if c.Device == "" {
		c.Device = DeviceDescription()
	}
	return c
}

// Report is the text log of a run plus its headline numbers.
type Report struct {
	Device     string
	SampleRate int
	BufferSize int
	Lines      []string
	Content    string
	Sessions   int
	// Result is the "result:" value of a best-configuration run.
	Result string
}

// Sweep drives sessions through a Runner and writes the report log.
type Sweep struct {
	runner Runner
	cfg    Config
	log    *Log
	logger util.Logger

	sessions int
}

func New(runner Runner, cfg Config, logger util.Logger, onLine func(string)) *Sweep {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Sweep{
		runner: runner,
		cfg:    cfg.withDefaults(),
		log:    NewLog(onLine),
		logger: logger,
	}
}

func (s *Sweep) Log() *Log {
	return s.log
}

func (s *Sweep) params(sampleRate, bufferSize, length, cbDelay, renderDelay int, pulse bool) jitter.Params {
	p := jitter.DefaultParams(sampleRate, bufferSize)
	p.TrialLength = length
	p.CallbackDelay = cbDelay
	p.RenderDelay = renderDelay
	p.Pulse = pulse
	p.Lookahead = s.cfg.Lookahead
	p.RenderPriority = s.cfg.RenderPriority
	warmup := s.cfg.WarmupSkip
	if warmup >= length {
		warmup = length - 1
	}
	p.WarmupSkip = warmup
	return p
}

func (s *Sweep) session(ctx context.Context, p jitter.Params) (*jitter.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.sessions++
	return s.runner.RunJitterSession(ctx, p)
}

// detect runs a session with small buffers and estimates the native buffer
// size from its callback bursts.
func (s *Sweep) detect(ctx context.Context, sampleRate int) (int, error) {
	res, err := s.session(ctx, s.params(sampleRate, analysis.ProbeBufferSize, s.cfg.DetectLength, 0, 0, false))
	if err != nil {
		return 0, err
	}
	est, err := analysis.BufferSize(res.Timestamps.CallbackStart.Values(), analysis.ProbeBufferSize, s.cfg.Skip)
	if err != nil {
		return 0, fmt.Errorf("buffer size detection: %w", err)
	}
	s.log.Printf("buffer size estimate = %v", est.Raw)
	if est.Size <= 0 {
		return 0, fmt.Errorf("buffer size detection: estimate %v rounds to zero", est.Raw)
	}
	return est.Size, nil
}

// Run performs the full test: optional calibration, buffer-size detection and
// four load experiments (callback or render delay, steady or pulsed).
func (s *Sweep) Run(ctx context.Context) (*Report, error) {
	cfg := s.cfg
	s.log.Println(cfg.Device)
	if cfg.Calibrate {
		s.log.Println(spin.Calibrate(200, 1000).String())
	}
	s.log.Printf("audio tests based on %d samples", cfg.TrialLength)

	detected, err := s.detect(ctx, cfg.SampleRate)
	if err != nil {
		return s.report(cfg.SampleRate, cfg.BufferSize), err
	}
	s.log.Printf("detected params: sampleRate=%d bufferSize=%d", cfg.SampleRate, detected)
	sampleRate, bufferSize := cfg.SampleRate, cfg.BufferSize
	if !cfg.Confident {
		bufferSize = detected
	}
	s.logger.Info("sweep parameters", "sample_rate", sampleRate, "buffer_size", bufferSize, "confident", cfg.Confident)

	rate := 0.0
	for exp := 0; exp < 4; exp++ {
		pulsed := exp&1 != 0
		inRender := exp&2 != 0
		label := "not pulsed"
		if pulsed {
			label = "pulsed"
		}
		if inRender {
			label += " in thread"
		}
		s.log.Printf("experiment: %s", label)
		bad := 0
		for i := 0; i < cfg.MaxDelay; i++ {
			cbDelay, renderDelay := i, 0
			if inRender {
				cbDelay, renderDelay = 0, i
			}
			res, err := s.session(ctx, s.params(sampleRate, bufferSize, cfg.TrialLength, cbDelay, renderDelay, pulsed))
			if err != nil {
				return s.report(sampleRate, bufferSize), err
			}
			s.log.Printf("%.1f: %s", float64(i)*0.1, res.Text)
			jm, err := analysis.Drift(res.Timestamps.CallbackStart.Values(), cfg.Skip, rate)
			if err != nil {
				return s.report(sampleRate, bufferSize), err
			}
			s.log.Println(jm.String())
			if rate == 0 {
				rate = jm.Rate
			}
			if i == 0 && exp == 0 {
				s.log.Printf("Actual sample rate = %v", analysis.ActualSampleRate(detected, jm.Rate))
			}
			tm := analysis.Threads(res.Timestamps, cfg.Skip)
			s.log.Println(tm.String())
			if jm.Jitter > cfg.BadJitter || tm.RenderEnd > cfg.BadRender {
				bad++
			} else {
				bad = 0
			}
			if bad >= cfg.BadLimit {
				s.logger.Info("experiment stopped", "experiment", label, "delay", i)
				break
			}
		}
		s.log.Println("")
	}
	return s.report(sampleRate, bufferSize), nil
}

// Best is the outcome of BestConfig.
type Best struct {
	SampleRate int
	BufferSize int
	// Jitter is the drift jitter of the winning combination in seconds.
	Jitter float64
}

// BestConfig detects the buffer size at each candidate sample rate and picks
// the combination with the lowest drift jitter. A sample rate the driver
// rejects is logged and skipped.
func (s *Sweep) BestConfig(ctx context.Context) (*Report, *Best, error) {
	cfg := s.cfg
	s.log.Println(cfg.Device)
	var best *Best
	for _, sr := range cfg.SampleRates {
		bs, err := s.detect(ctx, sr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.report(sr, 0), nil, ctxErr
			}
			s.log.Printf("sampleRate=%d: %v", sr, err)
			s.logger.Warn("sample rate skipped", "sample_rate", sr, "error", err)
			continue
		}
		s.log.Printf("sampleRate=%d bufferSize=%d", sr, bs)
		res, err := s.session(ctx, s.params(sr, bs, cfg.TrialLength, 0, 0, false))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.report(sr, bs), nil, ctxErr
			}
			s.log.Printf("sampleRate=%d bufferSize=%d: %v", sr, bs, err)
			continue
		}
		jm, err := analysis.Drift(res.Timestamps.CallbackStart.Values(), cfg.Skip, 0)
		if err != nil {
			return s.report(sr, bs), nil, err
		}
		s.log.Println(jm.String())
		if best == nil || jm.Jitter < best.Jitter {
			best = &Best{SampleRate: sr, BufferSize: bs, Jitter: jm.Jitter}
		}
	}
	if best == nil {
		return s.report(0, 0), nil, errors.New("no sample rate produced a measurement")
	}
	s.log.Printf("result: %d %d", best.BufferSize, best.SampleRate)
	rep := s.report(best.SampleRate, best.BufferSize)
	rep.Result = fmt.Sprintf("%d %d", best.BufferSize, best.SampleRate)
	return rep, best, nil
}

func (s *Sweep) report(sampleRate, bufferSize int) *Report {
	return &Report{
		Device:     s.cfg.Device,
		SampleRate: sampleRate,
		BufferSize: bufferSize,
		Lines:      s.log.Lines(),
		Content:    s.log.String(),
		Sessions:   s.sessions,
	}
}

// FormatRate renders a sample rate the way the result screen shows it, e.g.
// "44.1kHz" or "48kHz".
func FormatRate(sr int) string {
	if sr%1000 == 0 {
		return fmt.Sprintf("%dkHz", sr/1000)
	}
	return fmt.Sprintf("%d.%dkHz", sr/1000, sr%1000/100)
}

// DeviceDescription identifies the host in the first line of a report.
func DeviceDescription() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	parts := []string{host, runtime.GOOS, runtime.GOARCH}
	if rel := kernelRelease(); rel != "" {
		parts = append(parts, rel)
	}
	parts = append(parts, fmt.Sprintf("(%s, %d cpu)", runtime.Version(), runtime.NumCPU()))
	return strings.Join(parts, " ")
}
