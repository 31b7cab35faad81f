package app

import (
	"github.com/NodePath81/latprobe/internal/audio"
	"github.com/NodePath81/latprobe/internal/config"
	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/sweep"
	"github.com/NodePath81/latprobe/internal/util"
	"github.com/NodePath81/latprobe/internal/wakeprobe"
)

// JitterParams maps the audio and jitter sections onto session parameters.
func JitterParams(cfg config.Config) jitter.Params {
	p := jitter.DefaultParams(cfg.Audio.SampleRate, cfg.Audio.BufferSize)
	p.TrialLength = cfg.Jitter.TrialLength
	p.CallbackDelay = cfg.Jitter.CallbackDelay
	p.RenderDelay = cfg.Jitter.RenderDelay
	p.Pulse = cfg.Jitter.Pulse
	p.PulseBlock = cfg.Jitter.PulseBlock
	p.Lookahead = cfg.Jitter.Lookahead
	p.WarmupSkip = cfg.Jitter.WarmupSkip
	p.RenderPriority = util.IntValue(cfg.Jitter.RenderPriority, p.RenderPriority)
	return p
}

func WakeConfig(cfg config.Config) wakeprobe.Config {
	wc := wakeprobe.DefaultConfig()
	wc.Trials = cfg.Wake.Trials
	wc.Period = cfg.Wake.Period.Duration()
	wc.ProducerNice = util.IntValue(cfg.Wake.ProducerNice, wc.ProducerNice)
	wc.ConsumerNice = util.IntValue(cfg.Wake.ConsumerNice, wc.ConsumerNice)
	wc.SkipPriority = cfg.Wake.SkipPriority
	return wc
}

func SweepConfig(cfg config.Config) sweep.Config {
	sc := sweep.Config{
		SampleRate:   cfg.Audio.SampleRate,
		BufferSize:   cfg.Audio.BufferSize,
		Confident:    cfg.Sweep.Confident,
		DetectLength: cfg.Sweep.DetectLength,
		TrialLength:  cfg.Sweep.TrialLength,
		MaxDelay:     cfg.Sweep.MaxDelay,
		BadJitter:    cfg.Sweep.BadJitter,
		BadRender:    cfg.Sweep.BadRender,
		BadLimit:     cfg.Sweep.BadLimit,
		WarmupSkip:   cfg.Jitter.WarmupSkip,
		Lookahead:    cfg.Jitter.Lookahead,
		SampleRates:  append([]int(nil), cfg.Sweep.SampleRates...),
		Calibrate:    cfg.Sweep.Calibrate,
	}
	sc.RenderPriority = util.IntValue(cfg.Jitter.RenderPriority, jitter.DefaultRenderPriority)
	return sc
}

// NewEngine opens the configured audio backend and wraps it in an engine.
func NewEngine(cfg config.Config, logger util.Logger) (*jitter.Engine, error) {
	sink, err := audio.New(cfg.Audio.Backend, logger)
	if err != nil {
		return nil, err
	}
	return jitter.NewEngine(sink, logger), nil
}
