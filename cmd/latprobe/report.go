package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/latprobe/internal/app"
	"github.com/NodePath81/latprobe/internal/config"
	"github.com/NodePath81/latprobe/internal/sweep"
	"github.com/NodePath81/latprobe/internal/upload"
	"github.com/NodePath81/latprobe/internal/util"
)

func runSweep(args []string) error {
	fs, o := newFlagSet("sweep", "full load sweep")
	o.audioFlags()
	o.uploadFlags()
	fs.IntVarP(&o.trialLength, "trial-length", "l", 0, "Callbacks per experiment step")
	confident := fs.Bool("confident", false, "Keep --buffer-size instead of the detected size")
	calibrate := fs.Bool("calibrate", false, "Add a spin calibration line to the report")
	maxDelay := fs.Int("max-delay", 0, "Delay steps per experiment")
	if err := o.parse(args); err != nil {
		return err
	}
	cfg, err := o.load(func(c *config.Config) {
		if fs.Changed("trial-length") {
			c.Sweep.TrialLength = o.trialLength
		}
		if fs.Changed("confident") {
			c.Sweep.Confident = *confident
		}
		if fs.Changed("calibrate") {
			c.Sweep.Calibrate = *calibrate
		}
		if fs.Changed("max-delay") {
			c.Sweep.MaxDelay = *maxDelay
		}
	})
	if err != nil {
		return err
	}
	return runReport(cfg, "sweep", func(ctx context.Context, s *sweep.Sweep) (*sweep.Report, error) {
		return s.Run(ctx)
	})
}

func runBest(args []string) error {
	fs, o := newFlagSet("best", "best sample rate and buffer size")
	o.audioFlags()
	o.uploadFlags()
	fs.IntVarP(&o.trialLength, "trial-length", "l", 0, "Callbacks per measured session")
	rates := fs.IntSlice("sample-rates", nil, "Candidate sample rates")
	if err := o.parse(args); err != nil {
		return err
	}
	cfg, err := o.load(func(c *config.Config) {
		if fs.Changed("trial-length") {
			c.Sweep.TrialLength = o.trialLength
		}
		if fs.Changed("sample-rates") {
			c.Sweep.SampleRates = *rates
		}
	})
	if err != nil {
		return err
	}
	return runReport(cfg, "best", func(ctx context.Context, s *sweep.Sweep) (*sweep.Report, error) {
		rep, best, err := s.BestConfig(ctx)
		if err != nil {
			return rep, err
		}
		fmt.Printf("best: %s, %d frames (%s)\n", sweep.FormatRate(best.SampleRate), best.BufferSize,
			util.FormatSeconds(best.Jitter))
		return rep, nil
	})
}

// runReport drives a sweep, printing its log as it is written, and uploads the
// report when a results server is configured.
func runReport(cfg config.Config, label string, run func(context.Context, *sweep.Sweep) (*sweep.Report, error)) error {
	logger := util.NewLogger(cfg.Log.Level)
	engine, err := app.NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	progress := newProgress(os.Stderr, os.Stdout, label)
	engine.AddObserver(progress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := sweep.New(engine, app.SweepConfig(cfg), logger, progress.Println)
	rep, err := run(ctx, s)
	progress.done()
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	logger.Info("report complete", "sessions", rep.Sessions, "sample_rate", rep.SampleRate, "buffer_size", rep.BufferSize)

	if cfg.Upload.URL == "" {
		return nil
	}
	client := upload.NewClient(cfg.Upload.URL, cfg.Upload.Timeout.Duration())
	reply, err := client.Post(ctx, rep.Content)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded to %s: %s\n", cfg.Upload.URL, reply)
	return nil
}
