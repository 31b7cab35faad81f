package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/NodePath81/latprobe/internal/config"
)

// options holds the flags shared by the subcommands. Only flags the user set
// override the config file.
type options struct {
	fs *flag.FlagSet

	configPath string
	logLevel   string

	backend        string
	sampleRate     int
	bufferSize     int
	trialLength    int
	warmupSkip     int
	lookahead      int
	renderPriority int

	uploadURL string
}

func newFlagSet(name, summary string) (*flag.FlagSet, *options) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.SortFlags = false
	o := &options{fs: fs}
	fs.StringVarP(&o.configPath, "config", "c", "", "Path to config file (defaults when empty)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "latprobe %s - %s\n\n", name, summary)
		fmt.Fprintf(os.Stderr, "Usage: latprobe %s [flags]\n\n", name)
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}
	return fs, o
}

func (o *options) audioFlags() {
	o.fs.StringVarP(&o.backend, "backend", "b", "", "Audio backend: simulated, oto")
	o.fs.IntVarP(&o.sampleRate, "sample-rate", "r", 0, "Sample rate in Hz")
	o.fs.IntVarP(&o.bufferSize, "buffer-size", "n", 0, "Frames per buffer")
	o.fs.IntVar(&o.lookahead, "lookahead", 0, "Buffers the render thread may run ahead")
	o.fs.IntVar(&o.warmupSkip, "warmup-skip", 0, "Start-up callbacks excluded from the jitter")
	o.fs.IntVar(&o.renderPriority, "render-priority", 0, "SCHED_FIFO priority of the render thread (0 = none)")
}

func (o *options) uploadFlags() {
	o.fs.StringVarP(&o.uploadURL, "upload", "u", "", "Results server to post the report to")
}

func (o *options) parse(args []string) error {
	if err := o.fs.Parse(args); err != nil {
		return err
	}
	if o.configPath == "" && o.fs.NArg() > 0 {
		o.configPath = o.fs.Arg(0)
	}
	return nil
}

// load reads the config file, applies the flags that were set and finalizes
// the result. mutate applies command-specific overrides.
func (o *options) load(mutate func(*config.Config)) (config.Config, error) {
	cfg, err := config.ReadConfig(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if o.changed("backend") {
		cfg.Audio.Backend = o.backend
	}
	if o.changed("sample-rate") {
		cfg.Audio.SampleRate = o.sampleRate
	}
	if o.changed("buffer-size") {
		cfg.Audio.BufferSize = o.bufferSize
	}
	if o.changed("trial-length") {
		cfg.Jitter.TrialLength = o.trialLength
		if !o.changed("warmup-skip") {
			cfg.Jitter.WarmupSkip = 0
		}
	}
	if o.changed("warmup-skip") {
		cfg.Jitter.WarmupSkip = o.warmupSkip
	}
	if o.changed("lookahead") {
		cfg.Jitter.Lookahead = o.lookahead
	}
	if o.changed("render-priority") {
		prio := o.renderPriority
		cfg.Jitter.RenderPriority = &prio
	}
	if o.changed("upload") {
		cfg.Upload.URL = o.uploadURL
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Finalize(); err != nil {
		return config.Config{}, fmt.Errorf("config invalid: %w", err)
	}
	return cfg, nil
}

func (o *options) changed(name string) bool {
	return o.fs.Lookup(name) != nil && o.fs.Changed(name)
}
