package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/NodePath81/latprobe/internal/analysis"
	"github.com/NodePath81/latprobe/internal/app"
	"github.com/NodePath81/latprobe/internal/config"
	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/recorder"
	"github.com/NodePath81/latprobe/internal/spin"
	"github.com/NodePath81/latprobe/internal/util"
	"github.com/NodePath81/latprobe/internal/wakeprobe"
)

func runWake(args []string) error {
	fs, o := newFlagSet("wake", "absolute-sleep overshoot and thread handoff")
	trials := fs.IntP("trials", "t", 0, "Number of sleeps")
	period := fs.DurationP("period", "p", 0, "Spacing of the sleep deadlines")
	skip := fs.Bool("skip-priority", false, "Run both threads at their inherited priority")
	if err := o.parse(args); err != nil {
		return err
	}
	cfg, err := o.load(func(c *config.Config) {
		if fs.Changed("trials") {
			c.Wake.Trials = *trials
		}
		if fs.Changed("period") {
			c.Wake.Period = config.Duration(*period)
		}
		if fs.Changed("skip-priority") {
			c.Wake.SkipPriority = *skip
		}
	})
	if err != nil {
		return err
	}
	logger := util.NewLogger(cfg.Log.Level)

	res := wakeprobe.Run(app.WakeConfig(cfg), logger)
	fmt.Println(res.Text)
	if !res.Completed {
		return fmt.Errorf("wake probe aborted: %w", res.PriorityErr)
	}
	if res.ConsumerPriorityErr != nil {
		fmt.Fprintf(os.Stderr, "warning: consumer priority not raised: %v\n", res.ConsumerPriorityErr)
	}
	fmt.Printf("max overshoot %s at trial %d, mean %s, max handoff %s\n",
		util.FormatNanos(res.MaxOvershootNs), res.MaxIndex,
		util.FormatNanos(res.MeanOvershootNs), util.FormatSeconds(res.MaxHandoff))
	return nil
}

func runJitter(args []string) error {
	fs, o := newFlagSet("jitter", "one audio callback jitter session")
	o.audioFlags()
	fs.IntVarP(&o.trialLength, "trial-length", "l", 0, "Number of callbacks to record")
	cbDelay := fs.Int("callback-delay", 0, "Spin load per callback, in units of about 100us")
	renderDelay := fs.Int("render-delay", 0, "Spin load per rendered buffer")
	pulse := fs.Bool("pulse", false, "Apply the load only on alternate blocks of callbacks")
	dump := fs.String("dump", "", "Write the recorded timestamps as CSV to this file (- for stdout)")
	if err := o.parse(args); err != nil {
		return err
	}
	cfg, err := o.load(func(c *config.Config) {
		if fs.Changed("callback-delay") {
			c.Jitter.CallbackDelay = *cbDelay
		}
		if fs.Changed("render-delay") {
			c.Jitter.RenderDelay = *renderDelay
		}
		if fs.Changed("pulse") {
			c.Jitter.Pulse = *pulse
		}
	})
	if err != nil {
		return err
	}
	logger := util.NewLogger(cfg.Log.Level)

	engine, err := app.NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	progress := newProgress(os.Stderr, os.Stdout, "jitter")
	engine.AddObserver(progress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	res, err := engine.RunJitterSession(ctx, app.JitterParams(cfg))
	progress.done()
	if err != nil {
		return err
	}
	fmt.Println(res.Text)
	if res.RenderPriorityErr != nil {
		fmt.Fprintf(os.Stderr, "warning: render priority not raised: %v\n", res.RenderPriorityErr)
	}
	if res.Underruns > 0 {
		fmt.Printf("underruns: %d\n", res.Underruns)
	}
	skip := min(analysis.DefaultSkip, res.Params.WarmupSkip)
	if drift, err := analysis.Drift(res.Timestamps.CallbackStart.Values(), skip, 0); err == nil {
		fmt.Println(drift.String())
	}
	fmt.Println(analysis.Threads(res.Timestamps, skip).String())
	fmt.Printf("session %s took %s\n", res.SessionID, res.Finished.Sub(res.Started).Round(time.Millisecond))

	if *dump != "" {
		return dumpTimestamps(*dump, res)
	}
	return nil
}

var dumpHeader = []string{"index", "callback_start", "callback_done", "render_wake", "render_done"}

func dumpTimestamps(path string, res *jitter.Result) error {
	out := os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := writeTimestampsCSV(csv.NewWriter(out), res.Timestamps); err != nil {
		return fmt.Errorf("dump timestamps: %w", err)
	}
	return nil
}

// writeTimestampsCSV writes one row per callback from the flattened
// [start | done | wake | render] layout.
func writeTimestampsCSV(w *csv.Writer, ts recorder.Timestamps) error {
	n := ts.Len()
	flat := ts.Flatten()
	if err := w.Write(dumpHeader); err != nil {
		return err
	}
	row := make([]string, len(dumpHeader))
	for i := 0; i < n; i++ {
		row[0] = strconv.Itoa(i)
		for s := 0; s < 4; s++ {
			row[s+1] = strconv.FormatFloat(flat[s*n+i], 'f', 9, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func runCalibrate(args []string) error {
	fs, o := newFlagSet("calibrate", "time the spin-load unit")
	warmup := fs.Int("warmup-ms", 200, "Nominal milliseconds spun before timing")
	ms := fs.Int("ms", 1000, "Nominal milliseconds to time")
	if err := o.parse(args); err != nil {
		return err
	}
	if *warmup < 0 || *ms <= 0 {
		return fmt.Errorf("--ms must be > 0 and --warmup-ms >= 0")
	}
	cal := spin.Calibrate(*warmup, *ms)
	fmt.Println(cal.String())
	fmt.Printf("ratio = %.3f\n", cal.Ratio())
	return nil
}
