// Package wakeprobe measures how long a consumer thread takes to wake after
// a producer signals it, and how late the producer's own absolute-deadline
// sleeps return.
package wakeprobe

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/NodePath81/latprobe/internal/monotime"
	"github.com/NodePath81/latprobe/internal/recorder"
	"github.com/NodePath81/latprobe/internal/sched"
	"github.com/NodePath81/latprobe/internal/sem"
	"github.com/NodePath81/latprobe/internal/util"
)

const (
	DefaultTrials       = 100
	DefaultPeriod       = 10 * time.Millisecond
	DefaultProducerNice = -19
	DefaultConsumerNice = -16
)

// Config controls one probe run. Zero Trials and Period take the defaults;
// nice values are applied as given.
type Config struct {
	Trials       int
	Period       time.Duration
	ProducerNice int
	ConsumerNice int
	// SkipPriority leaves both threads at their inherited nice value.
	SkipPriority bool
}

func (c Config) withDefaults() Config {
	if c.Trials <= 0 {
		c.Trials = DefaultTrials
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	return c
}

// DefaultConfig returns 100 trials of 10ms with the producer at nice -19 and
// the consumer at nice -16.
func DefaultConfig() Config {
	return Config{
		Trials:       DefaultTrials,
		Period:       DefaultPeriod,
		ProducerNice: DefaultProducerNice,
		ConsumerNice: DefaultConsumerNice,
	}
}

// Result is the outcome of Run. When the producer could not raise its
// priority Completed is false, PriorityErr is set and only Text is
// meaningful.
type Result struct {
	Completed bool

	Deadlines []monotime.TimePoint
	Wakes     []monotime.TimePoint
	// WriteTimes and ReadTimes are the signal and consumer wake times in
	// seconds.
	WriteTimes []float64
	ReadTimes  []float64

	MaxOvershootNs  int64
	MaxIndex        int
	MeanOvershootNs int64
	// MaxHandoff is max(ReadTimes[i]-WriteTimes[i]) in seconds.
	MaxHandoff float64

	PriorityErr         error
	ConsumerPriorityErr error

	Text string
}

type trialContext struct {
	ready     *sem.Semaphore
	writeTime *recorder.Series
	readTime  *recorder.Series
}

func newTrialContext(n int) *trialContext {
	return &trialContext{
		ready:     sem.New(0, n),
		writeTime: recorder.New(n),
		readTime:  recorder.New(n),
	}
}

// Run executes the probe and blocks until both threads have finished.
func Run(cfg Config, logger util.Logger) Result {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	cfg = cfg.withDefaults()
	out := make(chan Result, 1)
	go func() {
		out <- produce(cfg, logger)
	}()
	res := <-out
	if res.Completed {
		logger.Info("wake probe complete",
			"trials", cfg.Trials,
			"max_overshoot", util.FormatNanos(res.MaxOvershootNs),
			"max_index", res.MaxIndex,
			"mean_overshoot", util.FormatNanos(res.MeanOvershootNs),
			"max_handoff", util.FormatSeconds(res.MaxHandoff))
	}
	return res
}

func produce(cfg Config, logger util.Logger) Result {
	// The thread is not unlocked so an elevated thread is discarded when the
	// goroutine exits.
	runtime.LockOSThread()

	if !cfg.SkipPriority {
		if err := sched.SetNice(cfg.ProducerNice); err != nil {
			logger.Warn("producer priority not raised", "nice", cfg.ProducerNice, "error", err)
			return Result{
				PriorityErr: err,
				Text:        fmt.Sprintf("set priority (in thread) failed %d", sched.Code(err)),
			}
		}
	}

	n := cfg.Trials
	tc := newTrialContext(n)
	res := Result{
		Deadlines: make([]monotime.TimePoint, n),
		Wakes:     make([]monotime.TimePoint, n),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res.ConsumerPriorityErr = consume(cfg, tc, logger)
	}()

	period := int64(cfg.Period)
	var sum, maxDelta int64
	maxIndex := 0
	deadline := monotime.Now()
	for i := 0; i < n; i++ {
		deadline = deadline.Bump(period)
		woke := monotime.SleepUntil(deadline)
		tc.writeTime.Set(i, woke.Seconds())
		tc.ready.Post()
		delta := monotime.DiffNanos(woke, deadline)
		sum += delta
		if i == 0 || delta > maxDelta {
			maxDelta = delta
			maxIndex = i
		}
		res.Deadlines[i] = deadline
		res.Wakes[i] = woke
	}
	wg.Wait()

	res.Completed = true
	res.WriteTimes = tc.writeTime.Values()
	res.ReadTimes = tc.readTime.Values()
	res.MaxOvershootNs = maxDelta
	res.MaxIndex = maxIndex
	res.MeanOvershootNs = sum / int64(n)
	res.MaxHandoff = tc.readTime.MaxDiff(tc.writeTime, 0)
	res.Text = fmt.Sprintf("max = %d (%d), mean = %d render = %.6f",
		res.MaxOvershootNs, res.MaxIndex, res.MeanOvershootNs, res.MaxHandoff)
	return res
}

func consume(cfg Config, tc *trialContext, logger util.Logger) error {
	runtime.LockOSThread()

	var prioErr error
	if !cfg.SkipPriority {
		if err := sched.SetNice(cfg.ConsumerNice); err != nil {
			logger.Warn("consumer priority not raised", "nice", cfg.ConsumerNice, "error", err)
			prioErr = err
		}
	}
	for i := 0; i < tc.readTime.Len(); i++ {
		tc.ready.Wait()
		tc.readTime.Set(i, monotime.Now().Seconds())
	}
	return prioErr
}
