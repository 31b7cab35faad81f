package wakeprobe

import (
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/latprobe/internal/monotime"
	"github.com/NodePath81/latprobe/internal/util"
)

func runQuick(t *testing.T, trials int, period time.Duration) Result {
	t.Helper()
	res := Run(Config{Trials: trials, Period: period, SkipPriority: true}, util.DiscardLogger())
	if !res.Completed {
		t.Fatalf("probe did not complete: %s", res.Text)
	}
	return res
}

func TestDeadlinesAdvanceByPeriod(t *testing.T) {
	period := 2 * time.Millisecond
	res := runQuick(t, 30, period)
	for i := 1; i < len(res.Deadlines); i++ {
		if d := monotime.DiffNanos(res.Deadlines[i], res.Deadlines[i-1]); d != int64(period) {
			t.Fatalf("deadline %d advanced %dns, want %d", i, d, int64(period))
		}
	}
}

func TestWakeNotBeforeDeadline(t *testing.T) {
	res := runQuick(t, 30, 2*time.Millisecond)
	for i := range res.Deadlines {
		if res.Wakes[i].Before(res.Deadlines[i]) {
			t.Fatalf("trial %d woke %dns early", i, monotime.DiffNanos(res.Deadlines[i], res.Wakes[i]))
		}
	}
	if res.MaxOvershootNs < 0 || res.MeanOvershootNs < 0 {
		t.Fatalf("negative overshoot: max %d mean %d", res.MaxOvershootNs, res.MeanOvershootNs)
	}
}

func TestReadNotBeforeWrite(t *testing.T) {
	res := runQuick(t, 50, time.Millisecond)
	if len(res.ReadTimes) != 50 || len(res.WriteTimes) != 50 {
		t.Fatalf("unexpected series lengths %d/%d", len(res.ReadTimes), len(res.WriteTimes))
	}
	var maxHandoff float64
	for i := range res.WriteTimes {
		d := res.ReadTimes[i] - res.WriteTimes[i]
		if d < 0 {
			t.Fatalf("trial %d read %.9f before write %.9f", i, res.ReadTimes[i], res.WriteTimes[i])
		}
		if i == 0 || d > maxHandoff {
			maxHandoff = d
		}
	}
	if res.MaxHandoff != maxHandoff {
		t.Fatalf("MaxHandoff = %f, want %f", res.MaxHandoff, maxHandoff)
	}
}

func TestStatisticsMatchSamples(t *testing.T) {
	res := runQuick(t, 25, time.Millisecond)
	var sum, maxDelta int64
	maxIndex := 0
	for i := range res.Deadlines {
		d := monotime.DiffNanos(res.Wakes[i], res.Deadlines[i])
		sum += d
		if i == 0 || d > maxDelta {
			maxDelta = d
			maxIndex = i
		}
	}
	if res.MaxOvershootNs != maxDelta || res.MaxIndex != maxIndex {
		t.Fatalf("max = %d (%d), want %d (%d)", res.MaxOvershootNs, res.MaxIndex, maxDelta, maxIndex)
	}
	if res.MeanOvershootNs != sum/25 {
		t.Fatalf("mean = %d, want %d", res.MeanOvershootNs, sum/25)
	}
}

func TestResultText(t *testing.T) {
	res := runQuick(t, 10, time.Millisecond)
	re := regexp.MustCompile(`^max = \d+ \(\d+\), mean = \d+ render = \d+\.\d{6}$`)
	if !re.MatchString(res.Text) {
		t.Fatalf("unexpected result text %q", res.Text)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Trials != 100 || cfg.Period != 10*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ProducerNice != -19 || cfg.ConsumerNice != -16 {
		t.Fatalf("unexpected nice defaults %+v", cfg)
	}
	filled := Config{}.withDefaults()
	if filled.Trials != DefaultTrials || filled.Period != DefaultPeriod {
		t.Fatalf("withDefaults did not fill trials/period: %+v", filled)
	}
}

func TestPriorityFailureAborts(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; priority elevation succeeds")
	}
	res := Run(DefaultConfig(), util.DiscardLogger())
	if res.Completed {
		t.Skip("host permits raising priority")
	}
	if res.PriorityErr == nil {
		t.Fatalf("expected PriorityErr")
	}
	if !strings.HasPrefix(res.Text, "set priority (in thread) failed ") {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if len(res.Deadlines) != 0 {
		t.Fatalf("aborted probe recorded %d trials", len(res.Deadlines))
	}
}
