package metrics

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/sched"
	"github.com/NodePath81/latprobe/internal/wakeprobe"
)

func TestSessionCounters(t *testing.T) {
	m := NewMetrics()
	m.SessionStarted("a", jitter.Params{})
	m.Underrun("a", 3)
	m.Underrun("a", 4)
	m.SessionFinished("a", &jitter.Result{
		Sink:              "simulated",
		JitterMs:          2.5,
		Underruns:         2,
		RenderPriorityErr: &sched.PriorityError{Op: "sched_setattr", Errno: syscall.EPERM},
	}, nil)
	m.SessionFinished("b", &jitter.Result{Sink: "simulated", JitterMs: 1}, nil)
	m.SessionFinished("c", nil, fmt.Errorf("%w: boom", jitter.ErrDriver))
	m.SessionFinished("d", nil, errors.New("invalid"))

	s, ok := m.GetSinkMetrics("simulated")
	if !ok {
		t.Fatalf("missing sink metrics")
	}
	if s.Sessions != 2 || s.LastJitterMs != 1 || s.MaxJitterMs != 2.5 || s.LastUnderruns != 0 {
		t.Fatalf("unexpected sink metrics %+v", s)
	}
	out := m.Render()
	for _, want := range []string{
		"latprobe_sessions_total 2\n",
		"latprobe_driver_failures_total 1\n",
		"latprobe_underruns_total 2\n",
		"latprobe_priority_failures_total 1\n",
		"latprobe_session_active 0\n",
		"latprobe_last_jitter_ms{sink=\"simulated\"} 1.000000\n",
		"latprobe_max_jitter_ms{sink=\"simulated\"} 2.500000\n",
		"# TYPE latprobe_last_jitter_ms gauge\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q", want)
		}
	}
}

func TestWakeMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveWake(wakeprobe.Result{Completed: true, MaxOvershootNs: 1200, MeanOvershootNs: 300, MaxHandoff: 0.00005})
	m.ObserveWake(wakeprobe.Result{PriorityErr: errors.New("eperm")})
	out := m.Render()
	for _, want := range []string{
		"latprobe_wake_runs_total 1\n",
		"latprobe_wake_max_overshoot_ns 1200\n",
		"latprobe_wake_mean_overshoot_ns 300\n",
		"latprobe_wake_max_handoff_seconds 0.000050\n",
		"latprobe_priority_failures_total 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q", want)
		}
	}
}

func TestUploadCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordUpload(true)
	m.RecordUpload(true)
	m.RecordUpload(false)
	snap := m.Snapshot()
	if snap["uploads_accepted"].(uint64) != 2 || snap["uploads_rejected"].(uint64) != 1 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}
