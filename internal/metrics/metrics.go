package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/wakeprobe"
)

type SinkMetrics struct {
	Sessions      uint64
	LastJitterMs  float64
	MaxJitterMs   float64
	LastUnderruns int
}

type WakeMetrics struct {
	Runs            uint64
	MaxOvershootNs  int64
	MeanOvershootNs int64
	MaxHandoffSec   float64
}

type Metrics struct {
	mu               sync.Mutex
	sinks            map[string]*SinkMetrics
	wake             WakeMetrics
	active           bool
	memoryAllocBytes uint64
	startTime        time.Time

	sessionsTotal    atomic.Uint64
	driverFailures   atomic.Uint64
	underrunsTotal   atomic.Uint64
	priorityFailures atomic.Uint64
	uploadsAccepted  atomic.Uint64
	uploadsRejected  atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		sinks:     make(map[string]*SinkMetrics),
		startTime: time.Now(),
	}
}

func (m *Metrics) Start(ctxDone <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctxDone:
				return
			case <-ticker.C:
				m.updateMemory()
			}
		}
	}()
}

func (m *Metrics) updateMemory() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.mu.Lock()
	m.memoryAllocBytes = mem.Alloc
	m.mu.Unlock()
}

func (m *Metrics) SessionStarted(string, jitter.Params) {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()
}

// Underrun runs on the audio callback goroutine; it only touches an atomic.
func (m *Metrics) Underrun(string, int) {
	m.underrunsTotal.Add(1)
}

func (m *Metrics) SessionFinished(_ string, res *jitter.Result, err error) {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	if err != nil {
		if errors.Is(err, jitter.ErrDriver) {
			m.driverFailures.Add(1)
		}
		return
	}
	m.sessionsTotal.Add(1)
	if res.RenderPriorityErr != nil {
		m.priorityFailures.Add(1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sinks[res.Sink]
	if !ok {
		s = &SinkMetrics{}
		m.sinks[res.Sink] = s
	}
	s.Sessions++
	s.LastJitterMs = res.JitterMs
	if res.JitterMs > s.MaxJitterMs {
		s.MaxJitterMs = res.JitterMs
	}
	s.LastUnderruns = res.Underruns
}

func (m *Metrics) ObserveWake(res wakeprobe.Result) {
	if !res.Completed {
		if res.PriorityErr != nil {
			m.priorityFailures.Add(1)
		}
		return
	}
	if res.ConsumerPriorityErr != nil {
		m.priorityFailures.Add(1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wake.Runs++
	m.wake.MaxOvershootNs = res.MaxOvershootNs
	m.wake.MeanOvershootNs = res.MeanOvershootNs
	m.wake.MaxHandoffSec = res.MaxHandoff
}

func (m *Metrics) RecordUpload(accepted bool) {
	if accepted {
		m.uploadsAccepted.Add(1)
	} else {
		m.uploadsRejected.Add(1)
	}
}

func (m *Metrics) GetSinkMetrics(sink string) (SinkMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sinks[sink]
	if !ok {
		return SinkMetrics{}, false
	}
	return *s, true
}

func (m *Metrics) Snapshot() map[string]any {
	m.mu.Lock()
	wake := m.wake
	active := m.active
	m.mu.Unlock()
	return map[string]any{
		"sessions_total":    m.sessionsTotal.Load(),
		"driver_failures":   m.driverFailures.Load(),
		"underruns_total":   m.underrunsTotal.Load(),
		"priority_failures": m.priorityFailures.Load(),
		"uploads_accepted":  m.uploadsAccepted.Load(),
		"uploads_rejected":  m.uploadsRejected.Load(),
		"wake_runs":         wake.Runs,
		"session_active":    active,
	}
}

func (m *Metrics) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(m.Render()))
}

func (m *Metrics) Render() string {
	m.mu.Lock()
	names := make([]string, 0, len(m.sinks))
	for name := range m.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	sinks := make(map[string]SinkMetrics, len(m.sinks))
	for name, s := range m.sinks {
		sinks[name] = *s
	}
	wake := m.wake
	active := m.active
	memoryAlloc := m.memoryAllocBytes
	startTime := m.startTime
	m.mu.Unlock()

	var b strings.Builder
	writeCounter(&b, "latprobe_sessions_total", m.sessionsTotal.Load())
	writeCounter(&b, "latprobe_driver_failures_total", m.driverFailures.Load())
	writeCounter(&b, "latprobe_underruns_total", m.underrunsTotal.Load())
	writeCounter(&b, "latprobe_priority_failures_total", m.priorityFailures.Load())
	writeCounter(&b, "latprobe_uploads_accepted_total", m.uploadsAccepted.Load())
	writeCounter(&b, "latprobe_uploads_rejected_total", m.uploadsRejected.Load())

	b.WriteString("# TYPE latprobe_session_active gauge\n")
	b.WriteString("latprobe_session_active ")
	if active {
		b.WriteString("1\n")
	} else {
		b.WriteString("0\n")
	}

	b.WriteString("# TYPE latprobe_sink_sessions_total counter\n")
	for _, name := range names {
		writeLabeled(&b, "latprobe_sink_sessions_total", name, strconv.FormatUint(sinks[name].Sessions, 10))
	}
	b.WriteString("# TYPE latprobe_last_jitter_ms gauge\n")
	for _, name := range names {
		writeLabeled(&b, "latprobe_last_jitter_ms", name, formatFloat(sinks[name].LastJitterMs))
	}
	b.WriteString("# TYPE latprobe_max_jitter_ms gauge\n")
	for _, name := range names {
		writeLabeled(&b, "latprobe_max_jitter_ms", name, formatFloat(sinks[name].MaxJitterMs))
	}
	b.WriteString("# TYPE latprobe_last_underruns gauge\n")
	for _, name := range names {
		writeLabeled(&b, "latprobe_last_underruns", name, strconv.Itoa(sinks[name].LastUnderruns))
	}

	writeCounter(&b, "latprobe_wake_runs_total", wake.Runs)
	b.WriteString("# TYPE latprobe_wake_max_overshoot_ns gauge\n")
	b.WriteString("latprobe_wake_max_overshoot_ns ")
	b.WriteString(strconv.FormatInt(wake.MaxOvershootNs, 10))
	b.WriteString("\n")
	b.WriteString("# TYPE latprobe_wake_mean_overshoot_ns gauge\n")
	b.WriteString("latprobe_wake_mean_overshoot_ns ")
	b.WriteString(strconv.FormatInt(wake.MeanOvershootNs, 10))
	b.WriteString("\n")
	b.WriteString("# TYPE latprobe_wake_max_handoff_seconds gauge\n")
	b.WriteString("latprobe_wake_max_handoff_seconds ")
	b.WriteString(formatFloat(wake.MaxHandoffSec))
	b.WriteString("\n")

	b.WriteString("# TYPE latprobe_memory_alloc_bytes gauge\n")
	b.WriteString("latprobe_memory_alloc_bytes ")
	b.WriteString(strconv.FormatUint(memoryAlloc, 10))
	b.WriteString("\n")
	b.WriteString("# TYPE latprobe_uptime_seconds gauge\n")
	b.WriteString("latprobe_uptime_seconds ")
	if startTime.IsZero() {
		b.WriteString("0\n")
	} else {
		b.WriteString(formatFloat(time.Since(startTime).Seconds()))
		b.WriteString("\n")
	}
	return b.String()
}

func writeCounter(b *strings.Builder, name string, val uint64) {
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(strconv.FormatUint(val, 10))
	b.WriteString("\n")
}

func writeLabeled(b *strings.Builder, name, sink, val string) {
	b.WriteString(name)
	b.WriteString("{sink=\"")
	b.WriteString(sink)
	b.WriteString("\"} ")
	b.WriteString(val)
	b.WriteString("\n")
}

func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', 6, 64)
}
