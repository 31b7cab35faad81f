package app

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/latprobe/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "latprobe.db")
	cfg.Server.BindPort = 1
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// Port zero is only valid past validation.
	cfg.Server.BindPort = 0
	return cfg
}

func TestJitterParamsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audio.SampleRate = 48000
	cfg.Audio.BufferSize = 480
	cfg.Jitter.CallbackDelay = 7
	cfg.Jitter.Pulse = true
	zero := 0
	cfg.Jitter.RenderPriority = &zero
	p := JitterParams(cfg)
	if p.SampleRate != 48000 || p.BufferSize != 480 || p.CallbackDelay != 7 || !p.Pulse {
		t.Fatalf("params: %+v", p)
	}
	if p.RenderPriority != 0 || p.TrialLength != 2000 || p.WarmupSkip != 100 || p.PulseBlock != 50 {
		t.Fatalf("params defaults: %+v", p)
	}
}

func TestWakeAndSweepConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Wake.SkipPriority = true
	wc := WakeConfig(cfg)
	if wc.Trials != 100 || wc.Period != 10*time.Millisecond || wc.ProducerNice != -19 || wc.ConsumerNice != -16 || !wc.SkipPriority {
		t.Fatalf("wake config: %+v", wc)
	}
	sc := SweepConfig(cfg)
	if sc.DetectLength != 10000 || sc.TrialLength != 2000 || sc.MaxDelay != 100 || sc.BadLimit != 2 {
		t.Fatalf("sweep config: %+v", sc)
	}
	if sc.SampleRate != 44100 || sc.BufferSize != 768 || sc.RenderPriority != 1 {
		t.Fatalf("sweep format: %+v", sc)
	}
	sc.SampleRates[0] = 1
	if cfg.Sweep.SampleRates[0] != 44100 {
		t.Fatal("sweep config shares the sample rate slice")
	}
}

func TestNewEngineUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audio.Backend = "alsa"
	if _, err := NewEngine(cfg, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRuntimeServes(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	resp, err := http.Get("http://" + rt.Addr().String() + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "no reports yet") {
		t.Fatalf("index: %d %q", resp.StatusCode, body)
	}
	if rt.Engine().SinkName() != config.BackendSimulated {
		t.Fatalf("sink: %s", rt.Engine().SinkName())
	}
}

func TestRuntimeBadGeoDB(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GeoIPDB = filepath.Join(t.TempDir(), "missing.mmdb")
	if _, err := NewRuntime(cfg, nil); err == nil {
		t.Fatal("expected error for missing geoip database")
	}
}

func TestSupervisorRestart(t *testing.T) {
	cfg := testConfig(t)
	loads := 0
	fail := false
	sup := NewSupervisor(func() (config.Config, error) {
		loads++
		if fail {
			return config.Config{}, errors.New("bad config")
		}
		return cfg, nil
	}, nil)
	if _, err := sup.Runtime(); err == nil {
		t.Fatal("expected error before start")
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, _ := sup.Runtime()

	fail = true
	if err := sup.Restart(); err == nil {
		t.Fatal("expected restart error")
	}
	if rt, err := sup.Runtime(); err != nil || rt != first {
		t.Fatal("failed reload must keep the running instance")
	}

	fail = false
	if err := sup.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	second, err := sup.Runtime()
	if err != nil || second == first {
		t.Fatal("restart did not replace the runtime")
	}
	sup.Stop()
	if _, err := sup.Runtime(); err == nil {
		t.Fatal("expected error after stop")
	}
	if loads != 3 {
		t.Fatalf("loads = %d, want 3", loads)
	}
}
