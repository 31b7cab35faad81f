package app

import (
	"context"
	"net"
	"time"

	"github.com/NodePath81/latprobe/internal/config"
	"github.com/NodePath81/latprobe/internal/control"
	"github.com/NodePath81/latprobe/internal/geo"
	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/metrics"
	"github.com/NodePath81/latprobe/internal/store"
	"github.com/NodePath81/latprobe/internal/util"
)

// Runtime is one serving instance: store, engine, metrics and the control
// server built from a single configuration.
type Runtime struct {
	cfg     config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	logger  util.Logger
	store   *store.Store
	geo     *geo.Resolver
	metrics *metrics.Metrics
	hub     *control.StatusHub
	engine  *jitter.Engine
	control *control.Server
}

func NewRuntime(cfg config.Config, logger util.Logger) (*Runtime, error) {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	var resolver *geo.Resolver
	if cfg.Server.GeoIPDB != "" {
		resolver, err = geo.Open(cfg.Server.GeoIPDB)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	engine, err := NewEngine(cfg, logger)
	if err != nil {
		_ = resolver.Close()
		_ = st.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.NewMetrics()
	hub := control.NewStatusHub(ctx.Done())
	engine.AddObserver(m)
	engine.AddObserver(hub)
	engine.AddObserver(store.NewSessionRecorder(st))

	ctrl := control.NewServer(cfg.Server, control.Deps{
		Store:          st,
		Geo:            resolver,
		Metrics:        m,
		Hub:            hub,
		Engine:         engine,
		JitterDefaults: JitterParams(cfg),
		Wake:           WakeConfig(cfg),
		Logger:         logger,
	})

	return &Runtime{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		store:   st,
		geo:     resolver,
		metrics: m,
		hub:     hub,
		engine:  engine,
		control: ctrl,
	}, nil
}

func (r *Runtime) Start() error {
	r.metrics.Start(r.ctx.Done())
	if err := r.control.Start(r.ctx); err != nil {
		return err
	}
	r.logger.Info("runtime started",
		"backend", r.cfg.Audio.Backend,
		"store", r.cfg.Store.Path,
		"geoip", r.cfg.Server.GeoIPDB != "")
	return nil
}

// Stop shuts the server down, waits for sessions started over RPC and
// closes the store.
func (r *Runtime) Stop() {
	r.cancel()
	if r.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := r.control.Shutdown(ctx); err != nil {
			r.logger.Warn("control shutdown incomplete", "error", err)
		}
		cancel()
	}
	if err := r.geo.Close(); err != nil {
		r.logger.Warn("geoip close failed", "error", err)
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("store close failed", "error", err)
	}
}

// Addr is the control server's listening address.
func (r *Runtime) Addr() net.Addr {
	return r.control.Addr()
}

func (r *Runtime) Engine() *jitter.Engine {
	return r.engine
}

func (r *Runtime) Metrics() *metrics.Metrics {
	return r.metrics
}
