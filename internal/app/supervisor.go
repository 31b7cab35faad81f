package app

import (
	"errors"
	"sync"

	"github.com/NodePath81/latprobe/internal/config"
	"github.com/NodePath81/latprobe/internal/util"
)

// Loader produces the configuration for each (re)start.
type Loader func() (config.Config, error)

type Supervisor struct {
	load    Loader
	logger  util.Logger
	mu      sync.Mutex
	runtime *Runtime
}

func NewSupervisor(load Loader, logger util.Logger) *Supervisor {
	return &Supervisor{
		load:   load,
		logger: logger,
	}
}

func (s *Supervisor) Start() error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	runtime, err := NewRuntime(cfg, s.logger)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		runtime.Stop()
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

// Restart reloads the configuration. The running instance is kept when the
// new configuration does not load.
func (s *Supervisor) Restart() error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	runtime, err := NewRuntime(cfg, s.logger)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		runtime.Stop()
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// Runtime returns the running instance.
func (s *Supervisor) Runtime() (*Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil, errors.New("supervisor not running")
	}
	return s.runtime, nil
}
