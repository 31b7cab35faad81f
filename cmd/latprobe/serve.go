package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/latprobe/internal/app"
	"github.com/NodePath81/latprobe/internal/config"
	"github.com/NodePath81/latprobe/internal/util"
)

func runServe(args []string) error {
	fs, o := newFlagSet("serve", "results server")
	o.audioFlags()
	bindAddr := fs.String("bind", "", "Listen address")
	port := fs.IntP("port", "p", 0, "Listen port")
	store := fs.String("store", "", "SQLite database path")
	geoip := fs.String("geoip-db", "", "MaxMind country database for uploader tagging")
	if err := o.parse(args); err != nil {
		return err
	}
	load := func() (config.Config, error) {
		return o.load(func(c *config.Config) {
			if fs.Changed("bind") {
				c.Server.BindAddr = *bindAddr
			}
			if fs.Changed("port") {
				c.Server.BindPort = *port
			}
			if fs.Changed("store") {
				c.Store.Path = *store
			}
			if fs.Changed("geoip-db") {
				c.Server.GeoIPDB = *geoip
			}
		})
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	logger := util.NewLogger(cfg.Log.Level)

	supervisor := app.NewSupervisor(load, logger)
	if err := supervisor.Start(); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	if rt, err := supervisor.Runtime(); err == nil {
		logger.Info("serving", "addr", rt.Addr().String())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("reload requested")
		if err := supervisor.Restart(); err != nil {
			logger.Error("reload failed", "error", err)
		}
	}
	logger.Info("shutdown requested")
	supervisor.Stop()
	return nil
}

func runCheck(args []string) error {
	_, o := newFlagSet("check", "validate a config file")
	if err := o.parse(args); err != nil {
		return err
	}
	if o.configPath == "" {
		return fmt.Errorf("no config file given")
	}
	cfg, err := o.load(nil)
	if err != nil {
		return err
	}
	fmt.Printf("config valid: backend %s at %d Hz/%d frames, store %s, server %s\n",
		cfg.Audio.Backend, cfg.Audio.SampleRate, cfg.Audio.BufferSize, cfg.Store.Path,
		util.NetJoin(cfg.Server.BindAddr, cfg.Server.BindPort))
	return nil
}
