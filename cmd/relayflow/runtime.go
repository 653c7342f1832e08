package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/config"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/loop"
	"github.com/drblury/relayflow/internal/runtime/metrics"
	"github.com/drblury/relayflow/internal/runtime/socket"
	"github.com/drblury/relayflow/internal/runtime/stream"
)

// drainTimeout bounds the best-effort drain of in-flight commands on shutdown.
const drainTimeout = 10 * time.Second

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadRegistry(cfg *config.Config) (*channels.Registry, error) {
	if cfg.ChannelMapFile == "" {
		return channels.NewDefaultRegistry(), nil
	}
	return channels.LoadFile(cfg.ChannelMapFile, channels.DefaultCatalog())
}

// runtime is the process-wide plumbing shared by every subcommand.
type runtime struct {
	cfg     *config.Config
	logger  logging.ServiceLogger
	hub     *socket.Hub
	loop    *loop.Loop
	streams *stream.Factory
	server  *http.Server

	stopLoop context.CancelFunc
	loopDone chan struct{}
}

func newRuntime(cfg *config.Config, logOut io.Writer) (*runtime, error) {
	logger := logging.New(logOut, cfg.LogLevel)

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	hub, err := socket.NewHub(cfg, nil, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, hub: hub, loopDone: make(chan struct{})}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		if err := m.Register(); err != nil {
			_ = hub.Close()
			return nil, err
		}
		rt.startMetricsServer(reg)
	}

	rt.loop = loop.New(logger)
	loopCtx, cancel := context.WithCancel(context.Background())
	rt.stopLoop = cancel
	go func() {
		defer close(rt.loopDone)
		if err := rt.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Loop stopped", err, nil)
		}
	}()

	rt.streams = &stream.Factory{
		Registry:    registry,
		Resolver:    address.Resolver{RuntimeDir: cfg.CommDir},
		Hub:         hub,
		Loop:        rt.loop,
		Logger:      logger,
		Metrics:     m,
		DefaultKind: address.IPC,
	}
	logger.Debug("Runtime ready", logging.LogFields{"config": cfg.String()})
	return rt, nil
}

func (rt *runtime) startMetricsServer(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	rt.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rt.logger.Info("Starting HTTP server", logging.LogFields{"address": rt.server.Addr})
	go func() {
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("Failed to start HTTP server", err, logging.LogFields{"address": rt.server.Addr})
		}
	}()
}

// frontDoor is the endpoint of the request proxy's ROUTER.
func (rt *runtime) frontDoor() (address.Kind, string, int, error) {
	kind, err := address.ParseKind(rt.cfg.RequestTransport)
	if err != nil {
		return "", "", 0, err
	}
	if kind != address.TCP {
		return kind, "", 0, nil
	}
	return kind, rt.cfg.RequestHost, rt.cfg.RequestPort, nil
}

// drainContext bounds the shutdown of components that were running when
// the process was asked to stop.
func drainContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), drainTimeout)
}

// shutdown stops the loop once every component has been closed, then
// releases the transports and the metrics server.
func (rt *runtime) shutdown() {
	rt.stopLoop()
	<-rt.loopDone
	if err := rt.hub.Close(); err != nil {
		rt.logger.Error("Closing transports failed", err, nil)
	}
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.server.Shutdown(ctx)
	}
	rt.logger.Info("Stopped", nil)
}
