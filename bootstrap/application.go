// Package bootstrap provides the application implementation
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/najoast/rcall/config"
	"github.com/najoast/rcall/engine"
	"github.com/najoast/rcall/transport"
)

// Application wires configuration, logging, metrics, transport, and
// the engine together and manages their lifecycle. Every dependency is
// built here and passed down explicitly.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger
	msink  metrics.MetricSink

	container Container
	lifecycle *LifecycleManager

	engine *engine.Engine

	// pipePeer holds the far half when the pipe transport is
	// configured, for in-process embedding and tests.
	pipePeer *transport.PipeTransport

	mutex        sync.Mutex
	running      bool
	shutdownChan chan os.Signal
}

// NewApplication builds an application from a validated configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	msink := metrics.NewInmemSink(10*time.Second, time.Minute)

	app := &Application{
		cfg:          cfg,
		logger:       logger,
		msink:        msink,
		container:    NewContainer(),
		lifecycle:    NewLifecycleManager(),
		shutdownChan: make(chan os.Signal, 1),
	}

	app.engine = engine.New(engine.Config{
		Name:           cfg.Engine.Name,
		TickInterval:   cfg.Engine.TickInterval,
		AckTimeout:     cfg.Engine.AckTimeout,
		MaxRetries:     cfg.Engine.MaxRetries,
		MarshalTimeout: cfg.Engine.MarshalTimeout,
		QueueSize:      cfg.Worker.QueueSize,
		Logger:         logger,
		MetricSink:     msink,
	})

	app.container.RegisterInstance("config", cfg)
	app.container.RegisterInstance("logger", logger)
	app.container.RegisterInstance("metrics", msink)
	app.container.RegisterInstance("engine", app.engine)

	if err := app.lifecycle.Register("engine", &engineService{app: app}); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return app, nil
}

// NewLogger builds a slog.Logger from logging configuration.
func NewLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output: %w", err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level.SlogLevel(),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler), nil
}

// Engine returns the wired engine.
func (app *Application) Engine() *engine.Engine {
	return app.engine
}

// Container returns the dependency container.
func (app *Application) Container() Container {
	return app.container
}

// Lifecycle returns the lifecycle manager.
func (app *Application) Lifecycle() *LifecycleManager {
	return app.lifecycle
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// PipePeer returns the far half of the loopback pipe, or nil when the
// transport type is not pipe or the application has not started.
func (app *Application) PipePeer() *transport.PipeTransport {
	app.mutex.Lock()
	defer app.mutex.Unlock()
	return app.pipePeer
}

// Start starts all services without blocking.
func (app *Application) Start(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return err
	}

	app.logger.Info("application started",
		"app", app.cfg.App.Name,
		"version", app.cfg.App.Version,
		"environment", app.cfg.App.Environment)
	return nil
}

// Run blocks until a termination signal or context cancellation, then
// shuts down gracefully. It starts the application first if the caller
// has not already done so.
func (app *Application) Run(ctx context.Context) error {
	app.mutex.Lock()
	running := app.running
	app.mutex.Unlock()

	if !running {
		if err := app.Start(ctx); err != nil {
			return err
		}
	}

	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)

	select {
	case sig := <-app.shutdownChan:
		app.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		app.logger.Info("context cancelled, shutting down")
	}

	return app.Shutdown(context.Background())
}

// Shutdown stops all services gracefully. Safe to call more than once.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := app.lifecycle.Stop(shutdownCtx); err != nil {
		return err
	}

	app.logger.Info("application stopped")
	return nil
}

// buildTransport constructs the configured raw transport.
func (app *Application) buildTransport() (transport.Transport, error) {
	tc := app.cfg.Engine.Transport

	switch tc.Type {
	case config.TransportUDP:
		udpCfg := transport.DefaultUDPConfig()
		udpCfg.LocalAddr = tc.LocalAddr
		udpCfg.RemoteAddr = tc.RemoteAddr
		if tc.ReadTimeout > 0 {
			udpCfg.ReadTimeout = tc.ReadTimeout
		}
		udpCfg.Logger = app.logger
		udpCfg.MetricSink = app.msink
		return transport.NewUDP(udpCfg)

	case config.TransportTCP:
		conn, err := net.Dial("tcp", tc.RemoteAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", tc.RemoteAddr, err)
		}
		tcpCfg := transport.DefaultTCPConfig()
		if tc.ReadTimeout > 0 {
			tcpCfg.ReadTimeout = tc.ReadTimeout
		}
		tcpCfg.Logger = app.logger
		tcpCfg.MetricSink = app.msink
		return transport.NewTCP(conn, tcpCfg), nil

	case config.TransportPipe:
		near, far := transport.Pipe(app.cfg.Worker.QueueSize, 100*time.Millisecond)
		app.mutex.Lock()
		app.pipePeer = far
		app.mutex.Unlock()
		return near, nil

	default:
		return nil, config.ErrInvalidTransportType
	}
}

// engineService adapts the engine to the managed service interface.
type engineService struct {
	app *Application
}

func (s *engineService) Name() string {
	return "engine"
}

func (s *engineService) Start(ctx context.Context) error {
	if err := s.app.engine.Start(); err != nil {
		return err
	}

	tr, err := s.app.buildTransport()
	if err != nil {
		s.app.engine.Stop()
		return err
	}

	if err := s.app.engine.Initialize(tr); err != nil {
		tr.Close()
		s.app.engine.Stop()
		return err
	}

	return nil
}

func (s *engineService) Stop(ctx context.Context) error {
	return s.app.engine.Stop()
}

func (s *engineService) Health(ctx context.Context) (HealthStatus, error) {
	s.app.mutex.Lock()
	running := s.app.running
	s.app.mutex.Unlock()

	state := HealthStopped
	if running {
		state = HealthHealthy
	}
	return HealthStatus{
		State:     state,
		Message:   fmt.Sprintf("%d sends pending", s.app.engine.Pending()),
		LastCheck: time.Now(),
	}, nil
}
