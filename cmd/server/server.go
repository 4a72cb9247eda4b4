package main

import (
	"context"
	"fmt"
	"time"

	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/internal/infrastructure"
)

// Server runs the Envoy API alongside the gate sweeper. On shutdown the
// engine interrupts in-flight runs so each saves a snapshot that a later
// resume continues from.
type Server struct {
	infra        *infrastructure.Infrastructure
	modules      *Modules
	http         *httpServer
	drainTimeout time.Duration
}

func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	modules, err := NewModules(infra, cfg)
	if err != nil {
		return nil, err
	}

	router := buildRouter(infra, modules.Domain.Engine)
	modules.Mount(router)

	opts := modules.Domain.Engine.Options()
	infra.Logger.Info(
		"server initialized",
		"addr", cfg.Server.Addr(),
		"version", cfg.Version,
		"gate_timeout", opts.GateTimeout,
		"error_budget", opts.ErrorBudget,
	)

	return &Server{
		infra:        infra,
		modules:      modules,
		http:         newHTTPServer(&cfg.Server, router, infra.Logger),
		drainTimeout: cfg.Server.DrainTimeoutDuration(),
	}, nil
}

func (s *Server) Start() error {
	s.infra.Logger.Info("starting service")

	if err := s.infra.Start(); err != nil {
		return err
	}

	if err := s.modules.Domain.Sweeper.Start(s.infra.Lifecycle); err != nil {
		return fmt.Errorf("sweeper start failed: %w", err)
	}
	s.drainRuns()

	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	go func() {
		s.infra.Lifecycle.WaitForStartup()
		s.infra.Logger.Info("all subsystems ready")
	}()

	return nil
}

func (s *Server) Shutdown(timeout time.Duration) error {
	s.infra.Logger.Info("initiating shutdown", "active_runs", s.modules.Domain.Engine.Active())
	return s.infra.Lifecycle.Shutdown(timeout)
}

// drainRuns interrupts the engine's loops once shutdown begins and waits up
// to the drain timeout for their snapshots.
func (s *Server) drainRuns() {
	lc := s.infra.Lifecycle
	engine := s.modules.Domain.Engine

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
		defer cancel()

		if err := engine.Shutdown(ctx); err != nil {
			s.infra.Logger.Error("run drain incomplete", "error", err, "active_runs", engine.Active())
			return
		}
		s.infra.Logger.Info("runs drained")
	})
}
