package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JaimeStill/envoy/internal/api"
	"github.com/JaimeStill/envoy/internal/cli"
	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/internal/infrastructure"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func open(ctx context.Context) (*cli.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := infra.Start(); err != nil {
		return nil, err
	}
	infra.Lifecycle.WaitForStartup()

	domain, err := api.NewDomain(api.NewRuntime(cfg, infra))
	if err != nil {
		infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration())
		return nil, err
	}

	// A signal interrupts the engine's runs; each saves a resumable snapshot
	// before the command returns.
	context.AfterFunc(ctx, func() { drain(domain, cfg) })

	return &cli.Backend{
		Engine:   domain.Engine,
		Policies: domain.Policies,
		Close: func() error {
			drain(domain, cfg)
			return infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration())
		},
	}, nil
}

func drain(domain *api.Domain, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeoutDuration())
	defer cancel()
	domain.Engine.Shutdown(ctx)
}
