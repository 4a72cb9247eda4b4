// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"fmt"
	"net/http"

	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/internal/infrastructure"
	"github.com/JaimeStill/envoy/pkg/middleware"
	"github.com/JaimeStill/envoy/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
// The returned domain carries the engine and gate sweeper, whose lifecycle
// the caller owns.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, *Domain, error) {
	runtime := NewRuntime(cfg, infra)
	domain, err := NewDomain(runtime)
	if err != nil {
		return nil, nil, fmt.Errorf("domain init failed: %w", err)
	}

	mux := http.NewServeMux()
	if err := registerRoutes(mux, domain, cfg, runtime); err != nil {
		return nil, nil, fmt.Errorf("route registration failed: %w", err)
	}

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))

	return m, domain, nil
}
