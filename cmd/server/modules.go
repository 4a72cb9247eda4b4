package main

import (
	"github.com/JaimeStill/envoy/internal/api"
	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/internal/infrastructure"
	"github.com/JaimeStill/envoy/pkg/module"
)

// Modules holds the HTTP modules mounted on the root router and the domain
// behind the API module.
type Modules struct {
	API    *module.Module
	Domain *api.Domain
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config) (*Modules, error) {
	apiModule, domain, err := api.NewModule(cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Modules{API: apiModule, Domain: domain}, nil
}

func (m *Modules) Mount(router *module.Router) {
	router.Mount(m.API)
}
