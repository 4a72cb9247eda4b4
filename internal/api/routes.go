package api

import (
	"net/http"

	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/internal/runs"
	"github.com/JaimeStill/envoy/pkg/openapi"
	"github.com/JaimeStill/envoy/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) error {
	runsHandler := runs.NewHandler(
		domain.Engine,
		domain.Runs,
		domain.Policies,
		runtime.Logger,
		runtime.Pagination,
	)

	groups := []routes.Group{
		domain.Documents.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
		domain.Prompts.Handler().Routes(),
		domain.Applications.Handler().Routes(),
		runsHandler.Routes(),
		newStorageHandler(runtime.Storage, runtime.Logger).routes(),
	}
	routes.Register(mux, groups...)

	spec, err := openapi.MarshalJSON(buildSpec(cfg))
	if err != nil {
		return err
	}
	mux.HandleFunc("GET /openapi.json", openapi.ServeSpec(spec))
	return nil
}
