package api

import (
	"fmt"

	"github.com/JaimeStill/envoy/internal/applications"
	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/internal/documents"
	"github.com/JaimeStill/envoy/internal/notify"
	"github.com/JaimeStill/envoy/internal/prompts"
	"github.com/JaimeStill/envoy/internal/runs"
	"github.com/JaimeStill/envoy/internal/scoring"
	"github.com/JaimeStill/envoy/internal/sources"
	"github.com/JaimeStill/envoy/internal/tailor"
	"github.com/JaimeStill/envoy/internal/workflow"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Documents    documents.System
	Prompts      prompts.System
	Applications applications.System
	Runs         *runs.Store
	Policies     *runs.PolicyStore
	Engine       *workflow.Engine
	Sweeper      *runs.Sweeper
}

// NewDomain creates all domain systems from the API runtime and assembles
// the workflow engine over them.
func NewDomain(runtime *Runtime) (*Domain, error) {
	db := runtime.Database.Connection()

	pdfReader := tailor.NewPDFReader(runtime.Agent, runtime.Logger)
	docsSystem := documents.New(db, runtime.Storage, pdfReader, runtime.Logger, runtime.Pagination)
	promptsSystem := prompts.New(db, runtime.Logger, runtime.Pagination)
	appsSystem := applications.New(db, runtime.Storage, runtime.Logger, runtime.Pagination)

	discoverer, err := newDiscoverer(runtime)
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}

	opts := runtime.Workflow.Options()
	completer := tailor.NewAgentCompleter(runtime.Agent)
	policies := runs.NewPolicyStore(db, opts.Feedback.Policy(), runtime.Logger)
	store := runs.NewStore(db, runtime.Logger, runtime.Pagination)

	rt := &workflow.Runtime{
		Discoverer:  discoverer,
		Scorer:      newScorer(runtime, completer, promptsSystem),
		Transformer: tailor.NewTransformer(completer, promptsSystem, runtime.Logger),
		Documents:   docsSystem,
		Notifier:    newNotifier(runtime),
		Submitter:   appsSystem,
		Policies:    policies,
		Logger:      runtime.Logger,
	}
	engine := workflow.NewEngine(rt, store, opts)

	return &Domain{
		Documents:    docsSystem,
		Prompts:      promptsSystem,
		Applications: appsSystem,
		Runs:         store,
		Policies:     policies,
		Engine:       engine,
		Sweeper:      runs.NewSweeper(engine, runtime.Workflow.SweepIntervalDuration(), runtime.Logger),
	}, nil
}

func newDiscoverer(runtime *Runtime) (*sources.Multi, error) {
	cfg := runtime.Sources
	var srcs []sources.Source

	for _, feed := range cfg.Static {
		name := feed.Name
		if name == "" {
			name = "static"
		}
		src, err := sources.LoadStaticSource(name, feed.Path)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}

	for _, h := range cfg.HTML {
		srcs = append(srcs, sources.NewHTMLSource(h, nil, cfg.TimeoutDuration(), cfg.UserAgent))
	}

	if len(srcs) == 0 {
		runtime.Logger.Warn("no discovery sources configured")
	}
	return sources.NewMulti(runtime.Logger, srcs...), nil
}

func newScorer(runtime *Runtime, completer tailor.Completer, p tailor.Prompter) workflow.Scorer {
	if runtime.Sources.Scorer == config.ScorerAgent {
		return tailor.NewScorer(completer, p, runtime.Logger)
	}
	return scoring.NewHeuristic(runtime.Sources.Weights)
}

func newNotifier(runtime *Runtime) workflow.Notifier {
	cfg := runtime.Notify
	if cfg.WebhookURL == "" {
		return notify.NewLog(runtime.Logger)
	}
	return notify.NewWebhook(cfg.WebhookURL, cfg.BaseURL, cfg.TimeoutDuration(), runtime.Logger)
}
