// Package sources implements candidate discovery: HTML job boards scraped with
// CSS selectors, static JSON feeds, and a fan-out that merges several sources.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/envoy/internal/workflow"
)

// Source is a named candidate provider.
type Source interface {
	Name() string
	Discover(ctx context.Context, p workflow.Profile) ([]workflow.Candidate, error)
}

// Multi queries every source concurrently and merges the results in source
// order, dropping duplicate identities. A failing source does not discard the
// candidates of the others.
type Multi struct {
	sources []Source
	logger  *slog.Logger
}

// NewMulti creates a fan-out over sources.
func NewMulti(logger *slog.Logger, sources ...Source) *Multi {
	return &Multi{
		sources: sources,
		logger:  logger.With("system", "sources"),
	}
}

// Sources returns the configured sources.
func (m *Multi) Sources() []Source {
	return m.sources
}

func (m *Multi) Discover(ctx context.Context, p workflow.Profile) ([]workflow.Candidate, error) {
	if len(m.sources) == 0 {
		return nil, ErrNoSources
	}

	results := make([][]workflow.Candidate, len(m.sources))
	errs := make([]error, len(m.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range m.sources {
		g.Go(func() error {
			found, err := src.Discover(gctx, p)
			if err != nil {
				errs[i] = fmt.Errorf("source %s: %w", src.Name(), err)
				m.logger.Warn("source failed", "source", src.Name(), "error", err)
				return nil
			}
			results[i] = found
			m.logger.Debug("source discovered", "source", src.Name(), "count", len(found))
			return nil
		})
	}
	g.Wait()

	seen := make(map[string]bool)
	var merged []workflow.Candidate
	for _, found := range results {
		for _, c := range found {
			if c.ID != "" && seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			merged = append(merged, c)
		}
	}

	return merged, errors.Join(errs...)
}
