package tailor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/JaimeStill/document-context/pkg/config"
	"github.com/JaimeStill/document-context/pkg/document"
	"github.com/JaimeStill/document-context/pkg/encoding"
	"github.com/JaimeStill/document-context/pkg/image"
	"github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
	"golang.org/x/sync/errgroup"
)

const transcribeInstructions = `Transcribe every piece of text on this resume page exactly as written.
Keep headings, bullet points, and the reading order of columns.
Reply with the transcription only, as plain text or markdown.`

// Renderer turns a PDF into one PNG image per page, in page order.
type Renderer func(ctx context.Context, pdf []byte) ([][]byte, error)

// Viewer answers a prompt about a single image given as a data URI.
type Viewer interface {
	View(ctx context.Context, prompt, dataURI string) (string, error)
}

// PDFReader transcribes PDF base documents by rendering each page and
// reading it back with a vision model.
type PDFReader struct {
	render Renderer
	viewer Viewer
	logger *slog.Logger
}

// NewPDFReader returns a reader that renders pages with ImageMagick and
// transcribes them through the vision endpoint of the agent in cfg.
func NewPDFReader(cfg gaconfig.AgentConfig, logger *slog.Logger) *PDFReader {
	return NewPDFReaderWith(RenderPages, &agentViewer{cfg: cfg}, logger)
}

// NewPDFReaderWith returns a reader over the given renderer and viewer.
func NewPDFReaderWith(render Renderer, viewer Viewer, logger *slog.Logger) *PDFReader {
	return &PDFReader{
		render: render,
		viewer: viewer,
		logger: logger.With("tailor", "pdf"),
	}
}

// ReadPDF returns the transcribed text of every page joined in page order.
func (r *PDFReader) ReadPDF(ctx context.Context, data []byte) (string, error) {
	images, err := r.render(ctx, data)
	if err != nil {
		return "", err
	}

	pages := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(len(images)))

	for i, img := range images {
		g.Go(func() error {
			uri, err := encoding.EncodeImageDataURI(img, document.PNG)
			if err != nil {
				return fmt.Errorf("%w: encode page %d: %w", ErrRenderFailed, i+1, err)
			}

			text, err := r.viewer.View(gctx, transcribeInstructions, uri)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			pages[i] = strings.TrimSpace(text)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	var out []string
	for _, p := range pages {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "", ErrEmptyResponse
	}

	r.logger.Debug("pdf pages transcribed", "pages", len(images))
	return strings.Join(out, "\n\n"), nil
}

// RenderPages writes the PDF to a scratch directory and renders every page
// to PNG concurrently.
func RenderPages(ctx context.Context, data []byte) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "envoy-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("%w: temp dir: %w", ErrRenderFailed, err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "base.pdf")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("%w: write pdf: %w", ErrRenderFailed, err)
	}

	pdf, err := document.OpenPDF(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", ErrRenderFailed, err)
	}
	defer pdf.Close()

	renderer, err := image.NewImageMagickRenderer(config.DefaultImageConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: create renderer: %w", ErrRenderFailed, err)
	}

	all, err := pdf.ExtractAllPages()
	if err != nil {
		return nil, fmt.Errorf("%w: extract pages: %w", ErrRenderFailed, err)
	}

	images := make([][]byte, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(len(all)))

	for i, page := range all {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			img, err := page.ToImage(renderer, nil)
			if err != nil {
				return fmt.Errorf("render page %d: %w", i+1, err)
			}
			images[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return images, nil
}

func workerCount(pages int) int {
	return max(min(runtime.NumCPU(), pages), 1)
}

type agentViewer struct {
	cfg gaconfig.AgentConfig
}

func (v *agentViewer) View(ctx context.Context, prompt, dataURI string) (string, error) {
	a, err := agent.New(&v.cfg)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}

	resp, err := a.Vision(ctx, prompt, []string{dataURI})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAgentFailed, err)
	}
	return resp.Content(), nil
}
