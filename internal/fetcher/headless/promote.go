package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/forkcrawl/internal/page"
)

// ResponseFetcher loads the raw response for a URL.
type ResponseFetcher interface {
	Fetch(ctx context.Context, rawURL string) (page.Response, error)
}

// Detector decides whether a probed response must be rendered.
type Detector interface {
	ShouldPromote(resp page.Response) bool
}

// Promoting probes every page with a cheap fetcher and re-fetches it with
// the renderer only when the detector asks for it.
type Promoting struct {
	probe    ResponseFetcher
	renderer ResponseFetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting returns an opener that promotes probed pages to renderer.
func NewPromoting(probe, renderer ResponseFetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{probe: probe, renderer: renderer, detector: detector, logger: logger}
}

// Open validates rawURL and returns a page that loads on first use.
func (p *Promoting) Open(_ context.Context, rawURL string) (*page.Page, error) {
	u, err := page.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	target := u.String()
	return page.New(u, func(ctx context.Context) (page.Response, error) {
		return p.load(ctx, target)
	}), nil
}

func (p *Promoting) load(ctx context.Context, rawURL string) (page.Response, error) {
	resp, err := p.probe.Fetch(ctx, rawURL)
	if err != nil {
		return page.Response{}, err
	}
	if !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := p.renderer.Fetch(ctx, rawURL)
	if err != nil {
		// The probe is still a usable page.
		p.logger.Warn("headless render failed; using probe", zap.String("url", rawURL), zap.Error(err))
		return resp, nil
	}
	p.logger.Debug("page promoted to headless", zap.String("url", rawURL))
	return rendered, nil
}
