package headless

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forkcrawl/internal/headless/detector"
	"github.com/JakeFAU/forkcrawl/internal/page"
)

type stubFetcher struct {
	body  string
	err   error
	calls atomic.Int32
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (page.Response, error) {
	s.calls.Add(1)
	if s.err != nil {
		return page.Response{}, s.err
	}
	return page.Response{
		FinalURL:   rawURL,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(s.body),
	}, nil
}

const (
	shellPage    = `<html><body><div id="__next"></div></body></html>`
	renderedPage = `<html><body><a href="/docs/a">a</a></body></html>`
	staticPage   = `<html><body><a href="/docs/b">b</a><p>a static page with enough text to skip rendering</p></body></html>`
)

func TestPromotingRendersShells(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{body: shellPage}
	renderer := &stubFetcher{body: renderedPage}
	opener := NewPromoting(probe, renderer, detector.NewHeuristic(0), nil)

	p, err := opener.Open(context.Background(), "https://example.test/docs/")
	require.NoError(t, err)
	links, err := p.Links(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.test/docs/a"}, links)
	require.EqualValues(t, 1, probe.calls.Load())
	require.EqualValues(t, 1, renderer.calls.Load())
}

func TestPromotingKeepsStaticPages(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{body: staticPage}
	renderer := &stubFetcher{body: renderedPage}
	opener := NewPromoting(probe, renderer, detector.NewHeuristic(0), nil)

	p, err := opener.Open(context.Background(), "https://example.test/docs/")
	require.NoError(t, err)
	links, err := p.Links(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.test/docs/b"}, links)
	require.Zero(t, renderer.calls.Load())
}

func TestPromotingFallsBackToProbe(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{body: shellPage}
	renderer := &stubFetcher{err: errors.New("chrome not found")}
	opener := NewPromoting(probe, renderer, detector.NewHeuristic(0), nil)

	p, err := opener.Open(context.Background(), "https://example.test/docs/")
	require.NoError(t, err)
	content, err := p.Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, shellPage, content)
}

func TestPromotingPropagatesProbeErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	opener := NewPromoting(&stubFetcher{err: boom}, &stubFetcher{}, detector.NewHeuristic(0), nil)

	_, err := opener.Open(context.Background(), "not a url")
	require.ErrorIs(t, err, page.ErrMalformedURL)

	p, err := opener.Open(context.Background(), "https://example.test/")
	require.NoError(t, err)
	_, err = p.Content(context.Background())
	require.ErrorIs(t, err, boom)
}
