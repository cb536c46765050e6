package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/forkcrawl/internal/page"
)

var errNotFound = errors.New("404 not found")

// siteOpener serves pages from memory and counts fetches.
type siteOpener struct {
	pages map[string]string

	mu      sync.Mutex
	fetched map[string]int
}

func newSiteOpener(pages map[string]string) *siteOpener {
	return &siteOpener{pages: pages, fetched: make(map[string]int)}
}

func (s *siteOpener) Open(_ context.Context, rawURL string) (*page.Page, error) {
	u, err := page.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := u.String()
	return page.New(u, func(context.Context) (page.Response, error) {
		s.mu.Lock()
		s.fetched[key]++
		s.mu.Unlock()
		body, ok := s.pages[key]
		if !ok {
			return page.Response{}, fmt.Errorf("%s: %w", key, errNotFound)
		}
		return page.Response{
			FinalURL:   key,
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/html"}},
			Body:       []byte(body),
		}, nil
	}), nil
}

func (s *siteOpener) Fetched() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.fetched))
	for k, v := range s.fetched {
		out[k] = v
	}
	return out
}

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(ctx context.Context, rawURL string) (*page.Page, error) {
	args := m.Called(ctx, rawURL)
	p, _ := args.Get(0).(*page.Page)
	return p, args.Error(1)
}

type stopVisitor struct {
	stopAt string
	seen   []string
}

func (v *stopVisitor) VisitPage(_ context.Context, p *page.Page) (bool, error) {
	v.seen = append(v.seen, p.String())
	return p.String() != v.stopAt, nil
}

func anchors(hrefs ...string) string {
	body := "<html><body>"
	for _, href := range hrefs {
		body += fmt.Sprintf(`<a href="%s">link</a>`, href)
	}
	return body + "</body></html>"
}

func htmlPage(rawURL, body string) *page.Page {
	u, err := page.ParseURL(rawURL)
	if err != nil {
		panic(err)
	}
	return page.New(u, func(context.Context) (page.Response, error) {
		return page.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/html"}},
			Body:       []byte(body),
		}, nil
	})
}
