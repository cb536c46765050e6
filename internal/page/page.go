package page

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

var (
	// ErrMalformedURL reports a URL that is not an absolute http or https URL.
	ErrMalformedURL = errors.New("malformed url")
	// ErrBlocked reports a URL the site's robots.txt disallows.
	ErrBlocked = errors.New("blocked by robots.txt")
)

// Response is the raw result of fetching a page.
type Response struct {
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Loader fetches the page body. It runs at most once per Page.
type Loader func(ctx context.Context) (Response, error)

// Page is a URL plus its lazily fetched content. A Page is owned by one task
// and is not meant to be shared between goroutines.
type Page struct {
	url  *url.URL
	load Loader

	fetchOnce sync.Once
	resp      Response
	fetchErr  error

	linksOnce sync.Once
	links     []string
	linksErr  error
}

// ParseURL validates raw as an absolute http or https URL.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: unsupported scheme %q", ErrMalformedURL, raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrMalformedURL, raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// New returns a page for u whose content is produced by load.
func New(u *url.URL, load Loader) *Page {
	return &Page{url: u, load: load}
}

// URL returns a copy of the page URL.
func (p *Page) URL() *url.URL {
	u := *p.url
	return &u
}

func (p *Page) String() string {
	return p.url.String()
}

func (p *Page) fetch(ctx context.Context) (Response, error) {
	p.fetchOnce.Do(func() {
		if p.load == nil {
			p.fetchErr = fmt.Errorf("page %s has no loader", p.url)
			return
		}
		p.resp, p.fetchErr = p.load(ctx)
	})
	return p.resp, p.fetchErr
}

// Body returns the raw page bytes, fetching them on first use.
func (p *Page) Body(ctx context.Context) ([]byte, error) {
	resp, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Content returns the page body as UTF-8. A body that is not valid UTF-8 is
// decoded using the charset from a BOM, the Content-Type header or a <meta>
// tag, falling back to windows-1252. Bodies that fail to decode are returned
// as is.
func (p *Page) Content(ctx context.Context) (string, error) {
	resp, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	if utf8.Valid(resp.Body) {
		return string(resp.Body), nil
	}
	enc, _, _ := charset.DetermineEncoding(resp.Body, resp.Header.Get("Content-Type"))
	decoded, err := enc.NewDecoder().Bytes(resp.Body)
	if err != nil {
		return string(resp.Body), nil
	}
	return string(decoded), nil
}

// ContentType returns the media type of the page without parameters, such as
// "text/html". When the server omits the header the type is sniffed.
func (p *Page) ContentType(ctx context.Context) (string, error) {
	resp, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	raw := resp.Header.Get("Content-Type")
	if raw == "" {
		raw = http.DetectContentType(resp.Body)
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(raw, ";", 2)[0])), nil
	}
	return mediaType, nil
}

// IsText reports whether the page holds character content. Fetch failures
// count as not text.
func (p *Page) IsText(ctx context.Context) bool {
	ct, err := p.ContentType(ctx)
	if err != nil {
		return false
	}
	return strings.HasPrefix(ct, "text/") || ct == "application/xhtml+xml"
}

// BaseURL returns the URL the page was served from once redirects are
// followed. It falls back to the requested URL when the fetch failed or
// reported no usable final URL.
func (p *Page) BaseURL(ctx context.Context) *url.URL {
	resp, err := p.fetch(ctx)
	if err != nil {
		return p.URL()
	}
	return p.base(resp)
}

func (p *Page) base(resp Response) *url.URL {
	if resp.FinalURL != "" {
		if u, err := ParseURL(resp.FinalURL); err == nil {
			return u
		}
	}
	return p.URL()
}

// Links returns the normalised targets of every href on the page, resolved
// against BaseURL. Non-text pages have no links.
func (p *Page) Links(ctx context.Context) ([]string, error) {
	p.linksOnce.Do(func() {
		resp, err := p.fetch(ctx)
		if err != nil {
			p.linksErr = err
			return
		}
		if !p.IsText(ctx) {
			return
		}
		p.links, p.linksErr = extractLinks(p.base(resp), resp.Body)
	})
	if p.linksErr != nil {
		return nil, p.linksErr
	}
	return append([]string(nil), p.links...), nil
}

// Save writes the page body to path, creating parent directories.
func (p *Page) Save(ctx context.Context, path string) error {
	body, err := p.Body(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
