package handler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/forkcrawl/internal/crawler"
	"github.com/JakeFAU/forkcrawl/internal/page"
)

// Opener resolves a URL to a page whose content loads on first use.
type Opener interface {
	Open(ctx context.Context, rawURL string) (*page.Page, error)
}

// Visitor inspects one page. Returning false stops the whole run.
type Visitor interface {
	VisitPage(ctx context.Context, p *page.Page) (bool, error)
}

// Base is the configuration a handler shares with all of its clones. It is
// embedded by value; every field is read-only once a run starts.
type Base struct {
	opener      Opener
	filter      Filter
	blocklist   *Blocklist
	snapshotDir string
	logger      *zap.Logger
}

// Option customises a Base.
type Option func(*Base)

// WithFilter replaces the ChildOnly link filter.
func WithFilter(f Filter) Option {
	return func(b *Base) {
		if f != nil {
			b.filter = f
		}
	}
}

// WithBlocklist drops links to the hosts matched by patterns after the link
// filter has run.
func WithBlocklist(patterns []string) Option {
	return func(b *Base) { b.blocklist = NewBlocklist(patterns) }
}

// WithSnapshotDir saves every visited text page under dir.
func WithSnapshotDir(dir string) Option {
	return func(b *Base) { b.snapshotDir = dir }
}

// WithLogger sets the logger for skipped items and stopped rounds.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBase returns a Base reading pages through opener.
func NewBase(opener Opener, opts ...Option) Base {
	b := Base{
		opener: opener,
		filter: ChildOnly,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.filter = b.blocklist.Wrap(b.filter)
	return b
}

// Walk opens every URL of batch in order, hands each page to v and returns
// the filtered links of the visited pages.
//
// A malformed or robots-blocked URL is skipped. Any other failure ends the
// walk early; the links gathered so far are returned with the error. When v
// asks to stop, Walk returns crawler.ErrAbort and no links.
func (b Base) Walk(ctx context.Context, batch []string, v Visitor) ([]string, error) {
	var discovered []string
	for _, raw := range batch {
		p, err := b.opener.Open(ctx, raw)
		if err != nil {
			if skippable(err) {
				b.logger.Warn("skipping url", zap.String("url", raw), zap.Error(err))
				continue
			}
			return discovered, fmt.Errorf("open %s: %w", raw, err)
		}
		links, err := p.Links(ctx)
		if err != nil {
			if skippable(err) {
				b.logger.Warn("skipping url", zap.String("url", raw), zap.Error(err))
				continue
			}
			return discovered, fmt.Errorf("load %s: %w", raw, err)
		}
		keep, err := v.VisitPage(ctx, p)
		if err != nil {
			return discovered, fmt.Errorf("visit %s: %w", raw, err)
		}
		if !keep {
			return nil, crawler.ErrAbort
		}
		if err := b.snapshot(ctx, p); err != nil {
			b.logger.Warn("snapshot failed", zap.String("url", raw), zap.Error(err))
		}
		discovered = append(discovered, b.filter(p.BaseURL(ctx), links)...)
	}
	return discovered, nil
}

func skippable(err error) bool {
	return errors.Is(err, page.ErrMalformedURL) || errors.Is(err, page.ErrBlocked)
}
