package handler

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/JakeFAU/forkcrawl/internal/crawler"
	"github.com/JakeFAU/forkcrawl/internal/page"
)

// LinkCollector records every hyperlink found on the visited pages,
// including links the filter does not follow.
type LinkCollector struct {
	Base
	links map[string]struct{}
}

// NewLinkCollector returns a LinkCollector reading pages through opener.
func NewLinkCollector(opener Opener, opts ...Option) *LinkCollector {
	return &LinkCollector{Base: NewBase(opener, opts...), links: make(map[string]struct{})}
}

// Parse implements crawler.Handler.
func (c *LinkCollector) Parse(ctx context.Context, batch []string) ([]string, error) {
	return c.Walk(ctx, batch, c)
}

// VisitPage records the page's links.
func (c *LinkCollector) VisitPage(ctx context.Context, p *page.Page) (bool, error) {
	links, err := p.Links(ctx)
	if err != nil {
		return false, err
	}
	for _, link := range links {
		c.links[link] = struct{}{}
	}
	return true, nil
}

// Clone implements crawler.Handler.
func (c *LinkCollector) Clone() (crawler.Handler, error) {
	return &LinkCollector{Base: c.Base, links: make(map[string]struct{})}, nil
}

// Merge implements crawler.Handler.
func (c *LinkCollector) Merge(src crawler.Handler) error {
	other, ok := src.(*LinkCollector)
	if !ok {
		return fmt.Errorf("%w: cannot merge %T into %T", crawler.ErrHandlerMismatch, src, c)
	}
	maps.Copy(c.links, other.links)
	return nil
}

// Links returns the collected links in sorted order.
func (c *LinkCollector) Links() []string {
	return slices.Sorted(maps.Keys(c.links))
}

// Len returns how many distinct links were collected.
func (c *LinkCollector) Len() int {
	return len(c.links)
}
