package handler

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/JakeFAU/forkcrawl/internal/crawler"
	"github.com/JakeFAU/forkcrawl/internal/page"
)

// SuffixCollector records links ending with one of its suffixes, for
// example every ".java" source linked from a documentation tree.
type SuffixCollector struct {
	Base
	suffixes []string
	matches  map[string]struct{}
}

// NewSuffixCollector returns a SuffixCollector for suffixes.
func NewSuffixCollector(opener Opener, suffixes []string, opts ...Option) *SuffixCollector {
	return &SuffixCollector{
		Base:     NewBase(opener, opts...),
		suffixes: slices.Clone(suffixes),
		matches:  make(map[string]struct{}),
	}
}

// Parse implements crawler.Handler.
func (c *SuffixCollector) Parse(ctx context.Context, batch []string) ([]string, error) {
	return c.Walk(ctx, batch, c)
}

// VisitPage records the page's links that match a suffix.
func (c *SuffixCollector) VisitPage(ctx context.Context, p *page.Page) (bool, error) {
	links, err := p.Links(ctx)
	if err != nil {
		return false, err
	}
	for _, link := range links {
		if c.matchesSuffix(link) {
			c.matches[link] = struct{}{}
		}
	}
	return true, nil
}

func (c *SuffixCollector) matchesSuffix(link string) bool {
	for _, suffix := range c.suffixes {
		if strings.HasSuffix(link, suffix) {
			return true
		}
	}
	return false
}

// Clone implements crawler.Handler.
func (c *SuffixCollector) Clone() (crawler.Handler, error) {
	return &SuffixCollector{Base: c.Base, suffixes: c.suffixes, matches: make(map[string]struct{})}, nil
}

// Merge implements crawler.Handler.
func (c *SuffixCollector) Merge(src crawler.Handler) error {
	other, ok := src.(*SuffixCollector)
	if !ok {
		return fmt.Errorf("%w: cannot merge %T into %T", crawler.ErrHandlerMismatch, src, c)
	}
	maps.Copy(c.matches, other.matches)
	return nil
}

// Matches returns the matching links in sorted order.
func (c *SuffixCollector) Matches() []string {
	return slices.Sorted(maps.Keys(c.matches))
}
