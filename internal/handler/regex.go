package handler

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/JakeFAU/forkcrawl/internal/crawler"
	"github.com/JakeFAU/forkcrawl/internal/page"
)

type regexFilter struct {
	re    *regexp.Regexp
	group int
}

// RegexHandler extracts a capture group of every pattern match in the text
// of the visited pages. Results are kept per pattern.
type RegexHandler struct {
	Base
	filters []regexFilter
	results map[string][]string
}

// NewRegexHandler returns a RegexHandler with no patterns.
func NewRegexHandler(opener Opener, opts ...Option) *RegexHandler {
	return &RegexHandler{Base: NewBase(opener, opts...), results: make(map[string][]string)}
}

// AddPattern compiles pattern and records capture group for each match.
// Group 0 is the whole match. Patterns must be added before the run starts.
func (h *RegexHandler) AddPattern(pattern string, group int) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	if group < 0 || group > re.NumSubexp() {
		return fmt.Errorf("pattern %q has no group %d", pattern, group)
	}
	h.filters = append(h.filters, regexFilter{re: re, group: group})
	return nil
}

// Parse implements crawler.Handler.
func (h *RegexHandler) Parse(ctx context.Context, batch []string) ([]string, error) {
	return h.Walk(ctx, batch, h)
}

// VisitPage applies every pattern to the page text.
func (h *RegexHandler) VisitPage(ctx context.Context, p *page.Page) (bool, error) {
	if !p.IsText(ctx) {
		return true, nil
	}
	content, err := p.Content(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range h.filters {
		key := f.re.String()
		for _, m := range f.re.FindAllStringSubmatch(content, -1) {
			h.results[key] = append(h.results[key], m[f.group])
		}
	}
	return true, nil
}

// Clone implements crawler.Handler. The compiled patterns are shared.
func (h *RegexHandler) Clone() (crawler.Handler, error) {
	return &RegexHandler{Base: h.Base, filters: h.filters, results: make(map[string][]string)}, nil
}

// Merge implements crawler.Handler.
func (h *RegexHandler) Merge(src crawler.Handler) error {
	other, ok := src.(*RegexHandler)
	if !ok {
		return fmt.Errorf("%w: cannot merge %T into %T", crawler.ErrHandlerMismatch, src, h)
	}
	for pattern, matches := range other.results {
		h.results[pattern] = append(h.results[pattern], matches...)
	}
	return nil
}

// Result returns every capture recorded for pattern, sorted. Repeated
// captures are kept.
func (h *RegexHandler) Result(pattern string) []string {
	out := slices.Clone(h.results[pattern])
	slices.Sort(out)
	return out
}

// Results returns a sorted copy of the captures of every pattern.
func (h *RegexHandler) Results() map[string][]string {
	out := make(map[string][]string, len(h.results))
	for pattern := range h.results {
		out[pattern] = h.Result(pattern)
	}
	return out
}

// Patterns returns the configured patterns in the order they were added.
func (h *RegexHandler) Patterns() []string {
	out := make([]string, len(h.filters))
	for i, f := range h.filters {
		out[i] = f.re.String()
	}
	return out
}
