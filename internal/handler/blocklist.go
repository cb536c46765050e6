package handler

import (
	"net/url"
	"slices"
	"strings"
)

// Blocklist drops links to hosts matched by exact names or by "*.suffix"
// and ".suffix" patterns. A suffix pattern also matches the bare suffix.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist parses patterns. It returns nil when no pattern survives
// trimming; a nil Blocklist blocks nothing.
func NewBlocklist(patterns []string) *Blocklist {
	bl := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			bl.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			bl.addSuffix(strings.TrimPrefix(value, "."))
		default:
			bl.exact[value] = struct{}{}
		}
	}
	if len(bl.exact) == 0 && len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(b.suffixes, suffix) {
		return
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Blocks reports whether host is listed. host carries no port.
func (b *Blocklist) Blocks(host string) bool {
	if b == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Wrap returns a Filter that applies next and then drops blocked links.
// Unparseable links are dropped too.
func (b *Blocklist) Wrap(next Filter) Filter {
	if b == nil {
		return next
	}
	return func(base *url.URL, links []string) []string {
		var out []string
		for _, link := range next(base, links) {
			u, err := url.Parse(link)
			if err != nil || b.Blocks(u.Hostname()) {
				continue
			}
			out = append(out, link)
		}
		return out
	}
}
