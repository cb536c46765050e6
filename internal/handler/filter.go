package handler

import (
	"net/url"
	"strings"
)

// Filter narrows the links found on the page at base to those worth
// following. It must not modify links.
type Filter func(base *url.URL, links []string) []string

// ChildOnly keeps links that extend the page URL: same scheme and authority,
// and a path that starts with the page path and is strictly longer.
// For http://x.com/a/b/ it keeps http://x.com/a/b/c and drops
// http://x.com/a/b/ itself, http://x.com/a and http://y.com/a/b/c.
func ChildOnly(base *url.URL, links []string) []string {
	prefix := parentPrefix(base)
	var out []string
	for _, link := range links {
		if len(link) > len(prefix) && strings.HasPrefix(link, prefix) {
			out = append(out, link)
		}
	}
	return out
}

// AcceptAll keeps every link.
func AcceptAll(_ *url.URL, links []string) []string {
	return append([]string(nil), links...)
}

// SameHost keeps links on the page's scheme and authority.
func SameHost(base *url.URL, links []string) []string {
	origin := base.Scheme + "://" + authority(base)
	var out []string
	for _, link := range links {
		if link == origin || strings.HasPrefix(link, origin+"/") || strings.HasPrefix(link, origin+"?") {
			out = append(out, link)
		}
	}
	return out
}

func parentPrefix(base *url.URL) string {
	return base.Scheme + "://" + authority(base) + base.EscapedPath()
}

func authority(u *url.URL) string {
	if u.User != nil {
		return u.User.String() + "@" + u.Host
	}
	return u.Host
}
