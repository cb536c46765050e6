package page

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

func extractLinks(base *url.URL, body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var links []string
	doc.Find("[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if link, ok := Resolve(base, href); ok {
			links = append(links, link)
		}
	})
	return links, nil
}

// Resolve turns href, as found on the page at base, into an absolute link.
// Absolute links are kept as written, root-relative links replace the path
// and other relative links are appended to the page's directory. Fragments
// are dropped. It returns false for empty links and for non-navigational
// schemes such as mailto: or javascript:.
func Resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return "", false
	}
	if loc := schemePrefix.FindStringIndex(href); loc != nil {
		if strings.HasPrefix(href[loc[1]:], "//") {
			return href, true
		}
		return "", false
	}
	if strings.HasPrefix(href, "//") {
		return base.Scheme + ":" + href, true
	}
	origin := base.Scheme + "://" + authority(base)
	if strings.HasPrefix(href, "/") {
		return origin + href, true
	}
	return origin + directory(base.EscapedPath()) + href, true
}

// authority returns host[:port], prefixed with any user info.
func authority(u *url.URL) string {
	if u.User != nil {
		return u.User.String() + "@" + u.Host
	}
	return u.Host
}

func directory(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "/"
	}
	return path[:i+1]
}
