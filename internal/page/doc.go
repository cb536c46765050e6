// Package page models a fetched web page. Content, content type and links
// are materialised lazily on first use and cached for the page's lifetime.
package page
