package handler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChildOnly(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("http://x.com/a/b/")
	require.NoError(t, err)

	got := ChildOnly(base, []string{
		"http://x.com/a/b/c",
		"http://x.com/a",
		"http://y.com/a/b/c",
		"http://x.com/a/b/",
		"https://x.com/a/b/c",
		"http://x.com/a/b/c/d?q=1",
	})
	require.Equal(t, []string{"http://x.com/a/b/c", "http://x.com/a/b/c/d?q=1"}, got)
}

func TestChildOnlyKeepsPortAndUser(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("http://bob@127.0.0.1:8080/docs/")
	require.NoError(t, err)

	got := ChildOnly(base, []string{
		"http://bob@127.0.0.1:8080/docs/intro",
		"http://127.0.0.1:8080/docs/intro",
	})
	require.Equal(t, []string{"http://bob@127.0.0.1:8080/docs/intro"}, got)
}

func TestSameHostAndAcceptAll(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://x.com/a/b")
	require.NoError(t, err)
	links := []string{"https://x.com", "https://x.com/z", "https://x.com?q", "https://x.com.evil.test/", "http://x.com/z"}

	require.Equal(t, []string{"https://x.com", "https://x.com/z", "https://x.com?q"}, SameHost(base, links))
	all := AcceptAll(base, links)
	require.Equal(t, links, all)
	all[0] = "changed"
	require.Equal(t, "https://x.com", links[0])
}
