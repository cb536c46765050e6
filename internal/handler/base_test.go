package handler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forkcrawl/internal/crawler"
	"github.com/JakeFAU/forkcrawl/internal/page"
)

func TestWalkSkipsMalformedURLs(t *testing.T) {
	t.Parallel()

	site := newSiteOpener(map[string]string{
		"http://x.com/a/": anchors("b", "/elsewhere"),
		"http://x.com/c/": anchors("d"),
	})
	base := NewBase(site)
	visitor := &stopVisitor{}

	links, err := base.Walk(context.Background(), []string{"http://x.com/a/", "not-a-url", "http://x.com/c/"}, visitor)
	require.NoError(t, err)
	require.Equal(t, []string{"http://x.com/a/b", "http://x.com/c/d"}, links)
	require.Equal(t, []string{"http://x.com/a/", "http://x.com/c/"}, visitor.seen)
}

// TestWalkStopsRoundOnFetchFailure keeps the links found before the failing
// URL and never fetches the rest of the batch.
func TestWalkStopsRoundOnFetchFailure(t *testing.T) {
	t.Parallel()

	site := newSiteOpener(map[string]string{
		"http://x.com/a/": anchors("b"),
		"http://x.com/c/": anchors("d"),
	})
	base := NewBase(site)

	links, err := base.Walk(context.Background(), []string{"http://x.com/a/", "http://x.com/missing", "http://x.com/c/"}, &stopVisitor{})
	require.ErrorIs(t, err, errNotFound)
	require.NotErrorIs(t, err, crawler.ErrAbort)
	require.Equal(t, []string{"http://x.com/a/b"}, links)
	require.NotContains(t, site.Fetched(), "http://x.com/c/")
}

func TestWalkAbortDropsDiscoveries(t *testing.T) {
	t.Parallel()

	site := newSiteOpener(map[string]string{
		"http://x.com/a/": anchors("b"),
		"http://x.com/c/": anchors("d"),
	})
	base := NewBase(site)

	links, err := base.Walk(context.Background(), []string{"http://x.com/a/", "http://x.com/c/"}, &stopVisitor{stopAt: "http://x.com/c/"})
	require.ErrorIs(t, err, crawler.ErrAbort)
	require.Nil(t, links)
}

func TestWalkSkipsRobotsBlockedPages(t *testing.T) {
	t.Parallel()

	opener := &mockOpener{}
	opener.On("Open", mock.Anything, "http://x.com/private").Return(nil, page.ErrBlocked).Once()
	opener.On("Open", mock.Anything, "http://x.com/a/").Return(htmlPage("http://x.com/a/", anchors("b")), nil).Once()

	base := NewBase(opener)
	links, err := base.Walk(context.Background(), []string{"http://x.com/private", "http://x.com/a/"}, &stopVisitor{})
	require.NoError(t, err)
	require.Equal(t, []string{"http://x.com/a/b"}, links)
	opener.AssertExpectations(t)
}

func TestWalkOpenFailureIsWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial tcp: refused")
	opener := &mockOpener{}
	opener.On("Open", mock.Anything, "http://x.com/a/").Return(nil, boom).Once()

	_, err := NewBase(opener).Walk(context.Background(), []string{"http://x.com/a/", "http://x.com/b/"}, &stopVisitor{})
	require.ErrorIs(t, err, boom)
	opener.AssertExpectations(t)
	opener.AssertNotCalled(t, "Open", mock.Anything, "http://x.com/b/")
}

func TestWalkUsesCustomFilter(t *testing.T) {
	t.Parallel()

	site := newSiteOpener(map[string]string{
		"http://x.com/a/": anchors("b", "/top", "https://y.com/"),
	})
	base := NewBase(site, WithFilter(AcceptAll))

	links, err := base.Walk(context.Background(), []string{"http://x.com/a/"}, &stopVisitor{})
	require.NoError(t, err)
	require.Equal(t, []string{"http://x.com/a/b", "http://x.com/top", "https://y.com/"}, links)
}

func TestWalkWritesSnapshots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	site := newSiteOpener(map[string]string{"http://x.com/a/": anchors("b")})
	base := NewBase(site, WithSnapshotDir(dir))

	_, err := base.Walk(context.Background(), []string{"http://x.com/a/"}, &stopVisitor{})
	require.NoError(t, err)

	data, err := os.ReadFile(SnapshotPath(dir, "http://x.com/a/"))
	require.NoError(t, err)
	require.Equal(t, anchors("b"), string(data))
	require.Equal(t, 1, site.Fetched()["http://x.com/a/"], "snapshot reuses the fetched body")
}

func TestSnapshotPath(t *testing.T) {
	t.Parallel()

	a := SnapshotPath("/tmp/snap", "http://x.com/a/b?x=1")
	b := SnapshotPath("/tmp/snap", "http://x.com/a/b?x=2")
	require.NotEqual(t, a, b)
	require.Equal(t, "/tmp/snap", filepath.Dir(a))
	require.Regexp(t, `^x.com_a_b_[0-9a-f]{16}\.html$`, filepath.Base(a))
	require.Regexp(t, `^x.com_root_[0-9a-f]{16}\.html$`, filepath.Base(SnapshotPath("/tmp", "http://x.com/")))
}

func TestWalkFiltersAgainstRedirectTarget(t *testing.T) {
	t.Parallel()

	u, err := page.ParseURL("http://x.com/docs")
	require.NoError(t, err)
	redirected := page.New(u, func(context.Context) (page.Response, error) {
		return page.Response{
			FinalURL:   "http://x.com/docs/",
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/html"}},
			Body:       []byte(anchors("intro", "/other")),
		}, nil
	})
	opener := &mockOpener{}
	opener.On("Open", mock.Anything, "http://x.com/docs").Return(redirected, nil).Once()

	links, err := NewBase(opener).Walk(context.Background(), []string{"http://x.com/docs"}, &stopVisitor{})
	require.NoError(t, err)
	require.Equal(t, []string{"http://x.com/docs/intro"}, links)
	opener.AssertExpectations(t)
}
