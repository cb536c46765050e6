package handler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/forkcrawl/internal/page"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// snapshot saves text pages under the snapshot dir, if one is configured.
func (b Base) snapshot(ctx context.Context, p *page.Page) error {
	if b.snapshotDir == "" || !p.IsText(ctx) {
		return nil
	}
	return p.Save(ctx, SnapshotPath(b.snapshotDir, p.String()))
}

// SnapshotPath returns the file a page snapshot of rawURL is written to. The
// name keeps the host and path readable and ends with a URL hash, so distinct
// URLs never collide.
func SnapshotPath(dir, rawURL string) string {
	return filepath.Join(dir, safeBasename(rawURL)+".html")
}

func safeBasename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return hashURL(raw)
	}
	host := invalidFilenameChars.ReplaceAllString(u.Host, "_")
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		p = "root"
	}
	p = invalidFilenameChars.ReplaceAllString(p, "_")
	if len(p) > 100 {
		p = p[:100]
	}
	return fmt.Sprintf("%s_%s_%s", host, p, hashURL(raw)[:16])
}

func hashURL(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
