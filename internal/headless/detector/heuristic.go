// Package detector decides when a plainly fetched page needs a headless
// render before its links can be trusted.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/forkcrawl/internal/page"
)

// DefaultThreshold is the body size below which a script-heavy page counts
// as a shell.
const DefaultThreshold = 2048

// minScriptPercent is the share of a small body that script elements must
// cover before the page is promoted.
const minScriptPercent = 25

// Heuristic promotes pages that look like client-side application shells.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic returns a Heuristic. A zero threshold uses DefaultThreshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// mountMarkers are the root elements common frameworks render into.
var mountMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether a successful response is an empty body, a
// small script-dominated page or carries a framework mount point.
func (h *Heuristic) ShouldPromote(resp page.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	switch {
	case len(body) == 0:
		return true
	case len(body) < h.BodyLengthThreshold && scriptDensityHigh(body):
		return true
	}
	for _, marker := range mountMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements, tags included, cover
// at least minScriptPercent of body. An unterminated tag or element runs to
// the end of the body.
func scriptDensityHigh(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	covered := 0
	for rest := lower; ; {
		start := bytes.Index(rest, []byte("<script"))
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := len(rest)
		if _, after, ok := bytes.Cut(rest, []byte(">")); ok {
			if _, tail, closed := bytes.Cut(after, []byte("</script>")); closed {
				end = len(rest) - len(tail)
			}
		}
		covered += end
		rest = rest[end:]
	}
	return covered*100/len(body) >= minScriptPercent
}
