package collyfetcher

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsAwareTransport treats an unreachable robots.txt as allow-all, so a
// flaky robots endpoint skips the check instead of failing every page on the
// host.
type robotsAwareTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if !isRobotsTxtRequest(req) {
		return nil, fmt.Errorf("roundtrip %s: %w", req.URL, err)
	}
	if t.logger != nil {
		t.logger.Warn("robots.txt unreachable; allowing all", zap.String("host", req.URL.Host), zap.Error(err))
	}
	return syntheticAllowAll(req), nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func syntheticAllowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}
