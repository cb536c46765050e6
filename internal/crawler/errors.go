package crawler

import "errors"

var (
	// ErrAbort is returned by Handler.Parse to stop the whole run. Tasks finish
	// their current merge and start no further rounds or forks.
	ErrAbort = errors.New("crawl aborted by handler")
	// ErrInvalidConfig wraps configuration problems reported by New.
	ErrInvalidConfig = errors.New("invalid crawler config")
	// ErrNoHandler is returned by Run when the handler is nil.
	ErrNoHandler = errors.New("handler is required")
	// ErrNoTargets is returned by Run when no target URL is given.
	ErrNoTargets = errors.New("at least one target is required")
	// ErrHandlerMismatch is returned by Handler.Merge when src is not the
	// receiver's concrete type.
	ErrHandlerMismatch = errors.New("handler type mismatch")
)
