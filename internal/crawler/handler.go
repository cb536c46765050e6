package crawler

import "context"

// Handler is the application half of a crawl. The engine clones it once per
// task, calls Parse with disjoint batches and folds every clone back into the
// handler passed to Run.
//
// Configuration (filters, fetchers, limits) may be shared by reference across
// clones. Accumulated results must not be: Clone returns the same
// configuration with empty accumulators.
type Handler interface {
	// Parse visits every URL in batch and returns the links discovered on
	// them. Returning ErrAbort stops the run. Any other error ends the round
	// early; the returned links are still followed. Parse is never called
	// concurrently on one instance.
	Parse(ctx context.Context, batch []string) ([]string, error)
	// Clone returns a handler with the same configuration and empty results.
	Clone() (Handler, error)
	// Merge folds the results of src into the receiver. Merging is order
	// independent and merging an empty clone leaves the receiver unchanged.
	// A src of another concrete type yields ErrHandlerMismatch.
	Merge(src Handler) error
}
