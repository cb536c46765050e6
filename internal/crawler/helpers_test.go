package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// recorder is shared by every clone of a graphHandler so tests can inspect
// what the engine handed out.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
	parsed  map[string]int
}

func newRecorder() *recorder {
	return &recorder{parsed: make(map[string]int)}
}

func (r *recorder) record(batch []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), batch...))
	for _, u := range batch {
		r.parsed[u]++
	}
}

func (r *recorder) Batches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func (r *recorder) Parsed() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.parsed))
	for k, v := range r.parsed {
		out[k] = v
	}
	return out
}

// graphHandler follows a static link graph and accumulates the set of URLs it
// parsed.
type graphHandler struct {
	graph   map[string][]string
	rec     *recorder
	abortOn string
	delay   time.Duration
	onParse func(url string)

	seen map[string]struct{}
}

func newGraphHandler(graph map[string][]string) *graphHandler {
	return &graphHandler{graph: graph, rec: newRecorder(), seen: make(map[string]struct{})}
}

func (h *graphHandler) Parse(_ context.Context, batch []string) ([]string, error) {
	h.rec.record(batch)
	var out []string
	for _, u := range batch {
		if h.delay > 0 {
			time.Sleep(h.delay)
		}
		if h.onParse != nil {
			h.onParse(u)
		}
		h.seen[u] = struct{}{}
		if u == h.abortOn {
			return nil, ErrAbort
		}
		out = append(out, h.graph[u]...)
	}
	return out, nil
}

func (h *graphHandler) Clone() (Handler, error) {
	clone := *h
	clone.seen = make(map[string]struct{})
	return &clone, nil
}

func (h *graphHandler) Merge(src Handler) error {
	other, ok := src.(*graphHandler)
	if !ok {
		return fmt.Errorf("%w: %T", ErrHandlerMismatch, src)
	}
	for u := range other.seen {
		h.seen[u] = struct{}{}
	}
	return nil
}

func (h *graphHandler) Seen() []string {
	out := make([]string, 0, len(h.seen))
	for u := range h.seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// flakyCloneHandler fails every Clone after the first okClones.
type flakyCloneHandler struct {
	*graphHandler
	clones   *atomic.Int64
	okClones int64
}

func (h *flakyCloneHandler) Clone() (Handler, error) {
	if h.clones.Add(1) > h.okClones {
		return nil, errors.New("clone refused")
	}
	inner, err := h.graphHandler.Clone()
	if err != nil {
		return nil, err
	}
	return &flakyCloneHandler{graphHandler: inner.(*graphHandler), clones: h.clones, okClones: h.okClones}, nil
}

func (h *flakyCloneHandler) Merge(src Handler) error {
	other, ok := src.(*flakyCloneHandler)
	if !ok {
		return fmt.Errorf("%w: %T", ErrHandlerMismatch, src)
	}
	return h.graphHandler.Merge(other.graphHandler)
}

// strangerHandler clones into a type its Merge refuses.
type strangerHandler struct {
	*graphHandler
}

func (h *strangerHandler) Clone() (Handler, error) {
	return h.graphHandler.Clone()
}

func (h *strangerHandler) Merge(src Handler) error {
	if _, ok := src.(*strangerHandler); !ok {
		return fmt.Errorf("%w: %T", ErrHandlerMismatch, src)
	}
	return nil
}

// panicHandler panics on every Parse.
type panicHandler struct{}

func (panicHandler) Parse(context.Context, []string) ([]string, error) { panic("boom") }
func (panicHandler) Clone() (Handler, error)                           { return panicHandler{}, nil }
func (panicHandler) Merge(Handler) error                               { return nil }

func urls(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.test/%s/%d", prefix, i)
	}
	return out
}

// tree builds a graph where every node links to fanout children, depth
// levels deep.
func tree(root string, fanout, depth int) map[string][]string {
	graph := make(map[string][]string)
	level := []string{root}
	for range depth {
		var next []string
		for _, parent := range level {
			for i := range fanout {
				child := fmt.Sprintf("%s/%d", parent, i)
				graph[parent] = append(graph[parent], child)
				next = append(next, child)
			}
		}
		level = next
	}
	return graph
}

// chain builds a graph where page i links to page i+1.
func chain(n int) map[string][]string {
	graph := make(map[string][]string, n)
	for i := range n {
		graph[fmt.Sprintf("https://example.test/p%d", i)] = []string{fmt.Sprintf("https://example.test/p%d", i+1)}
	}
	return graph
}
