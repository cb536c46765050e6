package crawler

import (
	"context"
	"sync"
)

// pool runs tasks on a fixed set of goroutines fed by an unbounded FIFO
// queue. submit never blocks, so a task may fork even when every worker is
// busy, including with a single worker.
type pool struct {
	size int

	mu     sync.Mutex
	queue  []*task
	wake   chan struct{}
	quit   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

func newPool(size int) *pool {
	if size < 1 {
		size = 1
	}
	return &pool{
		size: size,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (p *pool) start(ctx context.Context) {
	for range p.size {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

// submit enqueues t. The pool mutex orders the enqueue before the dequeue, so
// everything the forking task wrote is visible to the worker.
func (p *pool) submit(t *task) {
	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pool) next() (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	t := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if len(p.queue) > 0 {
		// Pass the signal on so an idle peer picks up the rest.
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return t, true
}

func (p *pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		if t, ok := p.next(); ok {
			t.execute(ctx)
			continue
		}
		select {
		case <-p.wake:
		case <-p.quit:
			return
		}
	}
}

// stop releases the workers and waits for them. Run calls it after the join,
// when the queue is already empty.
func (p *pool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.quit)
	p.wg.Wait()
}
