package crawler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/forkcrawl/internal/progress"
)

// Stats summarises a finished run.
type Stats struct {
	RunID    uuid.UUID     `json:"run_id"`
	Visited  int           `json:"visited"`
	Forks    int           `json:"forks"`
	Merges   int           `json:"merges"`
	Aborted  bool          `json:"aborted"`
	Duration time.Duration `json:"duration_ns"`
}

// Engine schedules crawl runs. Runs on one Engine are serialised; the
// accessors report on the most recent run.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	emitter progress.Emitter

	runMu   sync.Mutex
	running atomic.Bool
	state   atomic.Pointer[RunState]
	root    atomic.Pointer[rootHandle]
}

// Snapshot is a point-in-time view of the most recent run.
type Snapshot struct {
	RunID       uuid.UUID `json:"run_id"`
	Running     bool      `json:"running"`
	Visited     int       `json:"visited"`
	Budget      int       `json:"budget"`
	Forks       int       `json:"forks"`
	Merges      int       `json:"merges"`
	Outstanding int64     `json:"outstanding"`
	Aborted     bool      `json:"aborted"`
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for run and task diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter publishes progress events for every run.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// New validates cfg and returns an Engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg.normalized(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run crawls targets with h and blocks until every task has merged and
// finished. Results are read from h afterwards. Cancelling ctx aborts the run
// the same way a handler abort does; the returned error then wraps ctx.Err().
func (e *Engine) Run(ctx context.Context, h Handler, targets ...string) (Stats, error) {
	if h == nil {
		return Stats{}, ErrNoHandler
	}
	if len(targets) == 0 {
		return Stats{}, ErrNoTargets
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return Stats{}, fmt.Errorf("generate run id: %w", err)
	}
	working, err := h.Clone()
	if err != nil {
		return Stats{}, fmt.Errorf("clone root handler: %w", err)
	}

	state := NewRunState(id, e.cfg.Budget)
	root := &rootHandle{handler: h}
	e.state.Store(state)
	e.root.Store(root)
	e.running.Store(true)
	defer e.running.Store(false)

	logger := e.logger.With(zap.Stringer("run_id", id))
	exec := &execution{
		cfg:     e.cfg,
		state:   state,
		root:    root,
		pool:    newPool(e.cfg.Concurrency),
		logger:  logger,
		emitter: e.emitter,
	}

	logger.Info("run starting",
		zap.Int("targets", len(targets)),
		zap.Int("chunk_size", e.cfg.ChunkSize),
		zap.Int("budget", e.cfg.Budget),
		zap.Int("concurrency", e.cfg.Concurrency),
	)
	start := time.Now()

	// The root's reference keeps the counter above zero while it can fork.
	state.Acquire()
	exec.emit(progress.Event{Stage: progress.StageRunStart, Outstanding: 1})
	exec.pool.start(ctx)
	exec.pool.submit(exec.newTask(roleRoot, working, slices.Clone(targets)))

	abortOnDone := func() {
		if state.Abort() {
			logger.Warn("context done; aborting run", zap.Error(context.Cause(ctx)))
			exec.emit(progress.Event{Stage: progress.StageAbort, Note: "context done"})
		}
	}
	stop := context.AfterFunc(ctx, abortOnDone)
	<-state.Joined()
	stop()
	if ctx.Err() != nil {
		// The run may join before the callback gets to run.
		abortOnDone()
	}
	exec.pool.stop()

	stats := Stats{
		RunID:    id,
		Visited:  state.Visited(),
		Forks:    state.Forks(),
		Merges:   state.Merges(),
		Aborted:  state.Aborted(),
		Duration: time.Since(start),
	}
	exec.emit(progress.Event{Stage: progress.StageRunDone, Dur: stats.Duration})
	logger.Info("run finished",
		zap.Int("visited", stats.Visited),
		zap.Int("forks", stats.Forks),
		zap.Int("merges", stats.Merges),
		zap.Bool("aborted", stats.Aborted),
		zap.Duration("duration", stats.Duration),
	)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("run %s: %w", id, err)
	}
	return stats, nil
}

// VisitedCount returns the visited counter of the most recent run.
func (e *Engine) VisitedCount() int {
	if s := e.state.Load(); s != nil {
		return s.Visited()
	}
	return 0
}

// Forks returns how many workers the most recent run forked.
func (e *Engine) Forks() int {
	if s := e.state.Load(); s != nil {
		return s.Forks()
	}
	return 0
}

// Snapshot reports the counters of the most recent run. The zero Snapshot
// means no run has started yet.
func (e *Engine) Snapshot() Snapshot {
	s := e.state.Load()
	if s == nil {
		return Snapshot{Budget: e.cfg.Budget}
	}
	return Snapshot{
		RunID:       s.ID(),
		Running:     e.running.Load(),
		Visited:     s.Visited(),
		Budget:      s.Budget(),
		Forks:       s.Forks(),
		Merges:      s.Merges(),
		Outstanding: max(s.Outstanding(), 0),
		Aborted:     s.Aborted(),
	}
}

// Handler returns the root handler of the most recent run, or nil.
func (e *Engine) Handler() Handler {
	if r := e.root.Load(); r != nil {
		return r.handler
	}
	return nil
}

// ChunkSize returns the configured chunk size; zero means no forking.
func (e *Engine) ChunkSize() int { return e.cfg.ChunkSize }

// Budget returns the configured budget; zero means unbounded.
func (e *Engine) Budget() int { return e.cfg.Budget }

// Concurrency returns the worker pool size.
func (e *Engine) Concurrency() int { return e.cfg.Concurrency }

// execution is the per-run context shared by every task.
type execution struct {
	cfg     Config
	state   *RunState
	root    *rootHandle
	pool    *pool
	logger  *zap.Logger
	emitter progress.Emitter
	nextID  atomic.Int64
}

func (x *execution) newTask(role taskRole, h Handler, frontier []string) *task {
	id := x.nextID.Add(1)
	return &task{
		id:       id,
		role:     role,
		exec:     x,
		handler:  h,
		frontier: frontier,
		logger:   x.logger.With(zap.Int64("task_id", id), zap.Stringer("role", role)),
	}
}

// emit stamps evt with the run and the current counters, then publishes it.
func (x *execution) emit(evt progress.Event) {
	if x.emitter == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(x.state.ID())
	evt.TS = time.Now().UTC()
	evt.Visited = int64(x.state.Visited())
	switch evt.Stage {
	case progress.StageTaskDone, progress.StageRunDone:
	default:
		if evt.Outstanding == 0 {
			evt.Outstanding = max(x.state.Outstanding(), 0)
		}
	}
	x.emitter.Emit(evt)
}
