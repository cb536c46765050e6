package crawler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forkcrawl/internal/progress"
)

type taskRole uint8

const (
	roleRoot taskRole = iota
	roleWorker
)

func (r taskRole) String() string {
	if r == roleRoot {
		return "root"
	}
	return "worker"
}

// rootHandle guards the handler passed to Run. Every task merges into it.
type rootHandle struct {
	mu      sync.Mutex
	handler Handler
}

func (r *rootHandle) merge(src Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler.Merge(src)
}

// task owns a frontier and a private handler clone. The root task covers the
// submitted targets; worker tasks cover delegated batches.
type task struct {
	id       int64
	role     taskRole
	exec     *execution
	handler  Handler
	frontier []string
	logger   *zap.Logger
}

// execute runs rounds until the task is done, then releases its join
// reference. The release happens even if a round panics.
func (t *task) execute(ctx context.Context) {
	start := time.Now()
	defer t.finish(start)
	for round := 1; t.round(ctx, round); round++ {
	}
}

func (t *task) finish(start time.Time) {
	if r := recover(); r != nil {
		t.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
	}
	t.frontier = nil
	t.handler = nil
	t.logger.Debug("task done", zap.Duration("dur", time.Since(start)))
	// Emit before releasing so the event precedes RUN_DONE.
	t.exec.emit(progress.Event{
		Stage:       progress.StageTaskDone,
		TaskID:      t.id,
		Outstanding: max(t.exec.state.Outstanding()-1, 0),
		Dur:         time.Since(start),
	})
	t.exec.state.Release()
}

// round runs one split, reserve, fork, parse and merge cycle. It reports
// whether another round should follow.
func (t *task) round(ctx context.Context, n int) bool {
	state := t.exec.state
	if state.Aborted() || state.Exhausted() || len(t.frontier) == 0 {
		return false
	}

	retained, delegated := t.split()
	granted := state.Reserve(len(retained))
	if granted == 0 {
		return false
	}
	retained = retained[:granted]

	if len(delegated) > 0 && !state.Aborted() {
		t.fork(delegated)
	}

	started := time.Now()
	discovered, err := t.handler.Parse(ctx, retained)
	aborted := errors.Is(err, ErrAbort)
	switch {
	case aborted:
		discovered = nil
		if state.Abort() {
			t.logger.Info("run aborted by handler", zap.Int("round", n))
			t.exec.emit(progress.Event{Stage: progress.StageAbort, TaskID: t.id})
		}
	case err != nil:
		t.logger.Warn("round ended early", zap.Int("round", n), zap.Int("batch", len(retained)), zap.Error(err))
	}
	t.exec.emit(progress.Event{
		Stage:  progress.StageRoundDone,
		TaskID: t.id,
		Items:  int64(len(retained)),
		Dur:    time.Since(started),
	})
	t.logger.Debug("round parsed",
		zap.Int("round", n),
		zap.Int("batch", len(retained)),
		zap.Int("discovered", len(discovered)),
	)

	if !t.merge() || aborted {
		return false
	}
	// Unbounded runs stop after the submitted batch.
	if len(discovered) == 0 || !state.Bounded() {
		return false
	}
	fresh, err := t.handler.Clone()
	if err != nil {
		t.logger.Error("clone for next round failed", zap.Error(err))
		return false
	}
	t.handler = fresh
	t.frontier = discovered
	return true
}

// split cuts the frontier at the chunk size. The delegated part is copied so
// the child owns its slice outright.
func (t *task) split() (retained, delegated []string) {
	chunk := t.exec.cfg.ChunkSize
	if !t.exec.cfg.Forking() || len(t.frontier) <= chunk {
		return t.frontier, nil
	}
	return t.frontier[:chunk:chunk], slices.Clone(t.frontier[chunk:])
}

// fork hands delegated to a new worker. A clone failure drops the batch and
// leaves this task running.
func (t *task) fork(delegated []string) {
	clone, err := t.handler.Clone()
	if err != nil {
		t.logger.Error("clone for fork failed; dropping delegated batch",
			zap.Int("batch", len(delegated)), zap.Error(err))
		return
	}
	child := t.exec.newTask(roleWorker, clone, delegated)
	outstanding := t.exec.state.Acquire()
	t.exec.state.forks.Add(1)
	t.logger.Debug("forked worker", zap.Int64("child_id", child.id), zap.Int("batch", len(delegated)))
	t.exec.emit(progress.Event{
		Stage:       progress.StageFork,
		TaskID:      t.id,
		Items:       int64(len(delegated)),
		Outstanding: outstanding,
	})
	t.exec.pool.submit(child)
}

// merge folds this round's results into the root handler. The next round
// starts from a fresh clone, so no result is merged twice.
func (t *task) merge() bool {
	if err := t.exec.root.merge(t.handler); err != nil {
		t.logger.Error("merge into root handler failed", zap.Error(err))
		return false
	}
	t.exec.state.merges.Add(1)
	t.exec.emit(progress.Event{Stage: progress.StageMerge, TaskID: t.id})
	return true
}
