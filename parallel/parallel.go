// Package parallel provides the built-in composite template whose
// exec/undo fan a caller-supplied slice of handles out concurrently
// instead of the ternary before/self/after sequencing the rest of the
// engine uses. It is adapted from
// orchestrate/workflows.ProcessParallel: the same indexedItem/
// indexedResult channel shape, the same calculateWorkerCount
// auto-sizing, and the same ordered-result reassembly — but hardcoded to
// never fail-fast, since every child must run regardless of individual
// failures (the source's FailFast branch would cancel siblings on the
// first error, which this engine's contract forbids).
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/ajpauwels/aspen/clock"
	"github.com/ajpauwels/aspen/config"
	"github.com/ajpauwels/aspen/idgen"
	"github.com/ajpauwels/aspen/ops"
)

// New returns an ops.ParallelFactory bound to the given configuration and
// collaborators. Pass the result as Options[P].ParallelFactory when
// building a Template so AddChild can wrap a slice of handles into a
// parallel composite (the noParallel=false branch).
func New[P any](cfg config.ParallelConfig, ids idgen.Source, clk clock.Clock) ops.ParallelFactory[P] {
	return func(children []*ops.Handle[P]) *ops.Handle[P] {
		tmpl := ops.New[P](
			config.EngineConfig{Observer: cfg.Observer, DefaultNumTries: 1, DefaultRetryIntervalMS: 1000},
			ids,
			clk,
			ops.Options[P]{
				Hooks: ops.Hooks[P]{
					ops.PreDuringExecOnlyHook: fanOutHook(cfg, children, (*ops.Handle[P]).Exec, execDirection),
					ops.PreDuringUndoOnlyHook: fanOutHook(cfg, children, (*ops.Handle[P]).Undo, undoDirection),
				},
			},
		)

		var zero P
		return tmpl.Create(zero)
	}
}

// walkFunc is either (*ops.Handle[P]).Exec or (*ops.Handle[P]).Undo —
// both share the (ctx, numTries, retryInterval) -> ([]Outcome, error)
// shape, so the fan-out logic below is written once and reused for both
// directions.
type walkFunc[P any] func(h *ops.Handle[P], ctx context.Context, numTries int, retryInterval time.Duration) ([]ops.Outcome, error)

// direction picks which failure type a fanOutHook raises, since the same
// fan-out logic backs both PreDuringExecOnlyHook and
// PreDuringUndoOnlyHook.
type direction int

const (
	execDirection direction = iota
	undoDirection
)

// fanOutHook builds the HookFunc registered for either
// PreDuringExecOnlyHook or PreDuringUndoOnlyHook: it runs walk on every
// child concurrently over a worker pool sized the way
// calculateWorkerCount does, waits for all of them regardless of
// individual failures, and returns the concatenation of every child's
// results in original order. The []ops.Outcome is always returned, even
// on failure, so ops.fireOne can spread every child's outcome into the
// walk's result sequence instead of losing the per-child breakdown. If
// any child failed, the returned error is an *ops.ExecFailure (for the
// exec direction) or *ops.UndoFailure (for the undo direction) carrying
// that same concatenation, so a caller inspecting the raised error sees
// every child's outcome, not just the first failure.
func fanOutHook[P any](cfg config.ParallelConfig, children []*ops.Handle[P], walk walkFunc[P], dir direction) ops.HookFunc[P] {
	return func(ctx context.Context, params P, c *ops.Context[P], h *ops.Handle[P]) (any, error) {
		results, failed := runFanOut(ctx, cfg, children, c.NumTries(), c.RetryInterval(), walk)
		if !failed {
			return results, nil
		}
		if dir == undoDirection {
			return results, &ops.UndoFailure{ExecID: c.ExecID(), Results: results}
		}
		return results, &ops.ExecFailure{ExecID: c.ExecID(), Results: results}
	}
}

type indexedItem[P any] struct {
	index int
	child *ops.Handle[P]
}

type indexedResult struct {
	index   int
	results []ops.Outcome
	err     error
}

// runFanOut distributes children over a worker pool and returns every
// child's results concatenated in original order, plus whether any child
// failed. It never short-circuits: a failing child does not stop or
// cancel its siblings.
func runFanOut[P any](ctx context.Context, cfg config.ParallelConfig, children []*ops.Handle[P], numTries int, retryInterval time.Duration, walk walkFunc[P]) ([]ops.Outcome, bool) {
	if len(children) == 0 {
		return nil, false
	}

	workerCount := calculateWorkerCount(cfg.MaxWorkers, cfg.WorkerCap, len(children))

	workQueue := make(chan indexedItem[P], len(children))
	resultChannel := make(chan indexedResult, len(children))

	var wg sync.WaitGroup
	for range workerCount {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workQueue {
				results, err := walk(work.child, ctx, numTries, retryInterval)
				resultChannel <- indexedResult{index: work.index, results: results, err: err}
			}
		}()
	}

	for i, child := range children {
		workQueue <- indexedItem[P]{index: i, child: child}
	}
	close(workQueue)

	wg.Wait()
	close(resultChannel)

	ordered := make([][]ops.Outcome, len(children))
	failed := false
	for r := range resultChannel {
		ordered[r.index] = r.results
		if r.err != nil {
			failed = true
		}
	}

	var out []ops.Outcome
	for _, results := range ordered {
		out = append(out, results...)
	}
	return out, failed
}

// calculateWorkerCount mirrors the source auto-sizing: an explicit
// MaxWorkers wins outright, otherwise NumCPU*2 capped by WorkerCap and by
// the item count, with a floor of 1.
func calculateWorkerCount(maxWorkers, workerCap, itemCount int) int {
	if maxWorkers > 0 {
		return maxWorkers
	}

	workers := min(min(runtime.NumCPU()*2, workerCap), itemCount)
	if workers <= 0 {
		workers = 1
	}
	return workers
}
