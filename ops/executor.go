package ops

import (
	"context"
	"fmt"
	"time"
)

// execHandle runs the full before/self/after phase sequence for a single
// handle. A context already executing means this call is itself the
// re-entrant graft request a hook issues by calling handle.Exec on the
// handle it was invoked with — the split between top-level exec and
// internal pending-child drain is a runtime check rather than two call
// sites, since a hook has no other handle to call. A context already
// undoing cannot be executed.
func execHandle[P any](ctx context.Context, h *Handle[P], numTries int, retryInterval time.Duration) ([]Outcome, error) {
	t := h.tmpl
	c := h.context()

	if c.executing {
		return graftPending(ctx, t, c)
	}
	if c.undoing {
		return nil, &ConflictError{ExecID: c.execID}
	}

	if c.phases.CompletedAfterChild || c.phases.CompletedExecFunction || c.phases.CompletedBeforeChild {
		c.reset()
	}

	c.executing = true
	if numTries > 0 {
		c.numTries = numTries
	}
	if retryInterval > 0 {
		c.retryInterval = retryInterval
	}
	nt, ri := effective(c.numTries, c.retryInterval)

	t.emit(ctx, EventExecStart, c, map[string]any{"num_tries": nt})

	// fail is called with an error that has already been folded into
	// c.execResults by whichever step raised it — a failing hook via
	// fireOne, a failing child via its own result slice, or the retry
	// loop exhaustion case just below, which merges c.opResults in
	// immediately before calling fail. So fail itself records nothing
	// further; it only stops the walk and wraps the accumulated history.
	fail := func(err error) ([]Outcome, error) {
		c.executing = false
		t.emit(ctx, EventExecFail, c, map[string]any{"error": err.Error()})
		return c.execResults, &ExecFailure{ExecID: c.execID, Results: c.execResults}
	}

	checkpoint := func() error {
		if c.pendingDuringChild == nil {
			return nil
		}
		_, err := graftPending(ctx, t, c)
		return err
	}

	t.emit(ctx, EventPhaseStart, c, map[string]any{"phase": "before"})

	// 1. before-slot leading hooks.
	if err := firePosition(ctx, t, c, h, execWalk, PreBeforeHook, PreBeforeExecOnlyHook); err != nil {
		return fail(err)
	}
	if err := checkpoint(); err != nil {
		return fail(err)
	}

	// 2. before child.
	if c.beforeChild != nil {
		c.phases.BeforeChildExecuted = true
		t.emit(ctx, EventChildExec, c, map[string]any{"slot": "before"})
		results, err := c.beforeChild.Exec(ctx, nt, ri)
		c.execResults = append(c.execResults, results...)
		if err != nil {
			return fail(err)
		}
		c.phases.BeforeChildSucceeded = true
	}

	// 3. before-slot trailing hooks.
	if err := firePosition(ctx, t, c, h, execWalk, PostBeforeHook, PostBeforeExecOnlyHook); err != nil {
		return fail(err)
	}
	c.phases.CompletedBeforeChild = true
	if err := checkpoint(); err != nil {
		return fail(err)
	}
	t.emit(ctx, EventPhaseComplete, c, map[string]any{"phase": "before"})

	t.emit(ctx, EventPhaseStart, c, map[string]any{"phase": "during"})

	// 4. during-slot leading hooks.
	if err := firePosition(ctx, t, c, h, execWalk, PreDuringHook, PreDuringExecOnlyHook); err != nil {
		return fail(err)
	}
	if err := checkpoint(); err != nil {
		return fail(err)
	}

	// 5. retry loop around the user exec action. During-children grafted
	// by the leading during-slot hooks (step 4, before the loop starts)
	// are left alone here — only a previous attempt's own grafts are
	// cleared before the next attempt begins, so a graft made once
	// ahead of the loop survives to undo regardless of how many retries
	// follow.
	c.phases.ExecFunctionExecuted = true
	for i := 0; i < nt; i++ {
		if i > 0 {
			c.during = duringSlots[P]{}
		}
		c.phases.ExecFunctionAttempt = i

		if err := firePosition(ctx, t, c, h, execWalk, PreDuringTryHook, PreDuringTryExecOnlyHook); err != nil {
			return fail(err)
		}
		if err := checkpoint(); err != nil {
			return fail(err)
		}

		value, actionErr := runAction(ctx, t.opts.Exec, c, h)
		t.emit(ctx, EventExecAttempt, c, map[string]any{"attempt": i, "ok": actionErr == nil})
		if actionErr == nil {
			// A Template with no Exec configured (the parallel composite,
			// for instance) still counts as
			// succeeding so the walk proceeds, but records nothing of its
			// own — its result sequence is whatever its hooks and children
			// contributed.
			if t.opts.Exec != nil {
				c.opResults = append(c.opResults, Value(value))
			}
			c.phases.ExecFunctionSucceeded = true
		} else {
			c.opResults = append(c.opResults, Failure(actionErr))
		}

		// The trailing per-try hook fires on every attempt, success
		// included — it never short-circuits on the attempt that
		// finally succeeds.
		if err := firePosition(ctx, t, c, h, execWalk, PostDuringTryHook, PostDuringTryExecOnlyHook); err != nil {
			return fail(err)
		}
		if err := checkpoint(); err != nil {
			return fail(err)
		}

		if c.phases.ExecFunctionSucceeded {
			break
		}
		if i < nt-1 {
			t.emit(ctx, EventRetry, c, map[string]any{"attempt": i})
			if err := t.clk.Sleep(ctx, ri); err != nil {
				break
			}
		}
	}

	c.execResults = append(c.execResults, c.opResults...)
	if !c.phases.ExecFunctionSucceeded {
		return fail(&ExecFailure{ExecID: c.execID, Results: c.opResults})
	}
	t.emit(ctx, EventExecSucceed, c, nil)

	// 7. during-slot trailing hooks.
	if err := firePosition(ctx, t, c, h, execWalk, PostDuringHook, PostDuringExecOnlyHook); err != nil {
		return fail(err)
	}
	c.phases.CompletedExecFunction = true
	if err := checkpoint(); err != nil {
		return fail(err)
	}
	t.emit(ctx, EventPhaseComplete, c, map[string]any{"phase": "during"})

	t.emit(ctx, EventPhaseStart, c, map[string]any{"phase": "after"})

	// 8. after-slot leading hooks.
	if err := firePosition(ctx, t, c, h, execWalk, PreAfterHook, PreAfterExecOnlyHook); err != nil {
		return fail(err)
	}
	if err := checkpoint(); err != nil {
		return fail(err)
	}

	// 9. after child.
	if c.afterChild != nil {
		c.phases.AfterChildExecuted = true
		t.emit(ctx, EventChildExec, c, map[string]any{"slot": "after"})
		results, err := c.afterChild.Exec(ctx, nt, ri)
		c.execResults = append(c.execResults, results...)
		if err != nil {
			return fail(err)
		}
		c.phases.AfterChildSucceeded = true
	}

	// 10. after-slot trailing hooks.
	if err := firePosition(ctx, t, c, h, execWalk, PostAfterHook, PostAfterExecOnlyHook); err != nil {
		return fail(err)
	}
	c.phases.CompletedAfterChild = true
	t.emit(ctx, EventPhaseComplete, c, map[string]any{"phase": "after"})
	c.executing = false
	t.emit(ctx, EventExecComplete, c, nil)
	return c.execResults, nil
}

func effective(numTries int, retryInterval time.Duration) (int, time.Duration) {
	if numTries <= 0 {
		numTries = 1
	}
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	return numTries, retryInterval
}

// runAction invokes a user action within a failure-isolating boundary: a
// panic is converted into an error outcome rather than unwinding the
// executor, since one misbehaving user callback must not corrupt an
// in-flight tree walk for sibling subtrees.
func runAction[P any](ctx context.Context, action ActionFunc[P], c *Context[P], h *Handle[P]) (value any, err error) {
	if action == nil {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()

	return action(ctx, c.params, c, h)
}
