package ops

import (
	"context"
	"time"
)

// undoHandle runs the exec walk in exact mirror order. It refuses with
// ConflictError if this context is already undoing; undo is not
// re-entrant the way exec is, because undo has no hook-driven dynamic
// grafting of its own to request mid-walk.
func undoHandle[P any](ctx context.Context, h *Handle[P], numTries int, retryInterval time.Duration) ([]Outcome, error) {
	t := h.tmpl
	c := h.context()

	if c.undoing {
		return nil, &ConflictError{ExecID: c.execID}
	}
	c.undoing = true
	if numTries > 0 {
		c.numTries = numTries
	}
	if retryInterval > 0 {
		c.retryInterval = retryInterval
	}
	nt, ri := effective(c.numTries, c.retryInterval)

	t.emit(ctx, EventUndoStart, c, map[string]any{"num_tries": nt})

	// fail mirrors execHandle's: every step below folds its own outcome
	// into c.undoResults (via fireOne, a child's own result slice, or the
	// retry-exhaustion merge), so fail only stops the walk and wraps the
	// accumulated history — it never records anything itself.
	fail := func(err error) ([]Outcome, error) {
		c.undoing = false
		t.emit(ctx, EventUndoFail, c, map[string]any{"error": err.Error()})
		return c.undoResults, &UndoFailure{ExecID: c.execID, Results: c.undoResults}
	}

	t.emit(ctx, EventPhaseStart, c, map[string]any{"phase": "after"})

	// 1. postAfterUndoOnly, postAfterHook.
	if err := firePosition(ctx, t, c, h, undoWalk, PostAfterHook, PostAfterUndoOnlyHook); err != nil {
		return fail(err)
	}

	// 2. after-positioned during-child of the after-slot composite.
	if err := undoSlotChild(ctx, c.during.afterSlot, true, c, nt, ri); err != nil {
		return fail(err)
	}

	// 3. after child.
	if c.phases.AfterChildExecuted {
		t.emit(ctx, EventChildUndo, c, map[string]any{"slot": "after"})
		results, err := c.afterChild.Undo(ctx, nt, ri)
		c.undoResults = append(c.undoResults, results...)
		if err != nil {
			return fail(err)
		}
	}

	// 4. before-positioned during-child of the after-slot composite.
	if err := undoSlotChild(ctx, c.during.afterSlot, false, c, nt, ri); err != nil {
		return fail(err)
	}
	t.emit(ctx, EventPhaseComplete, c, map[string]any{"phase": "after"})

	t.emit(ctx, EventPhaseStart, c, map[string]any{"phase": "during"})

	// 5. preAfterUndoOnly, preAfterHook, postDuringUndoOnly, postDuringHook.
	if err := firePosition(ctx, t, c, h, undoWalk, PreAfterHook, PreAfterUndoOnlyHook); err != nil {
		return fail(err)
	}
	if err := firePosition(ctx, t, c, h, undoWalk, PostDuringHook, PostDuringUndoOnlyHook); err != nil {
		return fail(err)
	}

	// 6. after-positioned during-child of the during-slot composite.
	if err := undoSlotChild(ctx, c.during.duringSlot, true, c, nt, ri); err != nil {
		return fail(err)
	}

	// 7. undo retry loop for the user undo action, only if the exec
	// action ran and succeeded — no undo for work that never began.
	if c.phases.ExecFunctionExecuted && c.phases.ExecFunctionSucceeded {
		succeeded := false
		for i := 0; i < nt; i++ {
			c.phases.UndoFunctionAttempt = i

			value, actionErr := runAction(ctx, t.opts.Undo, c, h)
			t.emit(ctx, EventUndoAttempt, c, map[string]any{"attempt": i, "ok": actionErr == nil})
			if actionErr == nil {
				if t.opts.Undo != nil {
					c.opUndoResults = append(c.opUndoResults, Value(value))
				}
				succeeded = true
				break
			}
			c.opUndoResults = append(c.opUndoResults, Failure(actionErr))
			if i < nt-1 {
				if err := t.clk.Sleep(ctx, ri); err != nil {
					break
				}
			}
		}

		c.undoResults = append(c.undoResults, c.opUndoResults...)
		if !succeeded {
			return fail(&UndoFailure{ExecID: c.execID, Results: c.opUndoResults})
		}
		c.phases.UndoFunctionSucceeded = true
		t.emit(ctx, EventUndoSucceed, c, nil)
	}

	// 8. before-positioned during-child of the during-slot composite.
	if err := undoSlotChild(ctx, c.during.duringSlot, false, c, nt, ri); err != nil {
		return fail(err)
	}
	t.emit(ctx, EventPhaseComplete, c, map[string]any{"phase": "during"})

	t.emit(ctx, EventPhaseStart, c, map[string]any{"phase": "before"})

	// 9. preDuringUndoOnly, preDuringHook, postBeforeUndoOnly, postBeforeHook.
	if err := firePosition(ctx, t, c, h, undoWalk, PreDuringHook, PreDuringUndoOnlyHook); err != nil {
		return fail(err)
	}
	if err := firePosition(ctx, t, c, h, undoWalk, PostBeforeHook, PostBeforeUndoOnlyHook); err != nil {
		return fail(err)
	}

	// 10. after-positioned during-child of the before-slot composite.
	if err := undoSlotChild(ctx, c.during.beforeSlot, true, c, nt, ri); err != nil {
		return fail(err)
	}

	// 11. before child.
	if c.phases.BeforeChildExecuted {
		t.emit(ctx, EventChildUndo, c, map[string]any{"slot": "before"})
		results, err := c.beforeChild.Undo(ctx, nt, ri)
		c.undoResults = append(c.undoResults, results...)
		if err != nil {
			return fail(err)
		}
	}

	// 12. before-positioned during-child of the before-slot composite.
	if err := undoSlotChild(ctx, c.during.beforeSlot, false, c, nt, ri); err != nil {
		return fail(err)
	}

	// 13. preBeforeUndoOnly, preBeforeHook.
	if err := firePosition(ctx, t, c, h, undoWalk, PreBeforeHook, PreBeforeUndoOnlyHook); err != nil {
		return fail(err)
	}
	t.emit(ctx, EventPhaseComplete, c, map[string]any{"phase": "before"})

	c.undoing = false
	t.emit(ctx, EventUndoComplete, c, nil)
	return c.undoResults, nil
}

// undoSlotChild undoes the before- or after-positioned child of a
// during-slot composite, if the composite and that position's child both
// exist. wantAfter selects the composite's after-position (grafts
// attached once the related phase had already succeeded) versus its
// before-position (grafts attached while it was still pending) — the two
// positions within one composite are themselves undone in that order,
// after-position first, mirroring the order in which they ran.
func undoSlotChild[P any](ctx context.Context, composite *Handle[P], wantAfter bool, parent *Context[P], nt int, ri time.Duration) error {
	if composite == nil {
		return nil
	}
	cc := composite.context()

	var child *Handle[P]
	if wantAfter {
		child = cc.afterChild
	} else {
		child = cc.beforeChild
	}
	if child == nil {
		return nil
	}

	results, err := child.Undo(ctx, nt, ri)
	parent.undoResults = append(parent.undoResults, results...)
	return err
}
