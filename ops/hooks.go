package ops

import "context"

// HookKind names one of the fixed points in the phase sequence where a
// user-supplied hook may run. Positions come from the exec phase sequence
// (before, during, duringTry, after) crossed with the three
// specializations a hook can have: fires on both exec and undo walks
// ("Hook"), fires only during an exec walk ("ExecOnly"), or only during an
// undo walk ("UndoOnly"). duringTry has no UndoOnly variant: the undo walk
// has no per-try loop of its own to bracket. This is the HookKind-dispatched
// tagged variant called for in the design notes, replacing a dynamic option
// bag of twenty optionally-present named callbacks with one map keyed by an
// enum.
type HookKind int

const (
	PreBeforeHook HookKind = iota
	PreBeforeExecOnlyHook
	PreBeforeUndoOnlyHook

	PostBeforeHook
	PostBeforeExecOnlyHook
	PostBeforeUndoOnlyHook

	PreDuringHook
	PreDuringExecOnlyHook
	PreDuringUndoOnlyHook

	PreDuringTryHook
	PreDuringTryExecOnlyHook

	PostDuringTryHook
	PostDuringTryExecOnlyHook

	PostDuringHook
	PostDuringExecOnlyHook
	PostDuringUndoOnlyHook

	PreAfterHook
	PreAfterExecOnlyHook
	PreAfterUndoOnlyHook

	PostAfterHook
	PostAfterExecOnlyHook
	PostAfterUndoOnlyHook
)

var hookKindNames = map[HookKind]string{
	PreBeforeHook:             "preBefore",
	PreBeforeExecOnlyHook:     "preBeforeExecOnly",
	PreBeforeUndoOnlyHook:     "preBeforeUndoOnly",
	PostBeforeHook:            "postBefore",
	PostBeforeExecOnlyHook:    "postBeforeExecOnly",
	PostBeforeUndoOnlyHook:    "postBeforeUndoOnly",
	PreDuringHook:             "preDuring",
	PreDuringExecOnlyHook:     "preDuringExecOnly",
	PreDuringUndoOnlyHook:     "preDuringUndoOnly",
	PreDuringTryHook:          "preDuringTry",
	PreDuringTryExecOnlyHook:  "preDuringTryExecOnly",
	PostDuringTryHook:         "postDuringTry",
	PostDuringTryExecOnlyHook: "postDuringTryExecOnly",
	PostDuringHook:            "postDuring",
	PostDuringExecOnlyHook:    "postDuringExecOnly",
	PostDuringUndoOnlyHook:    "postDuringUndoOnly",
	PreAfterHook:              "preAfter",
	PreAfterExecOnlyHook:      "preAfterExecOnly",
	PreAfterUndoOnlyHook:      "preAfterUndoOnly",
	PostAfterHook:             "postAfter",
	PostAfterExecOnlyHook:     "postAfterExecOnly",
	PostAfterUndoOnlyHook:     "postAfterUndoOnly",
}

func (k HookKind) String() string {
	if name, ok := hookKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// HookFunc is a user-supplied lifecycle callback. It receives the same
// triple every exec/undo invocation does: the caller's parameter tuple,
// the live context, and the handle a hook can call AddChild/Exec on to
// request a dynamic graft. A non-nil returned value is appended to the
// walk's result sequence alongside exec/undo outcomes.
type HookFunc[P any] func(ctx context.Context, params P, c *Context[P], h *Handle[P]) (any, error)

// Hooks is the full optional hook map for a Template. Every entry is
// optional; a Template with an empty Hooks behaves as if no hooks were
// ever configured.
type Hooks[P any] map[HookKind]HookFunc[P]

// walk distinguishes which specialization fires alongside the
// both-directions "Hook" variant at a given position.
type walk int

const (
	execWalk walk = iota
	undoWalk
)

// firePosition runs the shared Hook and the walk-specific *OnlyHook for one
// position: shared first on the exec walk, specialized first on the undo
// walk (e.g. "preBefore, preBeforeExecOnly" during exec,
// "postAfterUndoOnly, postAfterHook" during undo — the shared Hook always
// adjacent to its specialized sibling). Results append to the
// walk-appropriate sequence; the first hook error aborts the remaining
// one and is returned.
func firePosition[P any](ctx context.Context, tmpl *Template[P], c *Context[P], h *Handle[P], w walk, shared, only HookKind) error {
	kinds := [2]HookKind{shared, only}
	if w == undoWalk {
		kinds = [2]HookKind{only, shared}
	}

	for _, kind := range kinds {
		if err := fireOne(ctx, tmpl, c, h, w, kind); err != nil {
			return err
		}
	}
	return nil
}

// fireOne invokes one hook and folds its return into the walk's result
// sequence. A hook that returns a []Outcome (a fan-out composite's hook,
// for instance) has that slice spread element by element rather than
// nested as one Outcome whose value is itself a slice — this is what lets
// callers pull individual child outcomes back out with Get() instead of
// type-asserting a slice out of a single wrapped Outcome. A hook that
// fails without a []Outcome breakdown of its own gets a single Failure
// outcome recording the error; a hook that fails but did return a
// []Outcome is trusted to have already represented its own failure within
// that slice, so no redundant marker is appended on top.
func fireOne[P any](ctx context.Context, tmpl *Template[P], c *Context[P], h *Handle[P], w walk, kind HookKind) error {
	fn, ok := tmpl.opts.Hooks[kind]
	if !ok {
		tmpl.emit(ctx, EventHookSkip, c, map[string]any{"hook": kind.String()})
		return nil
	}

	tmpl.emit(ctx, EventHookFire, c, map[string]any{"hook": kind.String()})
	v, err := fn(ctx, c.params, c, h)

	outcomes, isBreakdown := v.([]Outcome)
	switch {
	case isBreakdown:
		if w == execWalk {
			c.execResults = append(c.execResults, outcomes...)
		} else {
			c.undoResults = append(c.undoResults, outcomes...)
		}
	case err != nil:
		outcome := Failure(err)
		if w == execWalk {
			c.execResults = append(c.execResults, outcome)
		} else {
			c.undoResults = append(c.undoResults, outcome)
		}
	case v != nil:
		outcome := Value(v)
		if w == execWalk {
			c.execResults = append(c.execResults, outcome)
		} else {
			c.undoResults = append(c.undoResults, outcome)
		}
	}

	return err
}
