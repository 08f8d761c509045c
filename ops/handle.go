package ops

import (
	"context"
	"time"
)

// Handle is a live view onto one Context, bound by execution id. It is
// the public API surface; all mutable tree state
// lives on the Context it addresses, looked up fresh on every call so a
// Handle stays a cheap, copyable value.
type Handle[P any] struct {
	tmpl   *Template[P]
	execID string
}

// GetExecID returns the execution id this handle is bound to.
func (h *Handle[P]) GetExecID() string {
	return h.execID
}

// GetContext returns the raw Context data for this handle's execution id.
func (h *Handle[P]) GetContext() *Context[P] {
	return h.context()
}

func (h *Handle[P]) context() *Context[P] {
	return h.tmpl.context(h.execID)
}

// Exec runs the phase sequence described in executor.go: before-slot
// hooks, before-child, during-slot hooks wrapping a retry loop around the
// user's exec action, after-slot hooks, after-child. A context already
// marked completed is reset implicitly before re-running; a
// context already executing is instead treated as a re-entrant graft
// request: Exec drains the child AddChild staged on pendingDuringChild
// and returns without running the phase sequence again.
//
// numTries <= 0 and retryInterval <= 0 fall back to the values this
// context last ran with, which start out as the template's configured
// defaults.
func (h *Handle[P]) Exec(ctx context.Context, numTries int, retryInterval time.Duration) ([]Outcome, error) {
	return execHandle(ctx, h, numTries, retryInterval)
}

// Undo runs the mirror-order walk described in undoer.go. Fails with
// ConflictError if this context is already undoing.
func (h *Handle[P]) Undo(ctx context.Context, numTries int, retryInterval time.Duration) ([]Outcome, error) {
	return undoHandle(ctx, h, numTries, retryInterval)
}

// ExecAll climbs parent references to the root of this handle's tree (the
// same climb ResetAll performs) and calls Exec there, so the whole
// tree this node belongs to runs as one unit.
func (h *Handle[P]) ExecAll(ctx context.Context, numTries int, retryInterval time.Duration) ([]Outcome, error) {
	return h.root().Exec(ctx, numTries, retryInterval)
}

// UndoAll is ExecAll's undo-side counterpart.
func (h *Handle[P]) UndoAll(ctx context.Context, numTries int, retryInterval time.Duration) ([]Outcome, error) {
	return h.root().Undo(ctx, numTries, retryInterval)
}

func (h *Handle[P]) root() *Handle[P] {
	cur := h
	for {
		c := cur.context()
		if c.parent == nil {
			return cur
		}
		cur = c.parent
	}
}

// AddParent attaches this handle as a child of parent (in the before-slot
// if before is true, else the after-slot), for building trees leaf-first instead of root-first. It is
// AddChild's inverse: parent.AddChild(this, before, false).
func (h *Handle[P]) AddParent(parent *Handle[P], before bool) (*Handle[P], error) {
	if _, err := parent.AddChild(h, before, false); err != nil {
		return nil, err
	}
	return h, nil
}

// Reset clears phase flags and result buffers on this context, keeping
// params/beforeChild/afterChild intact, and recurses into before/after
// children.
func (h *Handle[P]) Reset() {
	c := h.context()
	c.reset()
	h.tmpl.emit(context.Background(), EventContextReset, c, nil)
}

// ResetAll walks to the root and resets from there.
func (h *Handle[P]) ResetAll() {
	h.root().Reset()
}
