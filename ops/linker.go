package ops

import (
	"context"
	"fmt"
)

// ParallelFactory builds the single child used to represent a collection
// passed to AddChild when noParallel is false: a composite handle whose
// own Exec/Undo fan the collection's children out concurrently. Supplying
// one is optional; AddChild with a collection and noParallel=false returns
// a BadInputError if the template has none configured. Package parallel
// provides the canonical implementation (parallel.New).
type ParallelFactory[P any] func(children []*Handle[P]) *Handle[P]

// AddChild attaches child to this handle:
//
//   - A slice of handles either collapses into a linear after-chain
//     (noParallel=true) or is wrapped in a parallel composite
//     (noParallel=false, requires a ParallelFactory).
//   - A single *Handle[P] is used directly.
//   - Anything else is a BadInputError.
//
// If this handle's context is currently executing, the child is staged on
// pendingDuringChild instead of being linked immediately; the executor
// grafts it at the next checkpoint (step D in executor.go). Otherwise the
// child is inserted into the before- or after-slot per invariant 2: both
// chains grow at the tail away from this handle, so the most recently
// added before-child becomes the deepest node of the before chain (and
// therefore the first to execute) while a repeated after insertion
// appends at the tail of the after chain the same way.
func (h *Handle[P]) AddChild(child any, before bool, noParallel bool) (*Handle[P], error) {
	childHandle, err := h.resolveChild(child, noParallel)
	if err != nil {
		return nil, err
	}

	c := h.context()

	if c.executing {
		if c.pendingDuringChild == nil {
			c.pendingDuringChild = childHandle
		} else if _, err := c.pendingDuringChild.AddChild(childHandle, before, noParallel); err != nil {
			return nil, err
		}
		return h, nil
	}

	if before {
		h.linkBefore(childHandle)
	} else {
		h.linkAfter(childHandle)
	}

	return h, nil
}

func (h *Handle[P]) resolveChild(child any, noParallel bool) (*Handle[P], error) {
	switch v := child.(type) {
	case *Handle[P]:
		if v == nil {
			return nil, &BadInputError{Msg: "child handle is nil"}
		}
		return v, nil
	case []*Handle[P]:
		if len(v) == 0 {
			return nil, &BadInputError{Msg: "child collection is empty"}
		}
		if noParallel {
			return collapseChain(v), nil
		}
		if h.tmpl.opts.ParallelFactory == nil {
			return nil, &BadInputError{Msg: "child is a collection but no ParallelFactory is configured"}
		}
		return h.tmpl.opts.ParallelFactory(v), nil
	default:
		return nil, &BadInputError{Msg: fmt.Sprintf("unsupported child type %T", child)}
	}
}

// collapseChain links a slice of fresh handles into a single after-chain
// and returns its head, which AddChild then inserts as one child (the
// noParallel=true branch).
func collapseChain[P any](handles []*Handle[P]) *Handle[P] {
	head := handles[0]
	cur := head
	for _, next := range handles[1:] {
		cur.context().afterChild = next
		next.context().parent = cur
		cur = next
	}
	return head
}

// linkBefore attaches child at the tail of the before chain, mirroring
// linkAfter: the existing chain is left untouched closer to h, and child
// becomes the new deepest node, so it is the next one to execute.
func (h *Handle[P]) linkBefore(child *Handle[P]) {
	c := h.context()
	if c.beforeChild == nil {
		c.beforeChild = child
		child.context().parent = h
		return
	}
	c.beforeChild.linkBefore(child)
}

func (h *Handle[P]) linkAfter(child *Handle[P]) {
	c := h.context()
	if c.afterChild == nil {
		c.afterChild = child
		child.context().parent = h
		return
	}
	c.afterChild.linkAfter(child)
}

// slotHandle returns (creating if necessary) the lazily-instantiated
// composite handle backing one during-slot: a zero-params context of this
// same template that is never executed or undone itself, only used as an
// anchor for grafted children, so grafting into it is
// just another AddChild call that reuses the rotation logic above instead
// of a second tree representation.
func (t *Template[P]) slotHandle(existing **Handle[P]) *Handle[P] {
	if *existing == nil {
		noop := t.Create(*new(P))
		*existing = noop
	}
	return *existing
}

// graftPending drains a staged pendingDuringChild into the during-slot
// composite selected by the context's current phase, attaching it in
// before-position if the related phase has not yet succeeded, after-
// position otherwise. It appends the pending child's exec results to the
// context's execResults and returns that accumulated sequence, and it
// clears pendingDuringChild whether or not the child succeeds so a
// repeated Exec cannot re-run the graft.
func graftPending[P any](ctx context.Context, t *Template[P], c *Context[P]) ([]Outcome, error) {
	pending := c.pendingDuringChild
	if pending == nil {
		return nil, nil
	}
	c.pendingDuringChild = nil

	var slotPtr **Handle[P]
	var beforePosition bool

	switch {
	case c.phases.CompletedExecFunction:
		slotPtr = &c.during.afterSlot
		beforePosition = !c.phases.AfterChildSucceeded
	case c.phases.CompletedBeforeChild && !c.phases.CompletedExecFunction:
		slotPtr = &c.during.duringSlot
		beforePosition = !c.phases.ExecFunctionSucceeded
	default:
		slotPtr = &c.during.beforeSlot
		beforePosition = !c.phases.BeforeChildSucceeded
	}

	composite := t.slotHandle(slotPtr)
	if _, err := composite.AddChild(pending, beforePosition, false); err != nil {
		return nil, err
	}

	t.emit(ctx, EventGraft, c, map[string]any{"before_position": beforePosition})

	results, err := pending.Exec(ctx, c.numTries, c.retryInterval)
	c.execResults = append(c.execResults, results...)
	if err != nil {
		return c.execResults, err
	}
	return c.execResults, nil
}
