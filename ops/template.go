// Package ops implements the reversible operation-tree engine: a template
// factory that produces Handles bound to per-execution Contexts, an
// executor that walks before/self/after phases with retry and dynamic
// during-child grafting, and an undoer that reverses the walk in exact
// mirror order.
package ops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajpauwels/aspen/clock"
	"github.com/ajpauwels/aspen/config"
	"github.com/ajpauwels/aspen/idgen"
	"github.com/ajpauwels/aspen/observability"
)

// ActionFunc is the user's exec or undo action: it may return a value to
// record (appended to the walk's result sequence) or an error to signal
// failure-and-retry.
type ActionFunc[P any] func(ctx context.Context, params P, c *Context[P], h *Handle[P]) (any, error)

// Options is the immutable definition a Template is built from: the
// user's exec action, undo action, and hook map. Exec and Undo are both
// optional — a Template with neither still runs its before/after children
// and hooks, which is how the parallel composite in package parallel
// presents itself (its domain logic lives entirely in hooks).
//
// ParallelFactory is consulted by AddChild when a caller passes a slice of
// handles with noParallel=false: it builds the single
// composite child the slice is wrapped into. Leave it nil if the tree
// never needs collection children; package parallel supplies the
// canonical implementation.
type Options[P any] struct {
	Exec            ActionFunc[P]
	Undo            ActionFunc[P]
	Hooks           Hooks[P]
	ParallelFactory ParallelFactory[P]
}

// Template is the immutable operation definition shared by every handle
// created from it. It owns the history map of live Contexts, keyed by
// execution id, the same way the checkpoint store and agent registry
// keep a named map behind a mutex (orchestrate/state/checkpoint.go,
// agent/registry.go).
type Template[P any] struct {
	cfg config.EngineConfig
	ids idgen.Source
	clk clock.Clock
	obs observability.Observer

	opts Options[P]

	mu       sync.RWMutex
	contexts map[string]*Context[P]
}

// New builds a Template from an EngineConfig, an id source, a clock, and
// the user's Options. The observer is resolved from cfg.Observer through
// the shared registry, defaulting to NoOpObserver on any resolution
// failure — mirroring state.New's handling of a nil observer.
func New[P any](cfg config.EngineConfig, ids idgen.Source, clk clock.Clock, opts Options[P]) *Template[P] {
	obs, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		obs = observability.NoOpObserver{}
	}

	t := &Template[P]{
		cfg:      cfg,
		ids:      ids,
		clk:      clk,
		obs:      obs,
		opts:     opts,
		contexts: make(map[string]*Context[P]),
	}
	t.emit(context.Background(), EventTemplateCreate, nil, nil)
	return t
}

// NewWithDeps builds a Template the same way New does but takes the
// observer directly instead of resolving it from cfg.Observer through the
// registry — grounded on state.NewGraphWithDeps, which exists precisely so
// tests can hand in a recording observer without a global RegisterObserver
// call. A nil observer becomes NoOpObserver.
func NewWithDeps[P any](cfg config.EngineConfig, ids idgen.Source, clk clock.Clock, obs observability.Observer, opts Options[P]) *Template[P] {
	if obs == nil {
		obs = observability.NoOpObserver{}
	}

	t := &Template[P]{
		cfg:      cfg,
		ids:      ids,
		clk:      clk,
		obs:      obs,
		opts:     opts,
		contexts: make(map[string]*Context[P]),
	}
	t.emit(context.Background(), EventTemplateCreate, nil, nil)
	return t
}

// Create allocates a fresh context under a newly minted execution id,
// stores params, and returns a handle bound to it.
func (t *Template[P]) Create(params P) *Handle[P] {
	execID := t.ids.New()

	c := &Context[P]{
		execID:        execID,
		params:        params,
		numTries:      t.cfg.DefaultNumTries,
		retryInterval: time.Duration(t.cfg.DefaultRetryIntervalMS) * time.Millisecond,
	}

	t.mu.Lock()
	t.contexts[execID] = c
	t.mu.Unlock()

	t.emit(context.Background(), EventContextCreate, c, nil)

	return &Handle[P]{tmpl: t, execID: execID}
}

// Get returns a handle for an existing execution id, or a NotFoundError if
// the id is unknown to this template.
func (t *Template[P]) Get(execID string) (*Handle[P], error) {
	t.mu.RLock()
	_, ok := t.contexts[execID]
	t.mu.RUnlock()

	if !ok {
		return nil, &NotFoundError{ExecID: execID}
	}
	return &Handle[P]{tmpl: t, execID: execID}, nil
}

// GetContext returns the raw context for an execution id, or a
// NotFoundError if unknown.
func (t *Template[P]) GetContext(execID string) (*Context[P], error) {
	t.mu.RLock()
	c, ok := t.contexts[execID]
	t.mu.RUnlock()

	if !ok {
		return nil, &NotFoundError{ExecID: execID}
	}
	return c, nil
}

func (t *Template[P]) context(execID string) *Context[P] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.contexts[execID]
}

func (t *Template[P]) emit(ctx context.Context, typ observability.EventType, c *Context[P], data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	if c != nil {
		data["exec_id"] = c.execID
	}

	t.obs.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "ops.Template",
		Data:      data,
	})
}

func (t *Template[P]) String() string {
	return fmt.Sprintf("ops.Template[%d contexts]", len(t.contexts))
}
