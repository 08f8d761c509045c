package parallel_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ajpauwels/aspen/clock"
	"github.com/ajpauwels/aspen/config"
	"github.com/ajpauwels/aspen/idgen"
	"github.com/ajpauwels/aspen/ops"
	"github.com/ajpauwels/aspen/parallel"
)

type addParams struct {
	name   string
	amount int
	state  *int64
	mu     *sync.Mutex
	fail   bool
}

func addExec(ctx context.Context, p addParams, c *ops.Context[addParams], h *ops.Handle[addParams]) (any, error) {
	if p.fail {
		return nil, errors.New(p.name + " failed")
	}
	p.mu.Lock()
	*p.state += int64(p.amount)
	p.mu.Unlock()
	return p.amount, nil
}

func addUndo(ctx context.Context, p addParams, c *ops.Context[addParams], h *ops.Handle[addParams]) (any, error) {
	p.mu.Lock()
	*p.state -= int64(p.amount)
	p.mu.Unlock()
	return nil, nil
}

func newFanoutHandle(t *testing.T, children []*ops.Handle[addParams]) *ops.Handle[addParams] {
	t.Helper()
	factory := parallel.New[addParams](config.DefaultParallelConfig(), idgen.UUIDSource{}, clock.Real{})
	return factory(children)
}

// S5: Add(1), Add(2), Add(3) run in parallel, leaving state at 6 with
// every child's result present regardless of completion order.
func TestParallel_AllSucceed(t *testing.T) {
	var state int64
	var mu sync.Mutex

	tmpl := ops.New[addParams](
		config.DefaultEngineConfig(),
		idgen.UUIDSource{},
		clock.Real{},
		ops.Options[addParams]{Exec: addExec, Undo: addUndo},
	)

	children := []*ops.Handle[addParams]{
		tmpl.Create(addParams{name: "n1", amount: 1, state: &state, mu: &mu}),
		tmpl.Create(addParams{name: "n2", amount: 2, state: &state, mu: &mu}),
		tmpl.Create(addParams{name: "n3", amount: 3, state: &state, mu: &mu}),
	}

	composite := newFanoutHandle(t, children)

	results, err := composite.Exec(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if state != 6 {
		t.Errorf("state = %d, want 6", state)
	}

	var got []int
	for _, r := range results {
		if v, ok := r.Get(); ok {
			got = append(got, v.(int))
		}
	}
	sort.Ints(got)
	if want := []int{1, 2, 3}; !equalInts(got, want) {
		t.Errorf("result values = %v, want %v (in some order)", got, want)
	}
}

// If one child fails, every child still runs and the composite raises an
// error carrying every child's outcome, not just the failure.
func TestParallel_PartialFailureStillRunsAllChildren(t *testing.T) {
	var state int64
	var mu sync.Mutex

	tmpl := ops.New[addParams](
		config.DefaultEngineConfig(),
		idgen.UUIDSource{},
		clock.Real{},
		ops.Options[addParams]{Exec: addExec, Undo: addUndo},
	)

	children := []*ops.Handle[addParams]{
		tmpl.Create(addParams{name: "n1", amount: 1, state: &state, mu: &mu}),
		tmpl.Create(addParams{name: "n2", amount: 2, state: &state, mu: &mu, fail: true}),
		tmpl.Create(addParams{name: "n3", amount: 3, state: &state, mu: &mu}),
	}

	composite := newFanoutHandle(t, children)

	_, err := composite.Exec(context.Background(), 1, 0)
	if err == nil {
		t.Fatal("Exec() error = nil, want a failure")
	}

	var ef *ops.ExecFailure
	if !errors.As(err, &ef) {
		t.Fatalf("error = %v, want *ops.ExecFailure", err)
	}

	if state != 4 {
		t.Errorf("state = %d, want 4 (n1+n3, n2 never applied)", state)
	}

	var successes, failures int
	for _, r := range ef.Results {
		if r.IsFailure() {
			failures++
		} else {
			successes++
		}
	}
	if successes != 2 || failures != 1 {
		t.Errorf("successes=%d failures=%d, want 2 and 1", successes, failures)
	}
}

func TestParallel_UndoReversesEveryChild(t *testing.T) {
	var state int64
	var mu sync.Mutex

	tmpl := ops.New[addParams](
		config.DefaultEngineConfig(),
		idgen.UUIDSource{},
		clock.Real{},
		ops.Options[addParams]{Exec: addExec, Undo: addUndo},
	)

	children := []*ops.Handle[addParams]{
		tmpl.Create(addParams{name: "n1", amount: 1, state: &state, mu: &mu}),
		tmpl.Create(addParams{name: "n2", amount: 2, state: &state, mu: &mu}),
	}

	composite := newFanoutHandle(t, children)

	if _, err := composite.Exec(context.Background(), 1, 0); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if state != 3 {
		t.Fatalf("state after exec = %d, want 3", state)
	}

	if _, err := composite.Undo(context.Background(), 1, 0); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if state != 0 {
		t.Errorf("state after undo = %d, want 0", state)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
