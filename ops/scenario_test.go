package ops_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ajpauwels/aspen/clock"
	"github.com/ajpauwels/aspen/config"
	"github.com/ajpauwels/aspen/idgen"
	"github.com/ajpauwels/aspen/ops"
)

// nodeParams is the shared parameter tuple every scenario test below
// builds its operations from: a name for order tracking, a pointer to an
// external int the exec/undo actions mutate (external state V, starts at
// 0; Add(n) adds n with undo subtracting it), and a pointer to a shared
// order log.
type nodeParams struct {
	name       string
	amount     int
	state      *int
	order      *[]string
	failUntil  int
	failNotify chan struct{}
}

func addExec(ctx context.Context, p nodeParams, c *ops.Context[nodeParams], h *ops.Handle[nodeParams]) (any, error) {
	*p.order = append(*p.order, p.name)
	if c.Phases().ExecFunctionAttempt < p.failUntil {
		if p.failNotify != nil {
			p.failNotify <- struct{}{}
		}
		return nil, fmt.Errorf("%s failed on attempt %d", p.name, c.Phases().ExecFunctionAttempt)
	}
	*p.state += p.amount
	return map[string]any{"newValue": *p.state}, nil
}

func addUndo(ctx context.Context, p nodeParams, c *ops.Context[nodeParams], h *ops.Handle[nodeParams]) (any, error) {
	*p.order = append(*p.order, "undo:"+p.name)
	*p.state -= p.amount
	return nil, nil
}

func newAddTemplate(t *testing.T, hooks ops.Hooks[nodeParams]) *ops.Template[nodeParams] {
	t.Helper()
	return ops.New[nodeParams](
		config.DefaultEngineConfig(),
		idgen.UUIDSource{},
		clock.Real{},
		ops.Options[nodeParams]{Exec: addExec, Undo: addUndo, Hooks: hooks},
	)
}

// S1: sequential chain. Root Add(1), after-chain Add(1), Add(1).
func TestScenario_SequentialChain(t *testing.T) {
	state := 0
	var order []string
	tmpl := newAddTemplate(t, nil)

	root := tmpl.Create(nodeParams{name: "root", amount: 1, state: &state, order: &order})
	a1 := tmpl.Create(nodeParams{name: "a1", amount: 1, state: &state, order: &order})
	a2 := tmpl.Create(nodeParams{name: "a2", amount: 1, state: &state, order: &order})

	if _, err := root.AddChild(a1, false, false); err != nil {
		t.Fatalf("AddChild(a1) error = %v", err)
	}
	if _, err := a1.AddChild(a2, false, false); err != nil {
		t.Fatalf("AddChild(a2) error = %v", err)
	}

	results, err := root.Exec(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if state != 3 {
		t.Errorf("state = %d, want 3", state)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	wantOrder := []string{"root", "a1", "a2"}
	for i, name := range wantOrder {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

// S2: before-rotation. root.addChild(A,true).addChild(B,true) makes
// execution order B, A, root.
func TestScenario_BeforeRotation(t *testing.T) {
	state := 0
	var order []string
	tmpl := newAddTemplate(t, nil)

	root := tmpl.Create(nodeParams{name: "root", amount: 1, state: &state, order: &order})
	a := tmpl.Create(nodeParams{name: "A", amount: 1, state: &state, order: &order})
	b := tmpl.Create(nodeParams{name: "B", amount: 1, state: &state, order: &order})

	if _, err := root.AddChild(a, true, false); err != nil {
		t.Fatalf("AddChild(A) error = %v", err)
	}
	if _, err := root.AddChild(b, true, false); err != nil {
		t.Fatalf("AddChild(B) error = %v", err)
	}

	if _, err := root.Exec(context.Background(), 1, 0); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	want := []string{"B", "A", "root"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

// S3: retry. Add(n) fails on attempt 0, succeeds on attempt 1 with
// numTries=2, retryInterval=10ms: invoked twice, delay once, final state
// advances by n, results carry the error then the success.
func TestScenario_Retry(t *testing.T) {
	state := 0
	var order []string
	manual := &clock.Manual{}

	tmpl := ops.New[nodeParams](
		config.DefaultEngineConfig(),
		idgen.UUIDSource{},
		manual,
		ops.Options[nodeParams]{Exec: addExec, Undo: addUndo},
	)

	failNotify := make(chan struct{}, 1)
	root := tmpl.Create(nodeParams{name: "root", amount: 5, state: &state, order: &order, failUntil: 1, failNotify: failNotify})

	done := make(chan struct {
		results []ops.Outcome
		err     error
	}, 1)
	go func() {
		results, err := root.Exec(context.Background(), 2, 10*time.Millisecond)
		done <- struct {
			results []ops.Outcome
			err     error
		}{results, err}
	}()

	<-failNotify
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				manual.Advance(time.Millisecond)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	out := <-done
	close(stop)
	if out.err != nil {
		t.Fatalf("Exec() error = %v", out.err)
	}
	if state != 5 {
		t.Errorf("state = %d, want 5", state)
	}
	if len(order) != 2 {
		t.Errorf("addExec invoked %d times, want 2", len(order))
	}
	if len(out.results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (one failure, one success)", len(out.results))
	}
	if !out.results[0].IsFailure() {
		t.Error("results[0] should be the failed first attempt")
	}
	if out.results[1].IsFailure() {
		t.Error("results[1] should be the succeeding second attempt")
	}
}

// S4: dynamic graft. A PreDuringExecOnlyHook that calls handle.AddChild
// then handle.Exec causes the graft to run before the user action
// completes; on undo the graft is undone after the user action's undo but
// before the before-child's undo.
func TestScenario_DynamicGraft(t *testing.T) {
	state := 0
	var order []string
	var tmpl *ops.Template[nodeParams]
	grafted := false

	tmpl = newAddTemplate(t, ops.Hooks[nodeParams]{
		ops.PreDuringExecOnlyHook: func(ctx context.Context, p nodeParams, c *ops.Context[nodeParams], h *ops.Handle[nodeParams]) (any, error) {
			if p.name != "root" || grafted {
				return nil, nil
			}
			grafted = true

			graft := tmpl.Create(nodeParams{name: "graft", amount: 5, state: &state, order: &order})
			if _, err := h.AddChild(graft, false, false); err != nil {
				return nil, err
			}
			if _, err := h.Exec(ctx, 1, 0); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})

	root := tmpl.Create(nodeParams{name: "root", amount: 1, state: &state, order: &order})
	before := tmpl.Create(nodeParams{name: "before", amount: 1, state: &state, order: &order})
	if _, err := root.AddChild(before, true, false); err != nil {
		t.Fatalf("AddChild(before) error = %v", err)
	}

	if _, err := root.Exec(context.Background(), 1, 0); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	wantExecOrder := []string{"before", "graft", "root"}
	if len(order) != len(wantExecOrder) {
		t.Fatalf("exec order = %v, want %v", order, wantExecOrder)
	}
	for i, name := range wantExecOrder {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}

	order = nil
	if _, err := root.Undo(context.Background(), 1, 0); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	wantUndoOrder := []string{"undo:root", "undo:graft", "undo:before"}
	if len(order) != len(wantUndoOrder) {
		t.Fatalf("undo order = %v, want %v", order, wantUndoOrder)
	}
	for i, name := range wantUndoOrder {
		if order[i] != name {
			t.Errorf("undo order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

// S6: undo after failure. Chain Add(1),Add(1),Add(1),Add(1) with a user
// limit throwing at V=3: exec raises; subsequent undo restores state to
// 0, undoing only the two that succeeded, in reverse.
func TestScenario_UndoAfterFailure(t *testing.T) {
	state := 0
	var order []string

	limitExec := func(ctx context.Context, p nodeParams, c *ops.Context[nodeParams], h *ops.Handle[nodeParams]) (any, error) {
		if *p.state+p.amount > 2 {
			return nil, fmt.Errorf("limit exceeded at %s", p.name)
		}
		return addExec(ctx, p, c, h)
	}

	limited := ops.New[nodeParams](
		config.DefaultEngineConfig(),
		idgen.UUIDSource{},
		clock.Real{},
		ops.Options[nodeParams]{Exec: limitExec, Undo: addUndo},
	)

	root := limited.Create(nodeParams{name: "n0", amount: 1, state: &state, order: &order})
	n1 := limited.Create(nodeParams{name: "n1", amount: 1, state: &state, order: &order})
	n2 := limited.Create(nodeParams{name: "n2", amount: 1, state: &state, order: &order})
	n3 := limited.Create(nodeParams{name: "n3", amount: 1, state: &state, order: &order})

	if _, err := root.AddChild(n1, false, false); err != nil {
		t.Fatalf("AddChild(n1) error = %v", err)
	}
	if _, err := n1.AddChild(n2, false, false); err != nil {
		t.Fatalf("AddChild(n2) error = %v", err)
	}
	if _, err := n2.AddChild(n3, false, false); err != nil {
		t.Fatalf("AddChild(n3) error = %v", err)
	}

	_, err := root.Exec(context.Background(), 1, 0)
	if err == nil {
		t.Fatal("Exec() error = nil, want failure at n2")
	}
	if state != 2 {
		t.Fatalf("state after failed exec = %d, want 2 (n0, n1 succeeded)", state)
	}

	order = nil
	if _, err := root.Undo(context.Background(), 1, 0); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if state != 0 {
		t.Errorf("state after undo = %d, want 0", state)
	}

	want := []string{"undo:n1", "undo:n0"}
	if len(order) != len(want) {
		t.Fatalf("undo order = %v, want %v (only n0,n1 ran, reverse order)", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

func TestReset_ClearsFlagsKeepsStructure(t *testing.T) {
	state := 0
	var order []string
	tmpl := newAddTemplate(t, nil)

	root := tmpl.Create(nodeParams{name: "root", amount: 1, state: &state, order: &order})
	child := tmpl.Create(nodeParams{name: "child", amount: 1, state: &state, order: &order})
	if _, err := root.AddChild(child, false, false); err != nil {
		t.Fatalf("AddChild() error = %v", err)
	}

	if _, err := root.Exec(context.Background(), 1, 0); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	root.Reset()

	c := root.GetContext()
	if len(c.ExecResults()) != 0 {
		t.Errorf("ExecResults after Reset = %v, want empty", c.ExecResults())
	}
	if c.Phases().CompletedAfterChild {
		t.Error("CompletedAfterChild still set after Reset")
	}
}

func TestGetContext_NotFound(t *testing.T) {
	tmpl := newAddTemplate(t, nil)
	if _, err := tmpl.GetContext("does-not-exist"); err == nil {
		t.Fatal("GetContext() error = nil, want NotFoundError")
	} else if _, ok := err.(*ops.NotFoundError); !ok {
		t.Errorf("GetContext() error type = %T, want *ops.NotFoundError", err)
	}
}

func TestUndo_ConflictWhileUndoing(t *testing.T) {
	state := 0
	var order []string

	release := make(chan struct{})
	entered := make(chan struct{})

	blockingUndo := func(ctx context.Context, p nodeParams, c *ops.Context[nodeParams], h *ops.Handle[nodeParams]) (any, error) {
		close(entered)
		<-release
		return addUndo(ctx, p, c, h)
	}

	tmpl := ops.New[nodeParams](
		config.DefaultEngineConfig(),
		idgen.UUIDSource{},
		clock.Real{},
		ops.Options[nodeParams]{Exec: addExec, Undo: blockingUndo},
	)

	root := tmpl.Create(nodeParams{name: "root", amount: 1, state: &state, order: &order})
	if _, err := root.Exec(context.Background(), 1, 0); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	go root.Undo(context.Background(), 1, 0)
	<-entered

	_, err := root.Undo(context.Background(), 1, 0)
	if err == nil {
		t.Fatal("second Undo() error = nil, want ConflictError")
	}
	if _, ok := err.(*ops.ConflictError); !ok {
		t.Errorf("second Undo() error type = %T, want *ops.ConflictError", err)
	}

	close(release)
}
