package ops

import "github.com/ajpauwels/aspen/observability"

// Event type constants follow the dotted noun.verb convention for
// observability/observer.go's EventType: ops.<noun>.<verb>, or ops.<noun>
// for a single-step event.
const (
	EventTemplateCreate observability.EventType = "ops.template.create"
	EventContextCreate  observability.EventType = "ops.context.create"
	EventContextReset   observability.EventType = "ops.context.reset"

	EventPhaseStart    observability.EventType = "ops.phase.start"
	EventPhaseComplete observability.EventType = "ops.phase.complete"

	EventHookFire observability.EventType = "ops.hook.fire"
	EventHookSkip observability.EventType = "ops.hook.skip"

	EventExecStart    observability.EventType = "ops.exec.start"
	EventExecAttempt  observability.EventType = "ops.exec.attempt"
	EventExecSucceed  observability.EventType = "ops.exec.succeed"
	EventExecFail     observability.EventType = "ops.exec.fail"
	EventExecComplete observability.EventType = "ops.exec.complete"

	EventUndoStart    observability.EventType = "ops.undo.start"
	EventUndoAttempt  observability.EventType = "ops.undo.attempt"
	EventUndoSucceed  observability.EventType = "ops.undo.succeed"
	EventUndoFail     observability.EventType = "ops.undo.fail"
	EventUndoComplete observability.EventType = "ops.undo.complete"

	EventChildExec observability.EventType = "ops.child.exec"
	EventChildUndo observability.EventType = "ops.child.undo"

	EventGraft observability.EventType = "ops.graft"
	EventRetry observability.EventType = "ops.retry"
)
