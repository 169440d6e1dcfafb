package examauditor

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Pipeline states for one question.
const (
	StatePending    = "pending"
	StateReviewing  = "reviewing"
	StateGenerating = "generating"
	StateValidating = "validating"
	StateCommitted  = "committed"
	StateFailed     = "failed"
	StateCleared    = "cleared"
)

// Events that drive the per-item machine.
const (
	eventFlag    = "flag"     // pending -> reviewing
	eventSkip    = "skip"     // pending -> generating (review gate disabled)
	eventConfirm = "confirm"  // reviewing -> generating
	eventClear   = "clear"    // reviewing -> cleared
	eventDraft   = "draft"    // generating -> validating
	eventRetry   = "retry"    // generating/validating -> generating
	eventCommit  = "commit"   // validating -> committed
	eventFail    = "fail"     // any active state -> failed
)

type itemContext struct {
	QuestionID string
}

// itemMachine wraps a statekit interpreter over the replacement lifecycle of
// one question: Pending -> Reviewing -> Generating -> Validating ->
// {Committed | Failed | Cleared}.
type itemMachine struct {
	interpreter *statekit.Interpreter[itemContext]
}

func newItemMachine(questionID string) (*itemMachine, error) {
	builder := statekit.NewMachine[itemContext]("replacement").
		WithInitial(statekit.StateID(StatePending)).
		WithContext(itemContext{QuestionID: questionID})

	builder.State(StatePending).
		On(eventFlag).Target(StateReviewing).
		On(eventSkip).Target(StateGenerating).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateReviewing).
		On(eventConfirm).Target(StateGenerating).
		On(eventClear).Target(StateCleared).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateGenerating).
		On(eventDraft).Target(StateValidating).
		On(eventRetry).Target(StateGenerating).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateValidating).
		On(eventCommit).Target(StateCommitted).
		On(eventRetry).Target(StateGenerating).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateCommitted).Done()
	builder.State(StateFailed).Done()
	builder.State(StateCleared).Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build item state machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()
	return &itemMachine{interpreter: interpreter}, nil
}

// fire sends an event and returns the resulting state.
func (m *itemMachine) fire(event string) string {
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	return m.current()
}

func (m *itemMachine) current() string {
	return string(m.interpreter.State().Value)
}
