// Package unitstate models the lifecycle of a procurement unit as it moves
// through triage cycles. The transition table is fixed: classification fans
// out to merge, pending, or exceptions per cycle, merged units land in READY,
// and exceptions states are terminal.
package unitstate

import (
	"strings"

	"docprep/internal/services"
)

// State represents a unit lifecycle position.
type State string

const (
	StateRawInput    State = "RAW_INPUT"
	StateClassified1 State = "CLASSIFIED_1"
	StateMerged1     State = "MERGED_1_DIRECT"
	StatePending1    State = "PENDING_1"
	StateExceptions1 State = "EXCEPTIONS_1"
	StateClassified2 State = "CLASSIFIED_2"
	StateMerged2     State = "MERGED_2"
	StatePending2    State = "PENDING_2"
	StateExceptions2 State = "EXCEPTIONS_2"
	StateClassified3 State = "CLASSIFIED_3"
	StateMerged3     State = "MERGED_3"
	StateExceptions3 State = "EXCEPTIONS_3"
	StateReady       State = "READY"
)

var allStates = []State{
	StateRawInput,
	StateClassified1,
	StateMerged1,
	StatePending1,
	StateExceptions1,
	StateClassified2,
	StateMerged2,
	StatePending2,
	StateExceptions2,
	StateClassified3,
	StateMerged3,
	StateExceptions3,
	StateReady,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

var transitions = map[State][]State{
	StateRawInput:    {StateClassified1},
	StateClassified1: {StateMerged1, StatePending1, StateExceptions1},
	StatePending1:    {StateClassified2},
	StateClassified2: {StateMerged2, StatePending2, StateExceptions2},
	StatePending2:    {StateClassified3},
	StateClassified3: {StateMerged3, StateExceptions3},
	StateMerged1:     {StateReady},
	StateMerged2:     {StateReady},
	StateMerged3:     {StateReady},
}

var terminalStates = map[State]struct{}{
	StateReady:       {},
	StateExceptions1: {},
	StateExceptions2: {},
	StateExceptions3: {},
}

// MergeState returns the merged state for cycle n, or "" out of range.
func MergeState(n int) State {
	switch n {
	case 1:
		return StateMerged1
	case 2:
		return StateMerged2
	case 3:
		return StateMerged3
	}
	return ""
}

// ExceptionsState returns the exceptions state for cycle n, or "" out of range.
func ExceptionsState(n int) State {
	switch n {
	case 1:
		return StateExceptions1
	case 2:
		return StateExceptions2
	case 3:
		return StateExceptions3
	}
	return ""
}

// ClassifiedState returns the classified state for cycle n, or "" out of range.
func ClassifiedState(n int) State {
	switch n {
	case 1:
		return StateClassified1
	case 2:
		return StateClassified2
	case 3:
		return StateClassified3
	}
	return ""
}

// PendingState returns the pending state for cycle n, or "" out of range.
// Cycle 3 has no pending state.
func PendingState(n int) State {
	switch n {
	case 1:
		return StatePending1
	case 2:
		return StatePending2
	}
	return ""
}

// ParseState validates a wire string and returns the matching State.
func ParseState(value string) (State, bool) {
	state := State(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := stateSet[state]
	return state, ok
}

// IsTerminal reports whether the state ends processing for a unit.
func IsTerminal(state State) bool {
	_, ok := terminalStates[state]
	return ok
}

// CanTransition reports whether from -> to is a legal hop.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CycleOf returns the triage cycle a state belongs to, or 0 for RAW_INPUT
// and READY.
func CycleOf(state State) int {
	switch state {
	case StateClassified1, StateMerged1, StatePending1, StateExceptions1:
		return 1
	case StateClassified2, StateMerged2, StatePending2, StateExceptions2:
		return 2
	case StateClassified3, StateMerged3, StateExceptions3:
		return 3
	default:
		return 0
	}
}

// Machine tracks a unit's current state and full transition history.
type Machine struct {
	current State
	trace   []State
}

// New returns a machine positioned at RAW_INPUT.
func New() *Machine {
	return &Machine{current: StateRawInput, trace: []State{StateRawInput}}
}

// Replay reconstructs a machine from a recorded trace. An empty, unknown, or
// illegal trace yields a fresh machine at RAW_INPUT with ok=false so the
// caller can restart the unit.
func Replay(trace []string) (*Machine, bool) {
	if len(trace) == 0 {
		return New(), false
	}
	first, valid := ParseState(trace[0])
	if !valid || first != StateRawInput {
		return New(), false
	}
	m := New()
	for _, raw := range trace[1:] {
		state, valid := ParseState(raw)
		if !valid {
			return New(), false
		}
		if err := m.Transition(state); err != nil {
			return New(), false
		}
	}
	return m, true
}

// Current returns the machine's present state.
func (m *Machine) Current() State {
	return m.current
}

// Trace returns a copy of the visited states in order.
func (m *Machine) Trace() []State {
	out := make([]State, len(m.trace))
	copy(out, m.trace)
	return out
}

// TraceStrings returns the trace in wire form.
func (m *Machine) TraceStrings() []string {
	out := make([]string, len(m.trace))
	for i, state := range m.trace {
		out[i] = string(state)
	}
	return out
}

// IsTerminal reports whether the machine has reached a terminal state.
func (m *Machine) IsTerminal() bool {
	return IsTerminal(m.current)
}

// Transition moves the machine to the requested state. Illegal hops leave the
// machine unchanged and return a transition error.
func (m *Machine) Transition(to State) error {
	if _, known := stateSet[to]; !known {
		return services.Wrap(services.ErrTransition, "unitstate", "transition", "unknown state "+string(to), nil)
	}
	if !CanTransition(m.current, to) {
		return services.Wrap(services.ErrTransition, "unitstate", "transition",
			string(m.current)+" -> "+string(to)+" is not allowed", nil)
	}
	m.current = to
	m.trace = append(m.trace, to)
	return nil
}
