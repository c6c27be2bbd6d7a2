package unitstate_test

import (
	"errors"
	"testing"

	"docprep/internal/services"
	"docprep/internal/unitstate"
)

func TestHappyPathDirect(t *testing.T) {
	m := unitstate.New()
	for _, next := range []unitstate.State{
		unitstate.StateClassified1,
		unitstate.StateMerged1,
		unitstate.StateReady,
	} {
		if err := m.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if !m.IsTerminal() {
		t.Fatal("expected READY to be terminal")
	}
	trace := m.Trace()
	if len(trace) != 4 || trace[0] != unitstate.StateRawInput || trace[3] != unitstate.StateReady {
		t.Fatalf("unexpected trace %v", trace)
	}
}

func TestThreeCyclePathEndsInExceptions(t *testing.T) {
	m := unitstate.New()
	for _, next := range []unitstate.State{
		unitstate.StateClassified1,
		unitstate.StatePending1,
		unitstate.StateClassified2,
		unitstate.StatePending2,
		unitstate.StateClassified3,
		unitstate.StateExceptions3,
	} {
		if err := m.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if !m.IsTerminal() {
		t.Fatal("expected EXCEPTIONS_3 to be terminal")
	}
}

func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	m := unitstate.New()
	err := m.Transition(unitstate.StateMerged2)
	if err == nil {
		t.Fatal("expected error for RAW_INPUT -> MERGED_2")
	}
	if !errors.Is(err, services.ErrTransition) {
		t.Fatalf("expected transition marker, got %v", err)
	}
	if m.Current() != unitstate.StateRawInput {
		t.Fatalf("state changed after illegal transition: %s", m.Current())
	}
	if len(m.Trace()) != 1 {
		t.Fatalf("trace grew after illegal transition: %v", m.Trace())
	}
}

func TestNoTransitionOutOfTerminal(t *testing.T) {
	m := unitstate.New()
	for _, next := range []unitstate.State{unitstate.StateClassified1, unitstate.StateExceptions1} {
		if err := m.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if err := m.Transition(unitstate.StateClassified2); err == nil {
		t.Fatal("expected terminal state to reject transitions")
	}
}

func TestCycleThreeHasNoPending(t *testing.T) {
	if unitstate.CanTransition(unitstate.StateClassified3, "PENDING_3") {
		t.Fatal("cycle 3 must not offer a pending branch")
	}
}

func TestReplayValidTrace(t *testing.T) {
	trace := []string{"RAW_INPUT", "CLASSIFIED_1", "PENDING_1", "CLASSIFIED_2"}
	m, ok := unitstate.Replay(trace)
	if !ok {
		t.Fatal("expected valid trace to replay")
	}
	if m.Current() != unitstate.StateClassified2 {
		t.Fatalf("expected CLASSIFIED_2, got %s", m.Current())
	}
}

func TestReplayInvalidTraceResets(t *testing.T) {
	cases := [][]string{
		nil,
		{"CLASSIFIED_1"},
		{"RAW_INPUT", "MERGED_2"},
		{"RAW_INPUT", "NOT_A_STATE"},
	}
	for _, trace := range cases {
		m, ok := unitstate.Replay(trace)
		if ok {
			t.Fatalf("expected trace %v to be rejected", trace)
		}
		if m.Current() != unitstate.StateRawInput {
			t.Fatalf("expected reset to RAW_INPUT, got %s", m.Current())
		}
	}
}

func TestCycleOf(t *testing.T) {
	cases := map[unitstate.State]int{
		unitstate.StateRawInput:    0,
		unitstate.StateClassified1: 1,
		unitstate.StatePending2:    2,
		unitstate.StateExceptions3: 3,
		unitstate.StateReady:       0,
	}
	for state, want := range cases {
		if got := unitstate.CycleOf(state); got != want {
			t.Fatalf("CycleOf(%s) = %d, want %d", state, got, want)
		}
	}
}

func TestParseState(t *testing.T) {
	if state, ok := unitstate.ParseState(" ready "); !ok || state != unitstate.StateReady {
		t.Fatalf("expected READY, got %s ok=%v", state, ok)
	}
	if _, ok := unitstate.ParseState("bogus"); ok {
		t.Fatal("expected bogus state to be rejected")
	}
}
