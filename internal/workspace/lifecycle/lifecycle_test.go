package lifecycle

import (
	"testing"

	"practiceoj/internal/workspace/outcome"
	"practiceoj/internal/workspace/reconciler"
	appErr "practiceoj/pkg/errors"
)

func emit(id reconciler.Identity, v outcome.Verdict) reconciler.Emission {
	return reconciler.Emission{Identity: id, Outcome: outcome.Outcome{Kind: outcome.SubmitResult, Verdict: v, TestsPassed: 5, TestsTotal: 5}}
}

func record(m *Machine) *[]Phase {
	phases := &[]Phase{}
	m.Subscribe(func(s State) { *phases = append(*phases, s.Phase) })
	return phases
}

func TestSubmitTransitions(t *testing.T) {
	var hooked []string
	m := New(func(a Action, o outcome.Outcome) { hooked = append(hooked, a.ProblemID) })
	phases := record(m)

	if _, err := m.Start(Action{Kind: Submit, Identity: "a", ProblemID: "p1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !m.Apply(emit("a", outcome.Processing)) {
		t.Fatal("processing emission should move to Processing")
	}
	if m.Apply(emit("a", outcome.Processing)) {
		t.Fatal("repeated processing should not transition")
	}
	if !m.Apply(emit("a", outcome.Accepted)) {
		t.Fatal("terminal emission should complete")
	}

	want := []Phase{Submitting, Processing, Completed}
	if len(*phases) != len(want) {
		t.Fatalf("got phases %v, want %v", *phases, want)
	}
	for i := range want {
		if (*phases)[i] != want[i] {
			t.Fatalf("got phases %v, want %v", *phases, want)
		}
	}
	s := m.State()
	if s.Outcome == nil || s.Outcome.Verdict != outcome.Accepted || s.Seq != 3 {
		t.Fatalf("unexpected final state: %+v", s)
	}
	if len(hooked) != 1 || hooked[0] != "p1" {
		t.Fatalf("accepted hook should fire once: %v", hooked)
	}
}

func TestSubmitTerminalFromHTTP(t *testing.T) {
	m := New(nil)
	m.Start(Action{Kind: Submit, Identity: "a"})
	m.Apply(emit("a", outcome.WrongAnswer))
	if s := m.State(); s.Phase != Completed || s.Outcome.Verdict != outcome.WrongAnswer {
		t.Fatalf("expected Completed(WA), got %+v", s)
	}
}

func TestRunCompletesAndBlocksNewAction(t *testing.T) {
	var hooked int
	m := New(func(Action, outcome.Outcome) { hooked++ })
	if _, err := m.Start(Action{Kind: Run, Identity: "r1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := m.Start(Action{Kind: Submit, Identity: "s1"}); !appErr.Is(err, appErr.ActionInFlight) {
		t.Fatalf("expected ActionInFlight, got %v", err)
	}
	m.Apply(reconciler.Emission{Identity: "r1", Outcome: outcome.Outcome{Kind: outcome.RunResult, Verdict: outcome.Accepted}})
	if s := m.State(); s.Phase != Completed {
		t.Fatalf("run should complete, got %s", s.Phase)
	}
	if hooked != 0 {
		t.Fatal("accepted hook is for submissions only")
	}
	if _, err := m.Start(Action{Kind: Run, Identity: "r2"}); err != nil {
		t.Fatalf("new action after completion should start: %v", err)
	}
}

func TestNewSubmitSupersedesPending(t *testing.T) {
	m := New(nil)
	m.Start(Action{Kind: Submit, Identity: "old"})
	m.Apply(emit("old", outcome.Processing))

	prev, err := m.Start(Action{Kind: Submit, Identity: "new"})
	if err != nil || prev != "old" {
		t.Fatalf("expected superseded identity old, got %q %v", prev, err)
	}
	if m.Apply(emit("old", outcome.Accepted)) {
		t.Fatal("emission for superseded identity must be ignored")
	}
	if s := m.State(); s.Phase != Submitting || s.Identity() != "new" {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestFailures(t *testing.T) {
	m := New(nil)
	m.Start(Action{Kind: Submit, Identity: "a"})
	m.Apply(emit("a", outcome.Processing))
	if !m.Apply(reconciler.Emission{Identity: "a", Failure: reconciler.FailureTimeout}) {
		t.Fatal("timeout should fail the action")
	}
	if s := m.State(); s.Phase != Failed || s.Reason != reconciler.FailureTimeout {
		t.Fatalf("expected Failed(timeout), got %+v", s)
	}
	if m.Fail("a", "late") {
		t.Fatal("terminal state must not transition again")
	}

	m.Start(Action{Kind: Run, Identity: "b"})
	if m.Fail("other", "x") {
		t.Fatal("failure for another identity must be ignored")
	}
	if !m.Fail("b", "network down") || m.State().Reason != "network down" {
		t.Fatalf("unexpected state: %+v", m.State())
	}
}

func TestUnsubscribe(t *testing.T) {
	m := New(nil)
	calls := 0
	unsubscribe := m.Subscribe(func(State) { calls++ })
	m.Start(Action{Kind: Run, Identity: "a"})
	unsubscribe()
	unsubscribe()
	m.Fail("a", "x")
	if calls != 1 {
		t.Fatalf("expected 1 delivery, got %d", calls)
	}
}

func TestStartRejectsUnknownKind(t *testing.T) {
	m := New(nil)
	if _, err := m.Start(Action{Kind: "debug", Identity: "a"}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if m.State().Phase != Idle {
		t.Fatal("state must stay Idle")
	}
}
