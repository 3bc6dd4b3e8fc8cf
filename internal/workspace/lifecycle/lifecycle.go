// Package lifecycle drives the observable workspace state from user actions and reconciled outcomes.
package lifecycle

import (
	"context"
	"sync"

	"practiceoj/internal/workspace/outcome"
	"practiceoj/internal/workspace/reconciler"
	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// Phase is the active lifecycle state.
type Phase string

const (
	Idle       Phase = "Idle"
	Running    Phase = "Running"
	Submitting Phase = "Submitting"
	Processing Phase = "Processing"
	Completed  Phase = "Completed"
	Failed     Phase = "Failed"
)

// IsTerminal reports whether the phase ends the current action.
func (p Phase) IsTerminal() bool {
	return p == Completed || p == Failed
}

// ActionKind is the user-triggered action type.
type ActionKind string

const (
	Run    ActionKind = "run"
	Submit ActionKind = "submit"
)

// Action is one user-triggered run or submit.
type Action struct {
	Kind      ActionKind
	Identity  reconciler.Identity
	ProblemID string
	Language  string
	Code      string
	Stdin     string
}

// State is a snapshot of the machine. Outcome is set in Completed, Reason in Failed.
type State struct {
	Phase   Phase
	Action  Action
	Outcome *outcome.Outcome
	Reason  string
	Seq     uint64
}

// Identity returns the identity the state belongs to.
func (s State) Identity() reconciler.Identity {
	return s.Action.Identity
}

// Listener receives each transition exactly once.
type Listener func(State)

// AcceptedHook is invoked just before entering Completed with an Accepted submit outcome.
type AcceptedHook func(Action, outcome.Outcome)

// Machine holds exactly one active state. Transitions are expected from a single goroutine;
// snapshots and subscriptions are safe from any goroutine.
type Machine struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	accepted  AcceptedHook
}

// New creates an Idle machine.
func New(accepted AcceptedHook) *Machine {
	return &Machine{
		state:     State{Phase: Idle},
		listeners: make(map[int]Listener),
		accepted:  accepted,
	}
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a listener and returns its unsubscribe function.
func (m *Machine) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Start begins a new action. It fails with ActionInFlight while a run is pending.
// The identity of a superseded non-terminal action is returned so its late outcomes can be dropped.
func (m *Machine) Start(a Action) (reconciler.Identity, error) {
	m.mu.Lock()
	prev := m.state
	if prev.Phase == Running {
		m.mu.Unlock()
		return "", appErr.Newf(appErr.ActionInFlight, "run %s is still pending", prev.Action.Identity)
	}
	m.mu.Unlock()

	next := State{Action: a}
	switch a.Kind {
	case Run:
		next.Phase = Running
	case Submit:
		next.Phase = Submitting
	default:
		return "", appErr.ValidationError("kind", "must be run or submit")
	}
	m.transition(next)

	var superseded reconciler.Identity
	if prev.Phase != Idle && !prev.Phase.IsTerminal() {
		superseded = prev.Action.Identity
	}
	return superseded, nil
}

// Apply feeds a reconciled emission. Emissions for identities other than the active one are stale
// and ignored. It reports whether a transition happened.
func (m *Machine) Apply(em reconciler.Emission) bool {
	cur := m.State()
	ctx := context.WithValue(context.Background(), contextkey.Identity, string(em.Identity))
	if em.Identity != cur.Action.Identity || cur.Phase == Idle || cur.Phase.IsTerminal() {
		logger.Debug(ctx, "ignore stale emission", zap.String("phase", string(cur.Phase)))
		return false
	}
	if em.Failed() {
		return m.fail(cur, em.Failure)
	}

	o := em.Outcome
	switch cur.Phase {
	case Running:
		return m.complete(cur, o)
	case Submitting:
		if o.IsTerminal() {
			return m.complete(cur, o)
		}
		m.transition(State{Phase: Processing, Action: cur.Action})
		return true
	case Processing:
		if o.IsTerminal() {
			return m.complete(cur, o)
		}
	}
	return false
}

// Fail moves the action with the given identity to Failed.
func (m *Machine) Fail(id reconciler.Identity, reason string) bool {
	cur := m.State()
	if id != cur.Action.Identity || cur.Phase == Idle || cur.Phase.IsTerminal() {
		return false
	}
	return m.fail(cur, reason)
}

func (m *Machine) fail(cur State, reason string) bool {
	m.transition(State{Phase: Failed, Action: cur.Action, Reason: reason})
	return true
}

func (m *Machine) complete(cur State, o outcome.Outcome) bool {
	// Listeners observing Completed already see the hook's effects.
	if cur.Action.Kind == Submit && o.Verdict == outcome.Accepted && m.accepted != nil {
		m.accepted(cur.Action, o)
	}
	out := o
	m.transition(State{Phase: Completed, Action: cur.Action, Outcome: &out})
	return true
}

func (m *Machine) transition(next State) {
	m.mu.Lock()
	next.Seq = m.state.Seq + 1
	m.state = next
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	ctx := context.WithValue(context.Background(), contextkey.Identity, string(next.Action.Identity))
	logger.Debug(ctx, "lifecycle transition", zap.String("phase", string(next.Phase)), zap.Uint64("seq", next.Seq))
	for _, fn := range listeners {
		fn(next)
	}
}
