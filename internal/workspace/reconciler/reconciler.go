// Package reconciler merges outcomes arriving from the HTTP call and the push channel
// into one authoritative outcome per submission identity.
package reconciler

import (
	"context"

	"practiceoj/internal/workspace/outcome"
	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// Identity correlates one run/submit action with its outcomes.
type Identity string

// FailureTimeout is the reason reported when no terminal outcome arrives in time.
const FailureTimeout = "timeout"

// Emission is the authoritative state of an identity after an accepted change.
// Exactly one of Outcome or Failure is meaningful.
type Emission struct {
	Identity Identity
	Outcome  outcome.Outcome
	Failure  string
}

// Failed reports whether the emission is a synthesized failure.
func (e Emission) Failed() bool {
	return e.Failure != ""
}

// Terminal reports whether the emission ends the identity's lifecycle.
func (e Emission) Terminal() bool {
	return e.Failed() || e.Outcome.IsTerminal()
}

type entry struct {
	current outcome.Outcome
	has     bool
}

// Reconciler is not safe for concurrent use; the coordinator owns it from its event loop.
type Reconciler struct {
	entries  map[Identity]*entry
	retired  map[Identity]struct{}
	onRetire func(Identity)
}

// New creates a reconciler. onRetire, when set, is called once per retired identity
// so interest in its push events can be dropped.
func New(onRetire func(Identity)) *Reconciler {
	return &Reconciler{
		entries:  make(map[Identity]*entry),
		retired:  make(map[Identity]struct{}),
		onRetire: onRetire,
	}
}

// Track registers interest in an identity before any outcome arrives.
func (r *Reconciler) Track(id Identity) {
	if _, done := r.retired[id]; done {
		return
	}
	if _, ok := r.entries[id]; !ok {
		r.entries[id] = &entry{}
	}
}

// Offer feeds one outcome. It returns the new authoritative emission and true when the
// outcome was accepted; duplicates, stale data and events for retired identities return false.
func (r *Reconciler) Offer(id Identity, o outcome.Outcome) (Emission, bool) {
	ctx := context.WithValue(context.Background(), contextkey.Identity, string(id))
	if _, done := r.retired[id]; done {
		logger.Debug(ctx, "drop outcome for retired identity", zap.String("channel", string(o.Channel)), zap.String("verdict", string(o.Verdict)))
		return Emission{}, false
	}
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	if e.has && !supersedes(o, e.current) {
		logger.Debug(ctx, "drop outcome not more advanced", zap.String("channel", string(o.Channel)), zap.String("verdict", string(o.Verdict)))
		return Emission{}, false
	}
	e.current = o
	e.has = true
	if o.IsTerminal() {
		r.retire(id)
	}
	return Emission{Identity: id, Outcome: o}, true
}

// Expire synthesizes a timeout failure for an identity that has not reached a terminal outcome.
func (r *Reconciler) Expire(id Identity) (Emission, bool) {
	if _, done := r.retired[id]; done {
		return Emission{}, false
	}
	if _, ok := r.entries[id]; !ok {
		return Emission{}, false
	}
	r.retire(id)
	return Emission{Identity: id, Failure: FailureTimeout}, true
}

// Forget retires an identity the user abandoned; its late outcomes are dropped.
func (r *Reconciler) Forget(id Identity) {
	if _, done := r.retired[id]; done {
		return
	}
	r.retire(id)
}

// Retired reports whether the identity no longer accepts outcomes.
func (r *Reconciler) Retired(id Identity) bool {
	_, done := r.retired[id]
	return done
}

func (r *Reconciler) retire(id Identity) {
	delete(r.entries, id)
	r.retired[id] = struct{}{}
	if r.onRetire != nil {
		r.onRetire(id)
	}
}

// supersedes implements the advancement rule: strictly more advanced, or equally advanced
// with per-test results where the current has none, or equally advanced and received later.
func supersedes(next, cur outcome.Outcome) bool {
	nr, cr := next.Verdict.Rank(), cur.Verdict.Rank()
	if nr != cr {
		return nr > cr
	}
	if len(next.PerTestResults) > 0 && len(cur.PerTestResults) == 0 {
		return true
	}
	if len(next.PerTestResults) == 0 && len(cur.PerTestResults) > 0 {
		return false
	}
	return next.ReceivedAt > cur.ReceivedAt
}
