// Package coordinator composes the normalizer, reconciler, lifecycle machine and solved cache
// behind the action API used by the workspace shell.
package coordinator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"practiceoj/internal/client/api"
	"practiceoj/internal/client/push"
	"practiceoj/internal/workspace/lifecycle"
	"practiceoj/internal/workspace/outcome"
	"practiceoj/internal/workspace/reconciler"
	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Params carries the inputs of a run or submit action.
type Params struct {
	ProblemID string
	Language  string
	Code      string
	Stdin     string
}

type tracked struct {
	action    lifecycle.Action
	startedAt time.Time
}

// Coordinator owns the reconciler and the state machine from a single event loop goroutine.
// HTTP calls, push reads and timers only post work into the loop.
// Lifecycle listeners run on the loop and must not call OnAction synchronously.
type Coordinator struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	quit   chan struct{}
	exited chan struct{}
	async  sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	closed bool

	// owned by the loop
	rec          *reconciler.Reconciler
	machine      *lifecycle.Machine
	pending      map[reconciler.Identity]*tracked
	bySubmission map[string]reconciler.Identity
	timers       map[reconciler.Identity]*time.Timer
	lastReceived int64
}

// New creates a coordinator and starts its event loop.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("backend is required")
	}
	if cfg.Solved == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("solved cache is required")
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan func(), 64),
		quit:         make(chan struct{}),
		exited:       make(chan struct{}),
		pending:      make(map[reconciler.Identity]*tracked),
		bySubmission: make(map[string]reconciler.Identity),
		timers:       make(map[reconciler.Identity]*time.Timer),
	}
	c.rec = reconciler.New(c.release)
	c.machine = lifecycle.New(c.submissionAccepted)
	go c.loop()
	return c, nil
}

// Start subscribes to the push channel with the session credential.
func (c *Coordinator) Start(ctx context.Context, credential string) error {
	if c.cfg.Push == nil {
		return nil
	}
	select {
	case <-c.quit:
		return appErr.New(appErr.CoordinatorClosed)
	default:
	}
	onEvent := func(ev push.Event) {
		c.post(func() { c.handlePush(ev) })
	}
	onClose := func(err error) {
		if err != nil {
			c.post(func() { c.pushLost(err) })
		}
	}
	return c.cfg.Push.Subscribe(ctx, credential, onEvent, onClose)
}

// Close unsubscribes from the push channel, stops timers and the loop.
func (c *Coordinator) Close() error {
	var err error
	c.once.Do(func() {
		if c.cfg.Push != nil {
			err = c.cfg.Push.Close()
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.quit)
		c.cancel()
		<-c.exited
		c.async.Wait()
	})
	return err
}

// OnAction starts a run or submit and returns its identity. The result is observed through
// SubscribeLifecycle.
func (c *Coordinator) OnAction(ctx context.Context, kind lifecycle.ActionKind, p Params) (reconciler.Identity, error) {
	if err := c.validate(kind, p); err != nil {
		return "", err
	}
	action := lifecycle.Action{
		Kind:      kind,
		Identity:  c.cfg.NewIdentity(),
		ProblemID: p.ProblemID,
		Language:  p.Language,
		Code:      p.Code,
		Stdin:     p.Stdin,
	}

	errCh := make(chan error, 1)
	if !c.post(func() { errCh <- c.begin(action) }) {
		return "", appErr.New(appErr.CoordinatorClosed)
	}
	select {
	case err := <-errCh:
		if err != nil {
			return "", err
		}
	case <-c.exited:
		// The loop stopped before reaching the queued action.
		return "", appErr.New(appErr.CoordinatorClosed)
	}

	callCtx := c.actionContext(ctx, action)
	if !c.goAsync(func() { c.dispatch(callCtx, action) }) {
		return "", appErr.New(appErr.CoordinatorClosed)
	}
	logger.Info(callCtx, "action started", zap.String("kind", string(kind)), zap.String("language", p.Language))
	return action.Identity, nil
}

// SetUser changes the user id push events are filtered by, e.g. after a login in the shell.
func (c *Coordinator) SetUser(userID string) {
	c.post(func() { c.cfg.UserID = userID })
}

// SubscribeLifecycle registers a listener for lifecycle transitions.
func (c *Coordinator) SubscribeLifecycle(fn lifecycle.Listener) func() {
	return c.machine.Subscribe(fn)
}

// State returns the current lifecycle snapshot.
func (c *Coordinator) State() lifecycle.State {
	return c.machine.State()
}

// IsSolved reports the displayed solved status of a problem.
func (c *Coordinator) IsSolved(problemID string) bool {
	return c.cfg.Solved.IsSolved(problemID)
}

// RequestReview asks the backend for an AI review of the given code.
func (c *Coordinator) RequestReview(ctx context.Context, req api.ReviewRequest) (string, error) {
	id, err := c.cfg.Backend.RequestReview(ctx, req)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ReviewFailed, "request review failed")
	}
	return id, nil
}

// SyncSolvedStatus reads the server's solved flag and merges it into the local cache.
// It returns the displayed status after the merge.
func (c *Coordinator) SyncSolvedStatus(ctx context.Context, problemID string) (bool, error) {
	st, err := c.cfg.Backend.ProblemStatus(ctx, problemID)
	if err != nil {
		return c.IsSolved(problemID), err
	}
	done := make(chan struct{})
	if !c.post(func() {
		c.cfg.Solved.MergeServerStatus(c.ctx, problemID, st.Solved)
		close(done)
	}) {
		return c.IsSolved(problemID), appErr.New(appErr.CoordinatorClosed)
	}
	select {
	case <-done:
	case <-c.exited:
		return c.IsSolved(problemID), appErr.New(appErr.CoordinatorClosed)
	}
	return c.IsSolved(problemID), nil
}

func (c *Coordinator) validate(kind lifecycle.ActionKind, p Params) error {
	if kind != lifecycle.Run && kind != lifecycle.Submit {
		return appErr.ValidationError("kind", "must be run or submit")
	}
	if strings.TrimSpace(p.Language) == "" {
		return appErr.ValidationError("language", "is required")
	}
	if strings.TrimSpace(p.Code) == "" {
		return appErr.ValidationError("code", "is required")
	}
	if len(p.Code) > c.cfg.MaxCodeBytes {
		return appErr.Newf(appErr.CodeTooLarge, "code is %d bytes, limit is %d", len(p.Code), c.cfg.MaxCodeBytes)
	}
	if kind == lifecycle.Submit && strings.TrimSpace(p.ProblemID) == "" {
		return appErr.ValidationError("problemId", "is required")
	}
	return nil
}

func (c *Coordinator) actionContext(ctx context.Context, a lifecycle.Action) context.Context {
	out := context.WithValue(c.ctx, contextkey.Identity, string(a.Identity))
	traceID, _ := ctx.Value(contextkey.TraceID).(string)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	out = context.WithValue(out, contextkey.TraceID, traceID)
	if a.ProblemID != "" {
		out = context.WithValue(out, contextkey.ProblemID, a.ProblemID)
	}
	return out
}

func (c *Coordinator) loop() {
	defer close(c.exited)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.quit:
			for id, t := range c.timers {
				t.Stop()
				delete(c.timers, id)
			}
			return
		}
	}
}

// post hands fn to the loop. It reports false once the coordinator is closed.
func (c *Coordinator) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// goAsync reports false once Close has started waiting on in-flight work.
func (c *Coordinator) goAsync(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.async.Add(1)
	go func() {
		defer c.async.Done()
		fn()
	}()
	return true
}

// begin runs on the loop.
func (c *Coordinator) begin(a lifecycle.Action) error {
	superseded, err := c.machine.Start(a)
	if err != nil {
		return err
	}
	if superseded != "" {
		logger.Info(c.ctx, "action superseded", zap.String("identity", string(superseded)))
		c.rec.Forget(superseded)
	}
	c.rec.Track(a.Identity)
	c.pending[a.Identity] = &tracked{action: a, startedAt: c.cfg.Now()}
	return nil
}

// dispatch runs off the loop and performs the HTTP call.
func (c *Coordinator) dispatch(ctx context.Context, a lifecycle.Action) {
	var (
		p   outcome.Payload
		err error
	)
	switch a.Kind {
	case lifecycle.Run:
		p, err = c.cfg.Backend.RunCode(ctx, api.RunRequest{Code: a.Code, Language: a.Language, Stdin: a.Stdin})
	case lifecycle.Submit:
		p, err = c.cfg.Backend.SubmitSolution(ctx, api.SubmitRequest{
			ProblemID: a.ProblemID,
			Code:      a.Code,
			Language:  a.Language,
			ClientID:  string(a.Identity),
		})
	}
	if err != nil {
		logger.Warn(ctx, "backend call failed", zap.Error(err))
	}
	c.post(func() { c.resolveHTTP(a, p, err) })
}

func (c *Coordinator) resolveHTTP(a lifecycle.Action, p outcome.Payload, err error) {
	id := a.Identity
	if c.rec.Retired(id) {
		logger.Debug(c.ctx, "drop http result for retired identity", zap.String("identity", string(id)))
		return
	}
	if err != nil {
		c.fail(id, appErr.GetError(err).Error())
		return
	}
	kind := outcome.SubmitResult
	if a.Kind == lifecycle.Run {
		kind = outcome.RunResult
	}
	if err := p.Validate(kind); err != nil {
		c.fail(id, "malformed response: "+err.Error())
		return
	}
	if a.Kind == lifecycle.Submit && p.SubmissionID != "" {
		c.bySubmission[p.SubmissionID] = id
	}
	c.offer(id, outcome.Normalize(outcome.ChannelHTTP, a.Language, p))
}

func (c *Coordinator) handlePush(ev push.Event) {
	id, ok := c.correlate(ev.Payload)
	if !ok {
		logger.Debug(c.ctx, "drop uncorrelated push event", zap.String("event", ev.Name))
		return
	}
	if err := ev.Payload.Validate(outcome.SubmitResult); err != nil {
		logger.Warn(c.ctx, "drop push event without verdict", zap.String("identity", string(id)), zap.Error(err))
		return
	}
	language := ev.Payload.Language
	if t, ok := c.pending[id]; ok {
		language = t.action.Language
	}
	c.offer(id, outcome.Normalize(outcome.ChannelPush, language, ev.Payload))
}

// correlate resolves a push payload to an identity: explicit client id first, then the server
// submission id learned from HTTP, then problem and user within the correlation window.
func (c *Coordinator) correlate(p outcome.Payload) (reconciler.Identity, bool) {
	if p.ClientID != "" {
		id := reconciler.Identity(p.ClientID)
		if _, ok := c.pending[id]; ok || c.rec.Retired(id) {
			return id, true
		}
		return "", false
	}
	if p.SubmissionID != "" {
		if id, ok := c.bySubmission[p.SubmissionID]; ok {
			return id, true
		}
	}
	if p.ProblemID == "" || (p.UserID != "" && c.cfg.UserID != "" && p.UserID != c.cfg.UserID) {
		return "", false
	}
	now := c.cfg.Now()
	candidates := make([]*tracked, 0, 1)
	for _, t := range c.pending {
		if t.action.Kind != lifecycle.Submit || t.action.ProblemID != p.ProblemID {
			continue
		}
		if now.Sub(t.startedAt) > c.cfg.CorrelationWindow {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].startedAt.After(candidates[j].startedAt) })
	return candidates[0].action.Identity, true
}

func (c *Coordinator) offer(id reconciler.Identity, o outcome.Outcome) {
	if o.ReceivedAt == 0 {
		o.ReceivedAt = c.nextReceivedAt()
	} else if o.ReceivedAt > c.lastReceived {
		c.lastReceived = o.ReceivedAt
	}
	if o.SubmissionID == "" {
		for sid, owner := range c.bySubmission {
			if owner == id {
				o.SubmissionID = sid
				break
			}
		}
	}
	em, ok := c.rec.Offer(id, o)
	if !ok {
		return
	}
	c.apply(em)
}

// nextReceivedAt returns a strictly increasing millisecond clock reading.
func (c *Coordinator) nextReceivedAt() int64 {
	now := c.cfg.Now().UnixMilli()
	if now <= c.lastReceived {
		now = c.lastReceived + 1
	}
	c.lastReceived = now
	return now
}

func (c *Coordinator) apply(em reconciler.Emission) {
	before := c.machine.State()
	if !c.machine.Apply(em) {
		return
	}
	after := c.machine.State()
	if after.Phase == lifecycle.Processing && before.Phase != lifecycle.Processing {
		c.armTimeout(em.Identity)
	}
	if after.Phase.IsTerminal() {
		ctx := c.actionContext(c.ctx, after.Action)
		if after.Outcome != nil {
			logger.Info(ctx, "action completed", zap.String("result", after.Outcome.Summary()), zap.String("channel", string(after.Outcome.Channel)))
		} else {
			logger.Warn(ctx, "action failed", zap.String("reason", after.Reason))
		}
	}
}

func (c *Coordinator) armTimeout(id reconciler.Identity) {
	if _, ok := c.timers[id]; ok {
		return
	}
	c.timers[id] = time.AfterFunc(c.cfg.Timeout, func() {
		c.post(func() { c.expire(id) })
	})
}

func (c *Coordinator) expire(id reconciler.Identity) {
	em, ok := c.rec.Expire(id)
	if !ok {
		return
	}
	c.apply(em)
}

func (c *Coordinator) fail(id reconciler.Identity, reason string) {
	if c.rec.Retired(id) {
		return
	}
	c.rec.Forget(id)
	c.machine.Fail(id, reason)
}

// pushLost fails the active submission waiting on push.
func (c *Coordinator) pushLost(err error) {
	st := c.machine.State()
	if st.Phase != lifecycle.Processing {
		return
	}
	c.fail(st.Identity(), appErr.GetError(err).Error())
}

// release is the reconciler's retirement hook and drops all correlation state for id.
func (c *Coordinator) release(id reconciler.Identity) {
	delete(c.pending, id)
	for sid, owner := range c.bySubmission {
		if owner == id {
			delete(c.bySubmission, sid)
		}
	}
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

// submissionAccepted runs on the loop when a submission completes with Accepted.
func (c *Coordinator) submissionAccepted(a lifecycle.Action, o outcome.Outcome) {
	ctx := c.actionContext(c.ctx, a)
	c.cfg.Solved.MarkSolved(ctx, a.ProblemID)
	if !c.cfg.AutoReview {
		return
	}
	req := api.ReviewRequest{ProblemID: a.ProblemID, Code: a.Code, Language: a.Language, SubmissionID: o.SubmissionID}
	c.goAsync(func() {
		reviewID, err := c.cfg.Backend.RequestReview(ctx, req)
		if err != nil {
			logger.Warn(ctx, "ai review request failed", zap.Error(err))
			return
		}
		logger.Info(ctx, "ai review scheduled", zap.String("review_id", reviewID))
	})
}
