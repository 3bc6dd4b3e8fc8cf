package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"practiceoj/internal/client/api"
	"practiceoj/internal/client/push"
	"practiceoj/internal/workspace/lifecycle"
	"practiceoj/internal/workspace/outcome"
	"practiceoj/internal/workspace/reconciler"
	"practiceoj/internal/workspace/solved"
	appErr "practiceoj/pkg/errors"
)

type fakeBackend struct {
	run     func(api.RunRequest) (outcome.Payload, error)
	submit  func(api.SubmitRequest) (outcome.Payload, error)
	status  func(string) (api.ProblemStatus, error)
	reviews chan api.ReviewRequest
}

func (f *fakeBackend) RunCode(ctx context.Context, req api.RunRequest) (outcome.Payload, error) {
	return f.run(req)
}

func (f *fakeBackend) SubmitSolution(ctx context.Context, req api.SubmitRequest) (outcome.Payload, error) {
	return f.submit(req)
}

func (f *fakeBackend) RequestReview(ctx context.Context, req api.ReviewRequest) (string, error) {
	if f.reviews != nil {
		f.reviews <- req
	}
	return "review-1", nil
}

func (f *fakeBackend) ProblemStatus(ctx context.Context, problemID string) (api.ProblemStatus, error) {
	return f.status(problemID)
}

type fakePush struct {
	mu      sync.Mutex
	token   string
	onEvent func(push.Event)
	onClose func(error)
	closed  bool
}

func (f *fakePush) Subscribe(ctx context.Context, credential string, onEvent func(push.Event), onClose func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = credential
	f.onEvent = onEvent
	f.onClose = onClose
	return nil
}

func (f *fakePush) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePush) emit(t *testing.T, body string) {
	t.Helper()
	p, err := outcome.ParsePayload([]byte(body))
	if err != nil {
		t.Fatalf("bad push payload: %v", err)
	}
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	fn(push.Event{Name: push.EventResult, Payload: p})
}

func payload(t *testing.T, body string) outcome.Payload {
	t.Helper()
	p, err := outcome.ParsePayload([]byte(body))
	if err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	return p
}

type recorder struct {
	mu     sync.Mutex
	states []lifecycle.State
}

func (r *recorder) phases() []lifecycle.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]lifecycle.Phase, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Phase)
	}
	return out
}

func (r *recorder) count(p lifecycle.Phase) int {
	n := 0
	for _, got := range r.phases() {
		if got == p {
			n++
		}
	}
	return n
}

type harness struct {
	c       *Coordinator
	backend *fakeBackend
	push    *fakePush
	solved  *solved.Cache
	rec     *recorder
}

func newHarness(t *testing.T, backend *fakeBackend, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{backend: backend, push: &fakePush{}, solved: solved.New(nil), rec: &recorder{}}
	cfg := Config{Backend: backend, Push: h.push, Solved: h.solved, UserID: "u1"}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	c.SubscribeLifecycle(func(s lifecycle.State) {
		h.rec.mu.Lock()
		h.rec.states = append(h.rec.states, s)
		h.rec.mu.Unlock()
	})
	if err := c.Start(context.Background(), "token"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.c = c
	return h
}

// flush waits until everything posted to the loop so far has run.
func flush(c *Coordinator) {
	done := make(chan struct{})
	if c.post(func() { close(done) }) {
		<-done
	}
}

func waitPhase(t *testing.T, c *Coordinator, phase lifecycle.Phase) lifecycle.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		flush(c)
		if st := c.State(); st.Phase == phase {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, state is %+v", phase, c.State())
	return lifecycle.State{}
}

func processingBackend() *fakeBackend {
	return &fakeBackend{
		submit: func(req api.SubmitRequest) (outcome.Payload, error) {
			p := outcome.Payload{SubmissionID: "s-" + req.ProblemID, Verdict: "Processing"}
			return p, nil
		},
	}
}

var submitParams = Params{ProblemID: "p1", Language: "cpp", Code: "int main() {}"}

func TestHappyPath(t *testing.T) {
	backend := processingBackend()
	backend.reviews = make(chan api.ReviewRequest, 1)
	h := newHarness(t, backend, func(cfg *Config) { cfg.AutoReview = true })
	if h.push.token != "token" {
		t.Fatalf("push not subscribed with credential: %q", h.push.token)
	}

	id, err := h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	waitPhase(t, h.c, lifecycle.Processing)
	if h.c.IsSolved("p1") {
		t.Fatal("problem must not be solved yet")
	}

	h.push.emit(t, `{"clientId":"`+string(id)+`","verdict":"Accepted","testsPassed":5,"testsTotal":5}`)
	st := waitPhase(t, h.c, lifecycle.Completed)
	if st.Outcome.Verdict != outcome.Accepted || st.Outcome.Channel != outcome.ChannelPush {
		t.Fatalf("unexpected outcome: %+v", st.Outcome)
	}
	if !h.c.IsSolved("p1") {
		t.Fatal("accepted submission should mark problem solved")
	}
	select {
	case req := <-backend.reviews:
		if req.ProblemID != "p1" || req.SubmissionID != "s-p1" {
			t.Fatalf("unexpected review request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ai review was not requested")
	}
	want := []lifecycle.Phase{lifecycle.Submitting, lifecycle.Processing, lifecycle.Completed}
	if got := h.rec.phases(); len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("got phases %v, want %v", got, want)
	}
}

func TestRaceWonByPush(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		submit: func(req api.SubmitRequest) (outcome.Payload, error) {
			<-release
			return outcome.Payload{Verdict: "Processing"}, nil
		},
	}
	h := newHarness(t, backend, nil)

	id, err := h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	h.push.emit(t, `{"clientId":"`+string(id)+`","verdict":"Accepted","testsPassed":5,"testsTotal":5}`)
	waitPhase(t, h.c, lifecycle.Completed)

	close(release)
	h.c.async.Wait()
	flush(h.c)

	st := h.c.State()
	if st.Phase != lifecycle.Completed || st.Outcome.Verdict != outcome.Accepted {
		t.Fatalf("late processing must not replace accepted: %+v", st)
	}
	if got := h.rec.phases(); len(got) != 2 {
		t.Fatalf("expected Submitting then Completed, got %v", got)
	}
}

func TestDuplicatePush(t *testing.T) {
	h := newHarness(t, processingBackend(), nil)
	id, _ := h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	waitPhase(t, h.c, lifecycle.Processing)

	body := `{"clientId":"` + string(id) + `","verdict":"Accepted","testsPassed":5,"testsTotal":5}`
	h.push.emit(t, body)
	h.push.emit(t, body)
	waitPhase(t, h.c, lifecycle.Completed)
	flush(h.c)

	if n := h.rec.count(lifecycle.Completed); n != 1 {
		t.Fatalf("expected one Completed transition, got %d", n)
	}
}

func TestTimeout(t *testing.T) {
	h := newHarness(t, processingBackend(), func(cfg *Config) { cfg.Timeout = 30 * time.Millisecond })
	id, _ := h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	waitPhase(t, h.c, lifecycle.Processing)

	st := waitPhase(t, h.c, lifecycle.Failed)
	if st.Reason != reconciler.FailureTimeout {
		t.Fatalf("expected timeout, got %q", st.Reason)
	}
	h.push.emit(t, `{"clientId":"`+string(id)+`","verdict":"Accepted","testsPassed":5,"testsTotal":5}`)
	flush(h.c)
	if h.c.State().Phase != lifecycle.Failed || h.c.IsSolved("p1") {
		t.Fatal("result after timeout must be dropped")
	}
}

func TestRunRejectedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		run: func(req api.RunRequest) (outcome.Payload, error) {
			<-release
			return payload(t, `{"success":false,"error":"main.cpp:3:7: error: expected ';'"}`), nil
		},
	}
	h := newHarness(t, backend, nil)

	if _, err := h.c.OnAction(context.Background(), lifecycle.Run, Params{Language: "cpp", Code: "x", Stdin: "1"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := h.c.OnAction(context.Background(), lifecycle.Submit, submitParams); !appErr.Is(err, appErr.ActionInFlight) {
		t.Fatalf("expected ActionInFlight, got %v", err)
	}
	close(release)

	st := waitPhase(t, h.c, lifecycle.Completed)
	if st.Outcome.Kind != outcome.RunResult || st.Outcome.Verdict != outcome.RuntimeError {
		t.Fatalf("unexpected run outcome: %+v", st.Outcome)
	}
	if len(st.Outcome.Diagnostics) != 1 || st.Outcome.Diagnostics[0].Line != 3 || st.Outcome.Diagnostics[0].Column != 7 {
		t.Fatalf("unexpected diagnostics: %+v", st.Outcome.Diagnostics)
	}
}

func TestTransportErrorFails(t *testing.T) {
	backend := &fakeBackend{
		submit: func(req api.SubmitRequest) (outcome.Payload, error) {
			return outcome.Payload{}, appErr.Wrapf(errors.New("connection refused"), appErr.RequestFailed, "POST /api/v1/submissions failed")
		},
	}
	h := newHarness(t, backend, nil)
	h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	st := waitPhase(t, h.c, lifecycle.Failed)
	if !strings.Contains(st.Reason, "connection refused") {
		t.Fatalf("unexpected reason: %q", st.Reason)
	}
}

func TestMalformedResponseFails(t *testing.T) {
	backend := &fakeBackend{
		submit: func(req api.SubmitRequest) (outcome.Payload, error) {
			return payload(t, `{"testsTotal": 3}`), nil
		},
	}
	h := newHarness(t, backend, nil)
	h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	st := waitPhase(t, h.c, lifecycle.Failed)
	if !strings.HasPrefix(st.Reason, "malformed response") {
		t.Fatalf("unexpected reason: %q", st.Reason)
	}
}

func TestPushCorrelation(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		body string
		want lifecycle.Phase
	}{
		{name: "server submission id", body: `{"submissionId":"s-p1","verdict":"WA","testsPassed":1,"testsTotal":5}`, want: lifecycle.Completed},
		{name: "problem and user", body: `{"problemId":"p1","userId":"u1","verdict":"WA","testsPassed":1,"testsTotal":5}`, want: lifecycle.Completed},
		{name: "other user", body: `{"problemId":"p1","userId":"u2","verdict":"WA","testsPassed":1,"testsTotal":5}`, want: lifecycle.Processing},
		{name: "other problem", body: `{"problemId":"p2","verdict":"WA","testsPassed":1,"testsTotal":5}`, want: lifecycle.Processing},
		{name: "foreign client id", body: `{"clientId":"someone-else","verdict":"WA","testsPassed":1,"testsTotal":5}`, want: lifecycle.Processing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, processingBackend(), func(cfg *Config) { cfg.Now = func() time.Time { return now } })
			h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
			waitPhase(t, h.c, lifecycle.Processing)
			h.push.emit(t, tt.body)
			flush(h.c)
			if got := h.c.State().Phase; got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCorrelationWindowExpires(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := newHarness(t, processingBackend(), func(cfg *Config) {
		cfg.Now = clock
		cfg.CorrelationWindow = time.Minute
	})
	h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	waitPhase(t, h.c, lifecycle.Processing)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	h.push.emit(t, `{"problemId":"p1","verdict":"AC","testsPassed":5,"testsTotal":5}`)
	flush(h.c)
	if h.c.State().Phase != lifecycle.Processing {
		t.Fatalf("event outside the window must not correlate: %+v", h.c.State())
	}
}

func TestSupersededSubmissionIgnored(t *testing.T) {
	h := newHarness(t, processingBackend(), nil)
	first, _ := h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	waitPhase(t, h.c, lifecycle.Processing)

	second, err := h.c.OnAction(context.Background(), lifecycle.Submit, Params{ProblemID: "p2", Language: "cpp", Code: "y"})
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	h.push.emit(t, `{"clientId":"`+string(first)+`","verdict":"Accepted","testsPassed":5,"testsTotal":5}`)
	st := waitPhase(t, h.c, lifecycle.Processing)
	if st.Identity() != second {
		t.Fatalf("expected active identity %s, got %s", second, st.Identity())
	}
	if h.c.IsSolved("p1") {
		t.Fatal("superseded submission must not mark solved")
	}
}

func TestPushLostFailsProcessing(t *testing.T) {
	h := newHarness(t, processingBackend(), nil)
	h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	waitPhase(t, h.c, lifecycle.Processing)

	h.push.mu.Lock()
	onClose := h.push.onClose
	h.push.mu.Unlock()
	onClose(appErr.New(appErr.PushDisconnected))

	st := waitPhase(t, h.c, lifecycle.Failed)
	if st.Reason != appErr.PushDisconnected.Message() {
		t.Fatalf("unexpected reason: %q", st.Reason)
	}
}

func TestSyncSolvedStatus(t *testing.T) {
	server := map[string]bool{"p1": true, "p2": false}
	backend := &fakeBackend{
		status: func(id string) (api.ProblemStatus, error) {
			return api.ProblemStatus{ProblemID: id, Solved: server[id]}, nil
		},
	}
	h := newHarness(t, backend, nil)
	if ok, err := h.c.SyncSolvedStatus(context.Background(), "p1"); err != nil || !ok {
		t.Fatalf("expected solved from server: %v %v", ok, err)
	}
	h.solved.MarkSolved(context.Background(), "p2")
	if ok, err := h.c.SyncSolvedStatus(context.Background(), "p2"); err != nil || !ok {
		t.Fatalf("stale server flag must not clear local: %v %v", ok, err)
	}
	if ok, _ := h.c.SyncSolvedStatus(context.Background(), "p3"); ok {
		t.Fatal("unknown problem should not be solved")
	}
}

func TestOnActionValidation(t *testing.T) {
	h := newHarness(t, processingBackend(), func(cfg *Config) { cfg.MaxCodeBytes = 4 })
	tests := []struct {
		name string
		kind lifecycle.ActionKind
		p    Params
		code appErr.ErrorCode
	}{
		{name: "no code", kind: lifecycle.Run, p: Params{Language: "cpp"}, code: appErr.ValidationFailed},
		{name: "no language", kind: lifecycle.Run, p: Params{Code: "x"}, code: appErr.ValidationFailed},
		{name: "no problem", kind: lifecycle.Submit, p: Params{Language: "cpp", Code: "x"}, code: appErr.ValidationFailed},
		{name: "too large", kind: lifecycle.Submit, p: Params{ProblemID: "p", Language: "cpp", Code: "12345"}, code: appErr.CodeTooLarge},
		{name: "bad kind", kind: "debug", p: Params{Language: "cpp", Code: "x"}, code: appErr.ValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.c.OnAction(context.Background(), tt.kind, tt.p); !appErr.Is(err, tt.code) {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}
	if h.c.State().Phase != lifecycle.Idle {
		t.Fatal("rejected actions must not change state")
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, processingBackend(), nil)
	if err := h.c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !h.push.closed {
		t.Fatal("push channel should be closed")
	}
	if _, err := h.c.OnAction(context.Background(), lifecycle.Submit, submitParams); !appErr.Is(err, appErr.CoordinatorClosed) {
		t.Fatalf("expected CoordinatorClosed, got %v", err)
	}
	if err := h.c.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

// blockLoop parks the event loop until the returned func is called.
func blockLoop(t *testing.T, c *Coordinator) func() {
	t.Helper()
	release := make(chan struct{})
	started := make(chan struct{})
	if !c.post(func() {
		close(started)
		<-release
	}) {
		t.Fatal("loop already closed")
	}
	<-started
	return func() { close(release) }
}

func waitQueued(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.events) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d queued events, have %d", n, len(c.events))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCallsQueuedBehindCloseReturn(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Coordinator) error
		want appErr.ErrorCode
	}{
		{
			name: "submit",
			call: func(c *Coordinator) error {
				_, err := c.OnAction(context.Background(), lifecycle.Submit, submitParams)
				return err
			},
			want: appErr.CoordinatorClosed,
		},
		{
			name: "sync solved",
			call: func(c *Coordinator) error {
				_, err := c.SyncSolvedStatus(context.Background(), "p1")
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := processingBackend()
			backend.status = func(id string) (api.ProblemStatus, error) {
				return api.ProblemStatus{ProblemID: id, Solved: true}, nil
			}
			h := newHarness(t, backend, nil)
			release := blockLoop(t, h.c)

			errCh := make(chan error, 1)
			go func() { errCh <- tt.call(h.c) }()
			waitQueued(t, h.c, 1)

			closed := make(chan struct{})
			go func() {
				_ = h.c.Close()
				close(closed)
			}()
			<-h.c.quit
			release()

			select {
			case err := <-errCh:
				if tt.want != 0 && !appErr.Is(err, tt.want) {
					t.Fatalf("expected %d, got %v", tt.want, err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("call queued behind close never returned")
			}
			select {
			case <-closed:
			case <-time.After(2 * time.Second):
				t.Fatal("close never returned")
			}
		})
	}
}

func TestSetUserFiltersPush(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, processingBackend(), func(cfg *Config) {
		cfg.UserID = ""
		cfg.Now = func() time.Time { return now }
	})
	h.c.SetUser("u1")
	h.c.OnAction(context.Background(), lifecycle.Submit, submitParams)
	waitPhase(t, h.c, lifecycle.Processing)

	h.push.emit(t, `{"problemId":"p1","userId":"u2","verdict":"AC","testsPassed":5,"testsTotal":5}`)
	flush(h.c)
	if h.c.State().Phase != lifecycle.Processing {
		t.Fatalf("push for another user must be dropped: %+v", h.c.State())
	}
	h.push.emit(t, `{"problemId":"p1","userId":"u1","verdict":"AC","testsPassed":5,"testsTotal":5}`)
	waitPhase(t, h.c, lifecycle.Completed)
}
