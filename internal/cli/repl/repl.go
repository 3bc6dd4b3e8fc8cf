package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"practiceoj/internal/cli/command"
	httpclient "practiceoj/internal/cli/http"
	"practiceoj/internal/cli/state"
	"practiceoj/internal/client/api"
	"practiceoj/internal/workspace/coordinator"
	"practiceoj/internal/workspace/lifecycle"
	"practiceoj/internal/workspace/outcome"
	"practiceoj/internal/workspace/reconciler"
	"practiceoj/internal/workspace/solved"
	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/response"

	"github.com/google/shlex"
)

const (
	prompt             = "practiceoj> "
	sessionPath        = "/api/v1/session"
	defaultWaitTimeout = 2 * time.Minute
	maxFailedTests     = 3
)

// Workspace is the coordinator surface the REPL drives.
type Workspace interface {
	Start(ctx context.Context, credential string) error
	OnAction(ctx context.Context, kind lifecycle.ActionKind, p coordinator.Params) (reconciler.Identity, error)
	SubscribeLifecycle(fn lifecycle.Listener) func()
	State() lifecycle.State
	IsSolved(problemID string) bool
	RequestReview(ctx context.Context, req api.ReviewRequest) (string, error)
	SyncSolvedStatus(ctx context.Context, problemID string) (bool, error)
	SetUser(userID string)
}

// Deps wires a Session.
type Deps struct {
	Client     *httpclient.Client
	Workspace  Workspace
	Solved     *solved.Cache
	Commands   map[string]command.Command
	TokenState *state.TokenState
	StatePath  string
	PrettyJSON bool
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	ws         Workspace
	solved     *solved.Cache
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool

	in  io.Reader
	out io.Writer
	mu  sync.Mutex

	connected   bool
	submissions map[string]string
	unsubscribe func()
	now         func() time.Time
}

func New(deps Deps) *Session {
	s := &Session{
		client:      deps.Client,
		ws:          deps.Workspace,
		solved:      deps.Solved,
		commands:    deps.Commands,
		tokenState:  deps.TokenState,
		statePath:   deps.StatePath,
		prettyJSON:  deps.PrettyJSON,
		in:          os.Stdin,
		out:         os.Stdout,
		submissions: make(map[string]string),
		now:         time.Now,
	}
	if s.commands == nil {
		s.commands = command.Registry()
	}
	if s.tokenState == nil {
		s.tokenState = &state.TokenState{}
	}
	s.unsubscribe = s.ws.SubscribeLifecycle(s.onTransition)
	return s
}

// Connect opens the push channel with the stored credential.
func (s *Session) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}
	token, err := s.tokenState.Credential(s.now())
	if err != nil {
		return err
	}
	if err := s.ws.Start(ctx, token); err != nil {
		return err
	}
	s.connected = true
	return nil
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) {
	defer s.unsubscribe()
	reader := bufio.NewReader(s.in)
	for {
		s.print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if err != io.EOF {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		quit, err := s.Execute(ctx, reader, line)
		if err != nil {
			s.printLine("error: %v", err)
		}
		if quit {
			return
		}
	}
}

// Execute runs one input line. It reports true when the session should end.
func (s *Session) Execute(ctx context.Context, reader *bufio.Reader, line string) (bool, error) {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return true, nil
	case "help":
		s.printHelp()
		return false, nil
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return false, nil
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return false, nil
	}
	return false, s.handleCommand(ctx, reader, line)
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080")
			return
		}
		s.client.SetBaseURL(strings.TrimRight(parts[1], "/"))
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		st, err := state.FromToken(parts[1])
		if err != nil {
			st = state.TokenState{AccessToken: parts[1]}
		}
		s.storeToken(st)
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
		if s.tokenState.UserID != "" {
			s.printLine("user: %s", s.tokenState.UserID)
		}
		if !s.tokenState.ExpiresAt.IsZero() {
			s.printLine("expires: %s", s.tokenState.ExpiresAt.Format(time.RFC3339))
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
		s.printLine("push: %v", s.connected)
	case "outcome":
		st := s.ws.State()
		if st.Outcome == nil {
			s.printLine("outcome: <none>")
			return
		}
		s.printJSON(st.Outcome)
	default:
		s.printLine("usage: show token|config|outcome")
	}
}

func (s *Session) handleCommand(ctx context.Context, reader *bufio.Reader, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "parse command failed")
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return appErr.Newf(appErr.InvalidParams, "unknown command: %s", tokens[0])
	}
	params, err := command.Parse(cmd, tokens[1:])
	if err != nil {
		return err
	}
	if err := s.promptMissing(reader, cmd, params); err != nil {
		return err
	}
	if cmd.RequiresAuth {
		if _, err := s.tokenState.Credential(s.now()); err != nil {
			return err
		}
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	switch cmd.Name {
	case "login":
		return s.login(ctx, params.Get("user"))
	case "run":
		return s.act(ctx, lifecycle.Run, params)
	case "submit":
		return s.act(ctx, lifecycle.Submit, params)
	case "review":
		return s.review(ctx, params)
	case "sync":
		serverSolved, err := s.ws.SyncSolvedStatus(ctx, params.Get("problem"))
		if err != nil {
			return err
		}
		s.printLine("%s solved on server: %v (local: %v)", params.Get("problem"), serverSolved, s.ws.IsSolved(params.Get("problem")))
		return nil
	case "solved":
		s.listSolved(params.Get("problem"))
		return nil
	case "state":
		s.printState(s.ws.State())
		return nil
	case "wait":
		return s.wait(ctx, params)
	}
	return appErr.Newf(appErr.InvalidParams, "command %s has no handler", cmd.Name)
}

func (s *Session) promptMissing(reader *bufio.Reader, cmd command.Command, params command.Params) error {
	for _, field := range command.Missing(cmd, params) {
		if reader == nil {
			return appErr.ValidationError(field.Name, "is required")
		}
		value, err := s.promptValue(reader, field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(reader *bufio.Reader, label string) (string, error) {
	s.printLine("%s:", label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", appErr.Wrapf(err, appErr.InvalidParams, "read input failed")
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) login(ctx context.Context, userID string) error {
	body, err := json.Marshal(map[string]string{"userId": userID})
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "marshal login request failed")
	}
	resp, err := s.client.Do(ctx, http.MethodPost, sessionPath, nil, body)
	if err != nil {
		return err
	}
	env, err := response.Decode(resp.Body)
	if err != nil {
		return err
	}
	if err := env.Err(); err != nil {
		return err
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return appErr.Newf(appErr.MalformedResponse, "session response has no token")
	}
	st, err := state.FromToken(data.Token)
	if err != nil {
		return err
	}
	s.storeToken(st)
	s.printLine("logged in as %s", st.UserID)
	return s.Connect(ctx)
}

func (s *Session) storeToken(st state.TokenState) {
	*s.tokenState = st
	s.ws.SetUser(st.UserID)
	if s.statePath == "" {
		return
	}
	if err := state.Save(s.statePath, st); err != nil {
		s.printLine("save token failed: %v", err)
	}
}

func (s *Session) act(ctx context.Context, kind lifecycle.ActionKind, params command.Params) error {
	code, err := command.Source(params)
	if err != nil {
		return err
	}
	id, err := s.ws.OnAction(ctx, kind, coordinator.Params{
		ProblemID: params.Get("problem"),
		Language:  params.Get("lang"),
		Code:      code,
		Stdin:     params.Get("stdin"),
	})
	if err != nil {
		return err
	}
	s.printLine("%s started (%s)", kind, shortID(id))
	return nil
}

func (s *Session) review(ctx context.Context, params command.Params) error {
	code, err := command.Source(params)
	if err != nil {
		return err
	}
	problemID := params.Get("problem")
	submissionID := params.Get("submission")
	if submissionID == "" {
		s.mu.Lock()
		submissionID = s.submissions[problemID]
		s.mu.Unlock()
	}
	reviewID, err := s.ws.RequestReview(ctx, api.ReviewRequest{
		ProblemID:    problemID,
		Code:         code,
		Language:     params.Get("lang"),
		SubmissionID: submissionID,
	})
	if err != nil {
		return err
	}
	s.printLine("review requested: %s", reviewID)
	return nil
}

func (s *Session) listSolved(problemID string) {
	if problemID != "" {
		s.printLine("%s solved: %v", problemID, s.ws.IsSolved(problemID))
		return
	}
	if s.solved == nil {
		s.printLine("solved cache unavailable")
		return
	}
	entries := s.solved.Entries()
	if len(entries) == 0 {
		s.printLine("no solved problems yet")
		return
	}
	for _, e := range entries {
		s.printLine("  %s  %s", e.ProblemID, e.SolvedAt.Format(time.RFC3339))
	}
}

func (s *Session) wait(ctx context.Context, params command.Params) error {
	timeout := defaultWaitTimeout
	if params.Get("timeout") != "" {
		d, err := params.Duration("timeout")
		if err != nil {
			return err
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := s.ws.State()
		if st.Phase == lifecycle.Idle || st.Phase.IsTerminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return appErr.Newf(appErr.Timeout, "still %s after %s", st.Phase, timeout)
		case <-ticker.C:
		}
	}
}

// onTransition runs on the coordinator loop and must not call back into the workspace.
func (s *Session) onTransition(st lifecycle.State) {
	if st.Phase == lifecycle.Completed && st.Action.Kind == lifecycle.Submit && st.Outcome != nil && st.Outcome.SubmissionID != "" {
		s.mu.Lock()
		s.submissions[st.Action.ProblemID] = st.Outcome.SubmissionID
		s.mu.Unlock()
	}
	s.printState(st)
}

func (s *Session) printState(st lifecycle.State) {
	tag := fmt.Sprintf("[%s %s]", st.Action.Kind, shortID(st.Identity()))
	switch st.Phase {
	case lifecycle.Idle:
		s.printLine("idle")
	case lifecycle.Running:
		s.printLine("%s running...", tag)
	case lifecycle.Submitting:
		s.printLine("%s submitting %s...", tag, st.Action.ProblemID)
	case lifecycle.Processing:
		s.printLine("%s judging...", tag)
	case lifecycle.Failed:
		s.printLine("%s failed: %s", tag, st.Reason)
	case lifecycle.Completed:
		if st.Outcome == nil {
			s.printLine("%s completed", tag)
			return
		}
		s.printOutcome(tag, *st.Outcome)
	}
}

func (s *Session) printOutcome(tag string, o outcome.Outcome) {
	line := fmt.Sprintf("%s %s", tag, o.Summary())
	if o.ExecutionTimeMs != nil {
		line += fmt.Sprintf(" %.0fms", *o.ExecutionTimeMs)
	}
	if o.MemoryKb != nil {
		line += fmt.Sprintf(" %.0fKB", *o.MemoryKb)
	}
	s.printLine("%s", line)
	if o.Kind == outcome.RunResult && o.RawOutput != "" {
		s.printLine("output:\n%s", strings.TrimRight(o.RawOutput, "\n"))
	}
	for _, d := range o.Diagnostics {
		s.printLine("  %d:%d %s: %s", d.Line, d.Column, d.Severity, d.Message)
	}
	if len(o.Diagnostics) == 0 && o.RawError != "" {
		s.printLine("%s", strings.TrimRight(o.RawError, "\n"))
	}
	shown := 0
	for i, r := range o.PerTestResults {
		if r.Passed {
			continue
		}
		if shown == maxFailedTests {
			s.printLine("  ...")
			break
		}
		s.printLine("  test %d: expected %q, got %q", i+1, r.ExpectedOutput, r.ActualOutput)
		shown++
	}
}

func (s *Session) printJSON(v interface{}) {
	var (
		data []byte
		err  error
	)
	if s.prettyJSON {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		s.printLine("render failed: %v", err)
		return
	}
	s.printLine("%s", string(data))
}

func (s *Session) printHelp() {
	s.printLine("usage: <command> key=value ...")
	for _, name := range command.Names(s.commands) {
		s.printLine("  %-8s %s", name, s.commands[name].Summary)
	}
	s.printLine("system: help | exit | set base|timeout|token | show token|config|outcome")
	s.printLine("examples:")
	s.printLine("  login user=demo")
	s.printLine("  run lang=python file=./main.py stdin=\"1 2\"")
	s.printLine("  submit problem=two-sum lang=cpp file=./main.cpp")
	s.printLine("  review problem=two-sum lang=cpp file=./main.cpp")
}

func (s *Session) print(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.out, text)
}

func (s *Session) printLine(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

func shortID(id reconciler.Identity) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
