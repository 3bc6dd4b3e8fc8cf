// Package outcome defines the canonical execution outcome and maps raw backend payloads onto it.
package outcome

import (
	"fmt"

	"practiceoj/internal/workspace/diagnostic"
)

// Kind distinguishes ad hoc runs from judged submissions.
type Kind string

const (
	RunResult    Kind = "RunResult"
	SubmitResult Kind = "SubmitResult"
)

// Channel names the transport an outcome arrived on.
type Channel string

const (
	ChannelHTTP Channel = "Http"
	ChannelPush Channel = "Push"
)

// TestResult is the outcome of one test case.
type TestResult struct {
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expectedOutput"`
	ActualOutput   string  `json:"actualOutput"`
	Passed         bool    `json:"passed"`
	Verdict        Verdict `json:"verdict,omitempty"`
}

// Outcome is the canonical result of a run or a submission.
type Outcome struct {
	Kind            Kind                    `json:"kind"`
	Verdict         Verdict                 `json:"verdict"`
	TestsPassed     int                     `json:"testsPassed"`
	TestsTotal      int                     `json:"testsTotal"`
	ExecutionTimeMs *float64                `json:"executionTimeMs,omitempty"`
	MemoryKb        *float64                `json:"memoryKb,omitempty"`
	RawOutput       string                  `json:"rawOutput,omitempty"`
	RawError        string                  `json:"rawError,omitempty"`
	Diagnostics     []diagnostic.Diagnostic `json:"diagnostics"`
	PerTestResults  []TestResult            `json:"perTestResults"`
	ReceivedAt      int64                   `json:"receivedAt"`
	Channel         Channel                 `json:"channel"`
	SubmissionID    string                  `json:"submissionId,omitempty"`
}

// IsTerminal reports whether the outcome carries a final verdict.
func (o Outcome) IsTerminal() bool {
	return o.Verdict.IsTerminal()
}

// Summary renders a one-line description for logs and the REPL.
func (o Outcome) Summary() string {
	if o.TestsTotal > 0 {
		return fmt.Sprintf("%s (%d/%d tests)", o.Verdict, o.TestsPassed, o.TestsTotal)
	}
	return string(o.Verdict)
}
