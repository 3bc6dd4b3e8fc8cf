package mockjudge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"practiceoj/internal/workspace/diagnostic"
)

// Source markers steer the scripted judge, for example "// verdict: WA" or "# tests: 3".
var markerPattern = regexp.MustCompile(`(?i)(?://|#)\s*(verdict|tests|mode|review)\s*:\s*(\S+)`)

var supportedLanguages = map[string]string{
	"c":      "main.c",
	"cpp":    "main.cpp",
	"c++":    "main.cpp",
	"go":     "main.go",
	"rust":   "main.rs",
	"java":   "Main.java",
	"kotlin": "Main.kt",
	"python": "main.py",
	"py":     "main.py",
}

// script is the behavior requested by markers in the submitted source.
type script struct {
	verdict    string
	verdictAt  int
	tests      int
	sync       bool
	failReview bool
}

func parseScript(code string) script {
	s := script{verdict: "AC", verdictAt: 1, tests: 5}
	for i, line := range strings.Split(code, "\n") {
		for _, m := range markerPattern.FindAllStringSubmatch(line, -1) {
			value := strings.ToLower(m[2])
			switch strings.ToLower(m[1]) {
			case "verdict":
				s.verdict = strings.ToUpper(value)
				s.verdictAt = i + 1
			case "tests":
				if n, err := strconv.Atoi(value); err == nil && n >= 0 {
					s.tests = n
				}
			case "mode":
				s.sync = value == "sync"
			case "review":
				s.failReview = value == "fail"
			}
		}
	}
	return s
}

func languageSupported(language string) bool {
	_, ok := supportedLanguages[strings.ToLower(language)]
	return ok
}

// compileError renders a compiler message in the format the language's toolchain uses.
func compileError(language string, line int) (string, diagnostic.Hint) {
	file := supportedLanguages[strings.ToLower(language)]
	hint := diagnostic.Hint{Line: line, Column: 5, Message: "expected ';' before '}' token"}
	switch strings.ToLower(language) {
	case "java", "kotlin":
		hint.Column = 1
		hint.Message = "';' expected"
		return fmt.Sprintf("%s:%d: error: %s\n1 error", file, line, hint.Message), hint
	case "python", "py":
		hint.Column = 1
		hint.Message = "SyntaxError: invalid syntax"
		return fmt.Sprintf("Traceback (most recent call last):\n  File \"%s\", line %d\n    x =\n%s", file, line, hint.Message), hint
	default:
		return fmt.Sprintf("%s:%d:%d: error: %s", file, line, hint.Column, hint.Message), hint
	}
}

// runPayload is the response of an ad hoc run.
type runPayload struct {
	Success   bool             `json:"success"`
	Output    string           `json:"output"`
	Error     string           `json:"error,omitempty"`
	ErrorInfo *diagnostic.Hint `json:"errorInfo,omitempty"`
}

// judgeRun echoes stdin back unless a marker asks for a failure.
func judgeRun(language, code, stdin string) runPayload {
	s := parseScript(code)
	switch s.verdict {
	case "CE":
		text, hint := compileError(language, s.verdictAt)
		return runPayload{Success: false, Error: text, ErrorInfo: &hint}
	case "RE":
		return runPayload{Success: false, Error: "Segmentation fault (core dumped)"}
	case "TLE":
		return runPayload{Success: false, Error: "time limit exceeded"}
	}
	return runPayload{Success: true, Output: stdin}
}

type testPayload struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	ActualOutput   string `json:"actualOutput"`
	Passed         bool   `json:"passed"`
	Verdict        string `json:"verdict,omitempty"`
}

// submitPayload is the shape shared by the submit response and push events.
type submitPayload struct {
	ClientID        string           `json:"clientId,omitempty"`
	SubmissionID    string           `json:"submissionId"`
	ProblemID       string           `json:"problemId,omitempty"`
	UserID          string           `json:"userId,omitempty"`
	Language        string           `json:"language,omitempty"`
	Status          string           `json:"status,omitempty"`
	Verdict         string           `json:"verdict,omitempty"`
	TestsPassed     int              `json:"testsPassed"`
	TestsTotal      int              `json:"testsTotal"`
	ExecutionTimeMs *float64         `json:"executionTimeMs,omitempty"`
	MemoryKb        *float64         `json:"memoryKb,omitempty"`
	Results         []testPayload    `json:"results,omitempty"`
	Error           string           `json:"error,omitempty"`
	ErrorInfo       *diagnostic.Hint `json:"errorInfo,omitempty"`
	Timestamp       int64            `json:"timestamp,omitempty"`
}

// judgeSubmission computes the final scripted result.
func judgeSubmission(language string, s script) submitPayload {
	out := submitPayload{Verdict: s.verdict, TestsTotal: s.tests}
	passed := 0
	switch s.verdict {
	case "AC":
		passed = s.tests
	case "CE":
		text, hint := compileError(language, s.verdictAt)
		out.Error = text
		out.ErrorInfo = &hint
		out.TestsTotal = 0
		return out
	case "WA", "TLE", "MLE", "RE":
		if s.tests > 0 {
			passed = s.tests - 1
		}
	}
	out.TestsPassed = passed
	timeMs, memKb := 12.0, 2048.0
	out.ExecutionTimeMs = &timeMs
	out.MemoryKb = &memKb
	out.Results = make([]testPayload, 0, s.tests)
	for i := 0; i < s.tests; i++ {
		ok := i < passed
		expected := strconv.Itoa(i + 1)
		actual := expected
		verdict := "AC"
		if !ok {
			actual = "?"
			verdict = s.verdict
		}
		out.Results = append(out.Results, testPayload{
			Input:          fmt.Sprintf("case %d", i+1),
			ExpectedOutput: expected,
			ActualOutput:   actual,
			Passed:         ok,
			Verdict:        verdict,
		})
	}
	return out
}
