package outcome

import (
	"strings"

	"practiceoj/internal/workspace/diagnostic"
)

// Normalize maps a raw payload from either channel onto the canonical Outcome.
// It never fails: absent optional fields become defaults and the input is not modified.
// language selects the diagnostic strategy; the payload's own language is used when empty.
func Normalize(channel Channel, language string, p Payload) Outcome {
	kind := p.KindOf(channel)
	results := normalizeResults(p.Results)
	passed, total := normalizeCounts(p.TestsPassed, p.TestsTotal, results)

	o := Outcome{
		Kind:            kind,
		TestsPassed:     passed,
		TestsTotal:      total,
		ExecutionTimeMs: nonNegative(p.ExecutionTimeMs),
		MemoryKb:        nonNegative(p.MemoryKb),
		PerTestResults:  results,
		ReceivedAt:      p.Timestamp,
		Channel:         channel,
		SubmissionID:    p.SubmissionID,
		Diagnostics:     []diagnostic.Diagnostic{},
	}
	if p.Output != nil {
		o.RawOutput = *p.Output
	}
	if p.Error != nil {
		o.RawError = *p.Error
	}

	o.Verdict = deriveVerdict(kind, p)
	// Only Accepted is checked against the counts; any other verdict stands as reported.
	if kind == SubmitResult && o.Verdict == Accepted {
		switch {
		case o.TestsTotal == 0:
			o.Verdict = Unknown
		case o.TestsPassed < o.TestsTotal:
			o.Verdict = WrongAnswer
		}
	}

	if hasDiagnostics(o.Verdict) && (o.RawError != "" || p.ErrorInfo != nil) {
		if language == "" {
			language = p.Language
		}
		o.Diagnostics = diagnostic.Parse(language, o.RawError, copyHint(p.ErrorInfo))
	}
	return o
}

func deriveVerdict(kind Kind, p Payload) Verdict {
	if IsProcessingStatus(p.Status) {
		return Processing
	}
	if p.Verdict != "" {
		return ParseVerdict(p.Verdict)
	}
	if kind == RunResult && p.Success != nil {
		switch {
		case *p.Success:
			return Accepted
		case p.ErrorInfo != nil:
			return CompilationError
		default:
			return RuntimeError
		}
	}
	return Unknown
}

func hasDiagnostics(v Verdict) bool {
	return v == CompilationError || v == RuntimeError
}

func normalizeResults(in []TestPayload) []TestResult {
	out := make([]TestResult, 0, len(in))
	for _, r := range in {
		tr := TestResult{
			Input:          r.Input,
			ExpectedOutput: r.ExpectedOutput,
			ActualOutput:   r.ActualOutput,
			Passed:         r.Passed,
		}
		if strings.TrimSpace(r.Verdict) != "" {
			tr.Verdict = ParseVerdict(r.Verdict)
		}
		out = append(out, tr)
	}
	return out
}

// normalizeCounts fills counts from the results array when the payload omits them
// and keeps 0 <= passed <= total.
func normalizeCounts(passedIn, totalIn *int, results []TestResult) (int, int) {
	passed, total := 0, 0
	if totalIn != nil {
		total = *totalIn
	} else if len(results) > 0 {
		total = len(results)
	}
	if passedIn != nil {
		passed = *passedIn
	} else {
		for _, r := range results {
			if r.Passed {
				passed++
			}
		}
	}
	if passed < 0 {
		passed = 0
	}
	if total < 0 {
		total = 0
	}
	if passed > total {
		if total == 0 {
			total = passed
		} else {
			passed = total
		}
	}
	return passed, total
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	out := *v
	return &out
}

func copyHint(h *diagnostic.Hint) *diagnostic.Hint {
	if h == nil {
		return nil
	}
	out := *h
	return &out
}
