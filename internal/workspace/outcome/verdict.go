package outcome

import "strings"

// Verdict is the closed set of judgments an outcome can carry.
type Verdict string

const (
	Accepted            Verdict = "Accepted"
	WrongAnswer         Verdict = "WrongAnswer"
	TimeLimitExceeded   Verdict = "TimeLimitExceeded"
	MemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	RuntimeError        Verdict = "RuntimeError"
	CompilationError    Verdict = "CompilationError"
	ConstraintViolation Verdict = "ConstraintViolation"
	Processing          Verdict = "Processing"
	Unknown             Verdict = "Unknown"
)

// Advancement ranks. Every judged verdict shares the top rank.
const (
	RankUnknown = iota
	RankProcessing
	RankTerminal
)

var verdictAliases = map[string]Verdict{
	"accepted":            Accepted,
	"ac":                  Accepted,
	"ok":                  Accepted,
	"wronganswer":         WrongAnswer,
	"wa":                  WrongAnswer,
	"timelimitexceeded":   TimeLimitExceeded,
	"tle":                 TimeLimitExceeded,
	"tl":                  TimeLimitExceeded,
	"memorylimitexceeded": MemoryLimitExceeded,
	"mle":                 MemoryLimitExceeded,
	"ml":                  MemoryLimitExceeded,
	"runtimeerror":        RuntimeError,
	"re":                  RuntimeError,
	"rte":                 RuntimeError,
	"compilationerror":    CompilationError,
	"compileerror":        CompilationError,
	"ce":                  CompilationError,
	"constraintviolation": ConstraintViolation,
	"cv":                  ConstraintViolation,
	"processing":          Processing,
	"pending":             Processing,
	"queued":              Processing,
	"running":             Processing,
	"judging":             Processing,
	"inqueue":             Processing,
}

// ParseVerdict maps backend verdict text onto the closed set.
// Case, spaces, dashes and underscores are ignored; unrecognized text is Unknown.
func ParseVerdict(s string) Verdict {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
	if v, ok := verdictAliases[key]; ok {
		return v
	}
	return Unknown
}

// Rank returns the advancement rank of the verdict.
func (v Verdict) Rank() int {
	switch v {
	case Processing:
		return RankProcessing
	case Accepted, WrongAnswer, TimeLimitExceeded, MemoryLimitExceeded,
		RuntimeError, CompilationError, ConstraintViolation:
		return RankTerminal
	default:
		return RankUnknown
	}
}

// IsTerminal reports whether the verdict is a final judgment.
func (v Verdict) IsTerminal() bool {
	return v.Rank() == RankTerminal
}

// IsProcessingStatus reports whether a status string says work is still queued or running.
func IsProcessingStatus(status string) bool {
	return ParseVerdict(status) == Processing
}
