// Package diagnostic turns compiler and interpreter output into editor markers.
package diagnostic

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is an editor-addressable marker. Line and Column are 1-based.
type Diagnostic struct {
	Line      int      `json:"line"`
	Column    int      `json:"column"`
	EndColumn int      `json:"endColumn,omitempty"` // 0 means the marker spans to the end of the line
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Hint is a backend-supplied structured error location.
type Hint struct {
	Line    int    `json:"line" mapstructure:"line"`
	Column  int    `json:"column" mapstructure:"column"`
	Message string `json:"message" mapstructure:"message"`
}

// Strategy extracts diagnostics from raw text. Implementations must not panic.
type Strategy func(text string) []Diagnostic

var (
	registryMu sync.RWMutex
	registry   = map[string]Strategy{
		"c":       CFamily,
		"cpp":     CFamily,
		"c++":     CFamily,
		"cc":      CFamily,
		"gcc":     CFamily,
		"clang":   CFamily,
		"go":      CFamily,
		"golang":  CFamily,
		"rust":    CFamily,
		"kotlin":  CFamily,
		"swift":   CFamily,
		"java":    JVM,
		"scala":   JVM,
		"ruby":    JVM,
		"python":  Script,
		"python3": Script,
		"py":      Script,
		"py3":     Script,
		"pypy":    Script,
	}
)

// RegisterLanguage maps a language tag to an extraction strategy.
func RegisterLanguage(tag string, strategy Strategy) {
	if strategy == nil {
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalizeTag(tag)] = strategy
}

// StrategyFor returns the strategy for a language tag, falling back to Generic.
func StrategyFor(tag string) Strategy {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if s, ok := registry[normalizeTag(tag)]; ok {
		return s
	}
	return Generic
}

// Parse extracts diagnostics from raw diagnostic text.
// A non-nil hint is authoritative and returned as the only diagnostic.
// Unmatched text yields an empty list; the caller still shows the raw text.
func Parse(language, rawText string, hint *Hint) []Diagnostic {
	if hint != nil {
		return []Diagnostic{fromHint(*hint)}
	}
	if strings.TrimSpace(rawText) == "" {
		return []Diagnostic{}
	}
	return finalize(StrategyFor(language)(rawText))
}

func fromHint(h Hint) Diagnostic {
	d := Diagnostic{
		Line:     h.Line,
		Column:   h.Column,
		Message:  strings.TrimSpace(h.Message),
		Severity: severityOf(h.Message),
	}
	if d.Line < 1 {
		d.Line = 1
	}
	if d.Column < 1 {
		d.Column = 1
	}
	return d
}

// finalize drops invalid positions, deduplicates by (line, column, message)
// and sorts by line then column.
func finalize(in []Diagnostic) []Diagnostic {
	type dedupKey struct {
		line, column int
		message      string
	}
	seen := make(map[dedupKey]struct{}, len(in))
	out := make([]Diagnostic, 0, len(in))
	for _, d := range in {
		if d.Line < 1 {
			continue
		}
		if d.Column < 1 {
			d.Column = 1
		}
		k := dedupKey{d.Line, d.Column, d.Message}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

func severityOf(message string) Severity {
	m := strings.ToLower(strings.TrimSpace(message))
	if strings.HasPrefix(m, "warning") {
		return SeverityWarning
	}
	return SeverityError
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
