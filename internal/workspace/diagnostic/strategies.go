package diagnostic

import (
	"regexp"
	"strings"
)

var (
	// main.cpp:12:5: error: expected ';'
	cFamilyPattern = regexp.MustCompile(`^([^\s:][^:]*):(\d+):(?:(\d+):)?\s+(.*\S)\s*$`)
	// Main.java:7: error: ';' expected
	jvmPattern = regexp.MustCompile(`^([^\s:][^:]*):(\d+):\s+(.*\S)\s*$`)
	// File "main.py", line 3, in <module>
	scriptPattern = regexp.MustCompile(`File "[^"]*", line (\d+)`)

	genericLinePattern  = regexp.MustCompile(`(?i)\bline (\d+)`)
	genericColonPattern = regexp.MustCompile(`:(\d+):`)
)

const genericMessage = "syntax error"

// CFamily matches <path>:<line>:<column>: <message>. A missing column means 1.
// "note:" continuation lines are skipped.
func CFamily(text string) []Diagnostic {
	var out []Diagnostic
	for _, line := range splitLines(text) {
		m := cFamilyPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		msg := m[4]
		if strings.HasPrefix(strings.ToLower(msg), "note:") {
			continue
		}
		d := Diagnostic{
			Line:     atoi(m[2]),
			Column:   1,
			Message:  msg,
			Severity: severityOf(msg),
		}
		if m[3] != "" {
			d.Column = atoi(m[3])
			d.EndColumn = d.Column + 1
		}
		out = append(out, d)
	}
	return out
}

// JVM matches <path>:<line>: <message>; the marker covers the whole line.
func JVM(text string) []Diagnostic {
	var out []Diagnostic
	for _, line := range splitLines(text) {
		m := jvmPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Diagnostic{
			Line:     atoi(m[2]),
			Column:   1,
			Message:  m[3],
			Severity: severityOf(m[3]),
		})
	}
	return out
}

// Script locates File "...", line N markers and takes the next non-empty line as the message.
func Script(text string) []Diagnostic {
	lines := splitLines(text)
	var out []Diagnostic
	for i, line := range lines {
		m := scriptPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		msg := nextNonEmpty(lines, i+1)
		if msg == "" {
			msg = genericMessage
		}
		out = append(out, Diagnostic{
			Line:     atoi(m[1]),
			Column:   1,
			Message:  msg,
			Severity: severityOf(msg),
		})
	}
	return out
}

// Generic emits one "syntax error" per "line N" or ":N:" token.
func Generic(text string) []Diagnostic {
	var out []Diagnostic
	for _, pattern := range []*regexp.Regexp{genericLinePattern, genericColonPattern} {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			out = append(out, Diagnostic{
				Line:     atoi(m[1]),
				Column:   1,
				Message:  genericMessage,
				Severity: SeverityError,
			})
		}
	}
	return out
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func nextNonEmpty(lines []string, from int) string {
	for i := from; i < len(lines); i++ {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}
