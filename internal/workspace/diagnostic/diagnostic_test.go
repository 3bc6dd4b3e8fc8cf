package diagnostic

import (
	"reflect"
	"testing"
)

func TestParseCFamilySingleError(t *testing.T) {
	got := Parse("cpp", "main.cpp:12:5: error: expected ';'", nil)
	if len(got) != 1 {
		t.Fatalf("expected one diagnostic, got %d: %+v", len(got), got)
	}
	d := got[0]
	if d.Line != 12 || d.Column != 5 || d.Message != "error: expected ';'" || d.Severity != SeverityError {
		t.Fatalf("unexpected diagnostic: %+v", d)
	}
}

func TestParseUnknownLanguageGarbage(t *testing.T) {
	got := Parse("unknownlang", "garbage text with no numbers", nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestParseHintIsAuthoritative(t *testing.T) {
	got := Parse("cpp", "main.cpp:1:1: error: ignored", &Hint{Line: 4, Column: 0, Message: "missing return"})
	want := []Diagnostic{{Line: 4, Column: 1, Message: "missing return", Severity: SeverityError}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseStrategies(t *testing.T) {
	tests := []struct {
		name     string
		language string
		text     string
		want     []Diagnostic
	}{
		{
			name:     "c family without column",
			language: "c",
			text:     "prog.c:7: error: unknown type name 'strin'",
			want:     []Diagnostic{{Line: 7, Column: 1, Message: "error: unknown type name 'strin'", Severity: SeverityError}},
		},
		{
			name:     "c family warning and note",
			language: "cpp",
			text: "main.cpp: In function 'int main()':\n" +
				"main.cpp:3:9: warning: unused variable 'x' [-Wunused-variable]\n" +
				"main.cpp:2:1: note: declared here\n",
			want: []Diagnostic{{Line: 3, Column: 9, EndColumn: 10, Message: "warning: unused variable 'x' [-Wunused-variable]", Severity: SeverityWarning}},
		},
		{
			name:     "jvm",
			language: "java",
			text:     "Main.java:5: error: ';' expected\n        int x = 1\n                 ^\n1 error",
			want:     []Diagnostic{{Line: 5, Column: 1, Message: "error: ';' expected", Severity: SeverityError}},
		},
		{
			name:     "kotlin reports columns",
			language: "kotlin",
			text:     "Main.kt:3:5: error: unresolved reference: foo",
			want:     []Diagnostic{{Line: 3, Column: 5, EndColumn: 6, Message: "error: unresolved reference: foo", Severity: SeverityError}},
		},
		{
			name:     "ruby uses path and line",
			language: "ruby",
			text:     "main.rb:2: syntax error, unexpected end-of-input",
			want:     []Diagnostic{{Line: 2, Column: 1, Message: "syntax error, unexpected end-of-input", Severity: SeverityError}},
		},
		{
			name:     "script takes next non-empty line",
			language: "python3",
			text:     "Traceback (most recent call last):\n  File \"main.py\", line 3, in <module>\n\n    print(x)\nNameError: name 'x' is not defined",
			want:     []Diagnostic{{Line: 3, Column: 1, Message: "print(x)", Severity: SeverityError}},
		},
		{
			name:     "generic fallback",
			language: "brainfuck",
			text:     "parse failure at line 9\nsource:4: unexpected token",
			want: []Diagnostic{
				{Line: 4, Column: 1, Message: "syntax error", Severity: SeverityError},
				{Line: 9, Column: 1, Message: "syntax error", Severity: SeverityError},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.language, tt.text, nil)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestParseDeduplicatesAndSorts(t *testing.T) {
	text := "a.cpp:9:2: error: b\n" +
		"a.cpp:3:7: error: a\n" +
		"a.cpp:9:2: error: b\n" +
		"a.cpp:3:1: error: c\n"
	got := Parse("cpp", text, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 diagnostics after dedup, got %d: %+v", len(got), got)
	}
	order := [][2]int{{3, 1}, {3, 7}, {9, 2}}
	for i, pos := range order {
		if got[i].Line != pos[0] || got[i].Column != pos[1] {
			t.Fatalf("diagnostic %d at %d:%d, want %d:%d", i, got[i].Line, got[i].Column, pos[0], pos[1])
		}
	}
}

func TestParseDropsLineZero(t *testing.T) {
	if got := Parse("go", "main.go:0:3: bad", nil); len(got) != 0 {
		t.Fatalf("expected line 0 to be dropped, got %+v", got)
	}
}

func TestRegisterLanguage(t *testing.T) {
	RegisterLanguage("Zig", CFamily)
	got := Parse("zig", "src/main.zig:2:11: error: expected type", nil)
	if len(got) != 1 || got[0].Column != 11 {
		t.Fatalf("registered strategy not used: %+v", got)
	}
}
