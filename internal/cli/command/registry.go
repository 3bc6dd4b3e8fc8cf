package command

import (
	"sort"
	"strings"

	appErr "practiceoj/pkg/errors"
)

var (
	problemField  = Field{Name: "problem", Aliases: []string{"problem_id", "p"}, Prompt: "problem_id", Type: FieldString, Required: true}
	languageField = Field{Name: "lang", Aliases: []string{"language", "l"}, Prompt: "language", Type: FieldString, Required: true}
	codeField     = Field{Name: "code", Aliases: []string{"source_code"}, Prompt: "code", Type: FieldString}
	fileField     = Field{Name: "file", Aliases: []string{"source_file", "f"}, Prompt: "source_file", Type: FieldFile}
)

// Registry returns all workspace commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:    "login",
			Summary: "open a session on the backend and connect the push channel",
			Fields: []Field{
				{Name: "user", Aliases: []string{"user_id", "u"}, Prompt: "user_id", Type: FieldString, Required: true},
			},
		},
		{
			Name:         "run",
			Summary:      "run code against custom input",
			RequiresAuth: true,
			Fields: []Field{
				languageField,
				codeField,
				fileField,
				{Name: "stdin", Aliases: []string{"input", "i"}, Prompt: "stdin", Type: FieldString},
			},
		},
		{
			Name:         "submit",
			Summary:      "submit a solution for judging",
			RequiresAuth: true,
			Fields:       []Field{problemField, languageField, codeField, fileField},
		},
		{
			Name:         "review",
			Summary:      "request an AI review of a solution",
			RequiresAuth: true,
			Fields: []Field{
				problemField,
				languageField,
				codeField,
				fileField,
				{Name: "submission", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString},
			},
		},
		{
			Name:         "sync",
			Summary:      "merge the server's solved flag for a problem",
			RequiresAuth: true,
			Fields:       []Field{problemField},
		},
		{
			Name:    "solved",
			Summary: "list solved problems or check one",
			Fields: []Field{
				{Name: "problem", Aliases: []string{"problem_id", "p"}, Prompt: "problem_id", Type: FieldString},
			},
		},
		{
			Name:    "state",
			Summary: "show the current lifecycle state",
		},
		{
			Name:    "wait",
			Summary: "block until the current action settles",
			Fields: []Field{
				{Name: "timeout", Prompt: "timeout", Type: FieldDuration},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns the command names in order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse binds key=value tokens to cmd's fields. Unknown keys are rejected.
func Parse(cmd Command, tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, appErr.Newf(appErr.InvalidParams, "invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	known := make(map[string]Field, len(cmd.Fields))
	for _, f := range cmd.Fields {
		known[strings.ToLower(f.Name)] = f
	}
	for key := range params {
		if _, ok := known[key]; !ok {
			return nil, appErr.Newf(appErr.InvalidParams, "%s does not take %s", cmd.Name, key)
		}
	}
	return params, nil
}

// Missing returns the required fields without a value.
func Missing(cmd Command, params Params) []Field {
	var out []Field
	for _, f := range cmd.Fields {
		if f.Required && params.Get(f.Name) == "" {
			out = append(out, f)
		}
	}
	return out
}

// Source resolves the code of a run, submit or review from code= or file=.
func Source(params Params) (string, error) {
	if code := params.Get("code"); code != "" {
		return code, nil
	}
	if path := params.Get("file"); path != "" {
		return ReadFile(path)
	}
	return "", appErr.ValidationError("code", "either code or file is required")
}
