package command

import (
	"os"
	"strings"
	"time"

	appErr "practiceoj/pkg/errors"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldDuration
	FieldFile
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command defines a workspace command.
type Command struct {
	Name         string
	Summary      string
	RequiresAuth bool
	Fields       []Field
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// Duration parses a FieldDuration value.
func (p Params) Duration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(p.Get(key)))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.InvalidFormat, "invalid %s", key)
	}
	return d, nil
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidParams, "read file %s failed", path)
	}
	return string(data), nil
}
