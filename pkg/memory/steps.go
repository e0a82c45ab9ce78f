package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// stepsSchema accepts an array whose items are plain strings or step objects
const stepsSchema = `{
	"type": "array",
	"items": {
		"anyOf": [
			{"type": "string"},
			{
				"type": "object",
				"properties": {
					"action":  {"type": "string"},
					"step":    {"type": "string"},
					"command": {"type": ["string", "null"]},
					"sql":     {"type": ["string", "null"]}
				}
			}
		]
	}
}`

var compiledStepsSchema = mustCompileSchema(stepsSchema)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid steps schema: %v", err))
	}
	return schema
}

// Step is one procedure step: a PlainStep or a StructuredStep
type Step interface {
	render(index int, b *strings.Builder)
}

// PlainStep is a free-form step
type PlainStep struct {
	Text string
}

func (s PlainStep) render(index int, b *strings.Builder) {
	fmt.Fprintf(b, "  %d. %s\n", index, s.Text)
}

// StructuredStep is a step with an action and optional command or query
type StructuredStep struct {
	Action  string
	Command *string
	Query   *string
}

func (s StructuredStep) render(index int, b *strings.Builder) {
	fmt.Fprintf(b, "  %d. %s\n", index, s.Action)
	if s.Command != nil {
		fmt.Fprintf(b, "     Command: %s\n", *s.Command)
	}
	if s.Query != nil {
		fmt.Fprintf(b, "     SQL: %s\n", *s.Query)
	}
}

type structuredStepJSON struct {
	Action  *string `json:"action"`
	Step    *string `json:"step"`
	Command *string `json:"command"`
	SQL     *string `json:"sql"`
}

// ParseSteps decodes a raw steps column. Empty input yields no steps.
// A JSON string holding an encoded array is unwrapped first.
func ParseSteps(raw []byte) ([]Step, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode steps string: %w", err)
		}
		return ParseSteps([]byte(inner))
	}

	result, err := compiledStepsSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to validate steps: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, errors.New("invalid steps: " + strings.Join(msgs, "; "))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}

	steps := make([]Step, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var text string
			if err := json.Unmarshal(item, &text); err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
			steps = append(steps, PlainStep{Text: text})
			continue
		}

		var obj structuredStepJSON
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		step := StructuredStep{Command: obj.Command, Query: obj.SQL}
		switch {
		case obj.Action != nil:
			step.Action = *obj.Action
		case obj.Step != nil:
			step.Action = *obj.Step
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// RenderSteps renders steps as a numbered list, one line per step plus
// indented command and query lines.
func RenderSteps(steps []Step) string {
	var b strings.Builder
	for i, s := range steps {
		s.render(i+1, &b)
	}
	return b.String()
}

// Procedure is a standard operating procedure record
type Procedure struct {
	ID          string
	Name        string
	Description string
	Steps       []Step
}

// Content renders the canonical text embedded for the procedure
func (p Procedure) Content() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SOP: %s\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	if len(p.Steps) > 0 {
		b.WriteString("Steps:\n")
		b.WriteString(RenderSteps(p.Steps))
	}
	return b.String()
}
