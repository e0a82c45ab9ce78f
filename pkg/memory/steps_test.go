package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSteps(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"empty", "", ""},
		{"null", "null", ""},
		{"empty array", "[]", ""},
		{
			name:     "plain strings",
			raw:      `["Open the dashboard", "Check alerts"]`,
			expected: "  1. Open the dashboard\n  2. Check alerts\n",
		},
		{
			name:     "structured with command and sql",
			raw:      `[{"action": "Restart", "command": "systemctl restart api"}, {"action": "Verify", "sql": "SELECT 1"}]`,
			expected: "  1. Restart\n     Command: systemctl restart api\n  2. Verify\n     SQL: SELECT 1\n",
		},
		{
			name:     "step key fallback",
			raw:      `[{"step": "Rotate keys"}]`,
			expected: "  1. Rotate keys\n",
		},
		{
			name:     "mixed shapes",
			raw:      `["Plan", {"action": "Run", "command": "make deploy", "sql": null}]`,
			expected: "  1. Plan\n  2. Run\n     Command: make deploy\n",
		},
		{
			name:     "double encoded",
			raw:      `"[\"one\", \"two\"]"`,
			expected: "  1. one\n  2. two\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := ParseSteps([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, RenderSteps(steps))
		})
	}
}

func TestParseSteps_Invalid(t *testing.T) {
	for _, raw := range []string{
		`{"action": "not an array"}`,
		`[42]`,
		`[{"action": 7}]`,
		`[not json`,
	} {
		_, err := ParseSteps([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestParseSteps_Variants(t *testing.T) {
	steps, err := ParseSteps([]byte(`["a", {"action": "b", "command": "c"}]`))
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, PlainStep{Text: "a"}, steps[0])

	structured, ok := steps[1].(StructuredStep)
	require.True(t, ok)
	assert.Equal(t, "b", structured.Action)
	require.NotNil(t, structured.Command)
	assert.Equal(t, "c", *structured.Command)
	assert.Nil(t, structured.Query)
}

func TestProcedure_Content(t *testing.T) {
	steps, err := ParseSteps([]byte(`["Back up", {"action": "Migrate", "sql": "ALTER TABLE x"}]`))
	require.NoError(t, err)

	p := Procedure{ID: "4", Name: "Schema change", Description: "Safe migration", Steps: steps}
	assert.Equal(t,
		"SOP: Schema change\nDescription: Safe migration\nSteps:\n  1. Back up\n  2. Migrate\n     SQL: ALTER TABLE x\n",
		p.Content())

	bare := Procedure{ID: "5", Name: "Nothing"}
	assert.Equal(t, "SOP: Nothing\n", bare.Content())
}
