package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     map[string]any
		strategy string
	}{
		{
			name:     "strict json",
			raw:      `{"specialization": "number theory", "specific_task": "classify solutions"}`,
			want:     map[string]any{"specialization": "number theory", "specific_task": "classify solutions"},
			strategy: "strict",
		},
		{
			name:     "empty string",
			raw:      "",
			want:     map[string]any{},
			strategy: "strict",
		},
		{
			name:     "trailing comma in object",
			raw:      `{"a": "x", "b": "y",}`,
			want:     map[string]any{"a": "x", "b": "y"},
			strategy: "trailing_commas",
		},
		{
			name:     "trailing comma in array",
			raw:      `{"items": ["x", "y",]}`,
			want:     map[string]any{"items": []any{"x", "y"}},
			strategy: "trailing_commas",
		},
		{
			name:     "single quotes",
			raw:      `{'specialization': 'algebra', 'specific_task': 'factor'}`,
			want:     map[string]any{"specialization": "algebra", "specific_task": "factor"},
			strategy: "single_quotes",
		},
		{
			name:     "python literal booleans",
			raw:      `{'strict': True, 'fallback': None}`,
			want:     map[string]any{"strict": true, "fallback": nil},
			strategy: "literal",
		},
		{
			name:     "bare keys",
			raw:      `{specialization: "geometry", specific_task: "prove the lemma"}`,
			want:     map[string]any{"specialization": "geometry", "specific_task": "prove the lemma"},
			strategy: "bare_keys",
		},
		{
			name:     "bare keys with single quotes and trailing comma",
			raw:      `{specialization: 'topology', specific_task: 'classify',}`,
			want:     map[string]any{"specialization": "topology", "specific_task": "classify"},
			strategy: "bare_keys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, strategy, err := parseToolArguments(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.strategy, strategy)
		})
	}
}

func TestParseToolArgumentsFailure(t *testing.T) {
	_, _, err := parseToolArguments(`not even close to json`)
	require.Error(t, err)
}

func TestNewFunctionCallAttachesParseError(t *testing.T) {
	call := newFunctionCall("consult_graduate_specialist", `{{{{`)
	assert.Nil(t, call.Arguments)
	assert.Equal(t, `{{{{`, call.Raw)
	require.Error(t, call.Err)

	var perr *ParseError
	require.ErrorAs(t, call.Err, &perr)
	assert.Equal(t, "consult_graduate_specialist", perr.Call)
}

func TestNewFunctionCallRecordsStrategy(t *testing.T) {
	call := newFunctionCall("consult_graduate_specialist", `{'expertise': 'calculus'}`)
	require.NoError(t, call.Err)
	assert.Equal(t, "single_quotes", call.ParseStrategy)
	assert.Equal(t, "calculus", call.Arguments["expertise"])
}
