package orchestrator

import (
	"context"
	"strings"

	"github.com/sagekit/sage/pkg/provider"
)

// fakeProvider scripts completions for orchestrator tests. Plain completions
// are consumed in order from responses; tool-call completions from
// fnResponses. The zero value returns empty responses.
type fakeProvider struct {
	responses   []string
	errs        []error
	fnResponses []*provider.Response
	fnErrs      []error

	tokensPerCall int

	prompts   []string
	systems   []string
	temps     []float32
	fnPrompts []string

	completeCalls int
	fnCalls       int
	lastTokens    int
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Complete(_ context.Context, prompt, system string, temperature float32, _ *provider.Options) (string, error) {
	idx := f.completeCalls
	f.completeCalls++
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, system)
	f.temps = append(f.temps, temperature)

	if idx < len(f.errs) && f.errs[idx] != nil {
		f.lastTokens = 0
		return "", f.errs[idx]
	}
	f.lastTokens = f.tokensPerCall

	if idx >= len(f.responses) {
		if len(f.responses) == 0 {
			return "", nil
		}
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[idx], nil
}

func (f *fakeProvider) CompleteWithFunctions(_ context.Context, prompt, _ string, _ float32, _ []provider.ToolSpec) (*provider.Response, error) {
	idx := f.fnCalls
	f.fnCalls++
	f.fnPrompts = append(f.fnPrompts, prompt)

	if idx < len(f.fnErrs) && f.fnErrs[idx] != nil {
		f.lastTokens = 0
		return nil, f.fnErrs[idx]
	}
	f.lastTokens = f.tokensPerCall

	if idx >= len(f.fnResponses) {
		return &provider.Response{}, nil
	}
	return f.fnResponses[idx], nil
}

func (f *fakeProvider) CountTokens(text string) int { return len(strings.Fields(text)) }
func (f *fakeProvider) ContextWindow() int          { return 128000 }

func (f *fakeProvider) LastUsage() provider.Usage {
	return provider.Usage{TotalTokens: f.lastTokens}
}

func (f *fakeProvider) LastReasoningSummary() string { return "" }
func (f *fakeProvider) LastReasoningTokens() int     { return 0 }
