package agent

import (
	"context"
	"strings"

	"github.com/sagekit/sage/pkg/provider"
)

// fakeProvider returns scripted responses in order and records the prompts it
// received. After the script is exhausted it repeats the last entry.
type fakeProvider struct {
	responses []string
	errs      []error
	usage     provider.Usage
	reasoning string

	calls   int
	prompts []string
	systems []string
}

var _ provider.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string       { return "fake" }
func (f *fakeProvider) Model() string      { return "fake-model" }
func (f *fakeProvider) ContextWindow() int { return 8192 }

func (f *fakeProvider) Complete(_ context.Context, prompt, systemPrompt string, _ float32, _ *provider.Options) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, systemPrompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeProvider) CompleteWithFunctions(_ context.Context, prompt, _ string, _ float32, _ []provider.ToolSpec) (*provider.Response, error) {
	text, err := f.Complete(context.Background(), prompt, "", 0, nil)
	if err != nil {
		return nil, err
	}
	return &provider.Response{Content: text}, nil
}

func (f *fakeProvider) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func (f *fakeProvider) LastUsage() provider.Usage        { return f.usage }
func (f *fakeProvider) LastReasoningSummary() string     { return f.reasoning }
func (f *fakeProvider) LastReasoningTokens() int         { return f.usage.ReasoningTokens }
