// Package provider abstracts the LLM endpoint behind a uniform interface:
// plain completion, structured tool-call completion, token counting, and
// reasoning accounting. Implementations retry transient failures internally;
// callers see either a complete response or a terminal *Error.
package provider

import "context"

// Options tunes a single completion call. A nil Options uses the provider
// defaults.
type Options struct {
	// Stream requests incremental delivery. When nil, the provider default
	// applies. A mid-flight streaming failure transparently retries the
	// same logical request without streaming.
	Stream *bool

	// MaxTokens caps the completion length (0 = provider default).
	MaxTokens int
}

// StreamEnabled resolves the stream flag against a default.
func (o *Options) StreamEnabled(def bool) bool {
	if o == nil || o.Stream == nil {
		return def
	}
	return *o.Stream
}

// MaxTokensOrDefault resolves the token cap against a default.
func (o *Options) MaxTokensOrDefault(def int) int {
	if o == nil || o.MaxTokens == 0 {
		return def
	}
	return o.MaxTokens
}

// ToolSpec declares one tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Strict      bool
}

// FunctionCall is one structured tool invocation from the model. Arguments is
// nil when parsing failed; Err then carries the attached parse error and Raw
// preserves the original argument text. ParseStrategy records which tolerant
// strategy produced Arguments.
type FunctionCall struct {
	Name          string
	Arguments     map[string]any
	Raw           string
	ParseStrategy string
	Err           error
}

// Response is the result of a tool-call completion: textual content (possibly
// empty) plus the ordered tool invocations.
type Response struct {
	Content       string
	FunctionCalls []FunctionCall
}

// Usage is the token accounting for the most recent call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ReasoningTokens  int
}

// Provider is the uniform LLM interface shared by all agents of one engine.
// Implementations must be safe for sequential calls from a single orchestrator;
// the engine never issues parallel calls for one job.
type Provider interface {
	// Name identifies the provider for job records and logs.
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// Complete returns generated text for the prompt.
	Complete(ctx context.Context, prompt, systemPrompt string, temperature float32, opts *Options) (string, error)

	// CompleteWithFunctions returns content and structured tool calls.
	CompleteWithFunctions(ctx context.Context, prompt, systemPrompt string, temperature float32, tools []ToolSpec) (*Response, error)

	// CountTokens approximates the token count of text. Deterministic for a
	// given text and provider.
	CountTokens(text string) int

	// ContextWindow returns the model context size in tokens.
	ContextWindow() int

	// LastUsage returns the accounting of the most recent call.
	LastUsage() Usage

	// LastReasoningSummary returns reasoning text from the most recent
	// call, empty when the model emitted none.
	LastReasoningSummary() string

	// LastReasoningTokens returns the reasoning token count of the most
	// recent call.
	LastReasoningTokens() int
}

// ToolOutput carries one tool result back to the model when continuing a
// tool-call conversation.
type ToolOutput struct {
	CallID  string
	Name    string
	Content string
}

// ConversationContinuer is an optional capability for providers that can
// continue from the previous exchange. Providers without server-stored
// conversation state implement it by replaying retained messages; they expose
// no conversation id.
type ConversationContinuer interface {
	// ContinueConversation sends a follow-up turn to the current
	// conversation and returns the new completion.
	ContinueConversation(ctx context.Context, followup string, opts *Options) (string, error)

	// ContinueFunctionCalling feeds tool outputs back to the model and
	// returns its follow-up text.
	ContinueFunctionCalling(ctx context.Context, outputs []ToolOutput, opts *Options) (string, error)
}
