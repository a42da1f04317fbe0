package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sagekit/sage/pkg/config"
)

// maxBackoffShift caps the exponential growth of retry delays.
const maxBackoffShift = 5

// OpenAI is a Provider backed by any OpenAI-compatible chat completion
// endpoint. One instance serves the agents of a single engine; calls are
// sequential per engine, so a mutex around the last-call state is enough.
type OpenAI struct {
	name           string
	model          string
	client         *openai.Client
	log            *slog.Logger
	maxRetries     int
	retryBaseDelay time.Duration
	requestTimeout time.Duration
	maxTokens      int
	contextWindow  int
	streamDefault  bool

	mu            sync.Mutex
	lastUsage     Usage
	lastReasoning string
	conversation  []openai.ChatCompletionMessage
}

var _ Provider = (*OpenAI)(nil)
var _ ConversationContinuer = (*OpenAI)(nil)

// NewOpenAI builds a provider from configuration. The API key is read from
// the environment variable named by cfg.APIKeyEnv; an empty key is allowed
// for local endpoints that skip authentication.
func NewOpenAI(cfg *config.ProviderConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider model must not be empty")
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	retryDelay := cfg.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OpenAI{
		name:           cfg.Name,
		model:          cfg.Model,
		client:         openai.NewClientWithConfig(clientConfig),
		log:            slog.With("component", "provider", "provider", cfg.Name, "model", cfg.Model),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: retryDelay,
		requestTimeout: timeout,
		maxTokens:      cfg.MaxTokens,
		contextWindow:  cfg.ContextWindow,
		streamDefault:  cfg.StreamingEnabled(),
	}, nil
}

func (p *OpenAI) Name() string  { return p.name }
func (p *OpenAI) Model() string { return p.model }

// ContextWindow returns the configured model context size in tokens.
func (p *OpenAI) ContextWindow() int { return p.contextWindow }

// CountTokens approximates the token count of text.
func (p *OpenAI) CountTokens(text string) int {
	return sharedTokenCounter().count(text)
}

// LastUsage returns the accounting of the most recent call.
func (p *OpenAI) LastUsage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsage
}

// LastReasoningSummary returns reasoning text from the most recent call.
func (p *OpenAI) LastReasoningSummary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReasoning
}

// LastReasoningTokens returns the reasoning token count of the most recent call.
func (p *OpenAI) LastReasoningTokens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsage.ReasoningTokens
}

// Complete returns generated text for the prompt.
func (p *OpenAI) Complete(ctx context.Context, prompt, systemPrompt string, temperature float32, opts *Options) (string, error) {
	msgs := buildMessages(systemPrompt, prompt)
	text, usage, reasoning, err := p.completeMessages(ctx, msgs, temperature, opts)
	if err != nil {
		return "", err
	}
	p.recordCall(msgs, assistantMessage(text), usage, reasoning)
	return text, nil
}

// CompleteWithFunctions returns content and structured tool calls.
func (p *OpenAI) CompleteWithFunctions(ctx context.Context, prompt, systemPrompt string, temperature float32, tools []ToolSpec) (*Response, error) {
	msgs := buildMessages(systemPrompt, prompt)
	req := p.buildRequest(msgs, temperature, nil)
	req.Tools = toOpenAITools(tools)

	resp, err := p.doChat(ctx, "complete_with_functions", req, func(msg openai.ChatCompletionMessage) bool {
		// Empty content is fine when the model answered with tool calls.
		return msg.Content != "" || len(msg.ToolCalls) > 0 || msg.ReasoningContent != ""
	})
	if err != nil {
		return nil, err
	}

	msg := resp.Choices[0].Message
	content := msg.Content
	if content == "" && msg.ReasoningContent != "" && len(msg.ToolCalls) == 0 {
		content = msg.ReasoningContent
	}

	out := &Response{Content: content}
	for _, tc := range msg.ToolCalls {
		call := newFunctionCall(tc.Function.Name, tc.Function.Arguments)
		if call.Err != nil {
			p.log.Warn("Tool call arguments unparseable after all strategies",
				"tool", tc.Function.Name, "error", call.Err)
		} else if call.ParseStrategy != "strict" {
			p.log.Info("Tool call arguments repaired",
				"tool", tc.Function.Name, "strategy", call.ParseStrategy)
		}
		out.FunctionCalls = append(out.FunctionCalls, call)
	}

	usage := p.usageFrom(resp.Usage, req.Messages, msg.Content)
	p.recordCall(msgs, msg, usage, msg.ReasoningContent)
	return out, nil
}

// ContinueConversation sends a follow-up turn replaying the retained
// conversation. With no retained state it starts a new conversation from the
// follow-up text alone.
func (p *OpenAI) ContinueConversation(ctx context.Context, followup string, opts *Options) (string, error) {
	p.mu.Lock()
	msgs := make([]openai.ChatCompletionMessage, len(p.conversation))
	copy(msgs, p.conversation)
	p.mu.Unlock()

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: followup,
	})

	text, usage, reasoning, err := p.completeMessages(ctx, msgs, 0.7, opts)
	if err != nil {
		return "", err
	}
	p.recordCall(msgs, assistantMessage(text), usage, reasoning)
	return text, nil
}

// ContinueFunctionCalling feeds tool outputs back into the retained
// conversation and returns the model's follow-up text.
func (p *OpenAI) ContinueFunctionCalling(ctx context.Context, outputs []ToolOutput, opts *Options) (string, error) {
	p.mu.Lock()
	msgs := make([]openai.ChatCompletionMessage, len(p.conversation))
	copy(msgs, p.conversation)
	p.mu.Unlock()

	if len(msgs) == 0 {
		// No retained exchange to attach results to: start fresh from the
		// outputs themselves.
		var b strings.Builder
		b.WriteString("Results of the tool calls:\n")
		for _, o := range outputs {
			fmt.Fprintf(&b, "- %s: %s\n", o.Name, o.Content)
		}
		return p.ContinueConversation(ctx, b.String(), opts)
	}

	for _, o := range outputs {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    o.Content,
			Name:       o.Name,
			ToolCallID: o.CallID,
		})
	}

	text, usage, reasoning, err := p.completeMessages(ctx, msgs, 0.7, opts)
	if err != nil {
		return "", err
	}
	p.recordCall(msgs, assistantMessage(text), usage, reasoning)
	return text, nil
}

// completeMessages runs the retry loop for a text completion over prepared
// messages.
func (p *OpenAI) completeMessages(ctx context.Context, msgs []openai.ChatCompletionMessage, temperature float32, opts *Options) (string, Usage, string, error) {
	req := p.buildRequest(msgs, temperature, opts)
	streaming := opts.StreamEnabled(p.streamDefault)

	attempts := p.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := p.backoff(ctx, attempt, lastErr); err != nil {
				return "", Usage{}, "", err
			}
		}

		text, usage, reasoning, err := p.attemptOnce(ctx, req, streaming)
		if err == nil {
			if text == "" && reasoning != "" {
				// Reasoning-fallback: the model spent its budget thinking.
				return reasoning, usage, reasoning, nil
			}
			if text == "" {
				lastErr = classify(ErrEmptyContent)
				continue
			}
			return text, usage, reasoning, nil
		}

		cerr := classify(err)
		if !retryable(cerr) {
			return "", Usage{}, "", &Error{Provider: p.name, Op: "complete", Attempts: attempt + 1, Err: cerr}
		}
		p.log.Warn("Completion attempt failed", "attempt", attempt+1, "error", cerr)
		lastErr = cerr
	}
	return "", Usage{}, "", &Error{Provider: p.name, Op: "complete", Attempts: attempts, Err: lastErr}
}

// attemptOnce performs one logical request. When streaming fails mid-flight
// the same request is retried without streaming before the attempt counts as
// failed.
func (p *OpenAI) attemptOnce(ctx context.Context, req openai.ChatCompletionRequest, streaming bool) (string, Usage, string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	if streaming {
		text, usage, reasoning, err := p.streamOnce(cctx, req)
		if err == nil {
			return text, usage, reasoning, nil
		}
		if errors.Is(err, context.Canceled) {
			return "", Usage{}, "", err
		}
		p.log.Warn("Streaming failed, retrying request without streaming", "error", err)
	}

	resp, err := p.client.CreateChatCompletion(cctx, req)
	if err != nil {
		return "", Usage{}, "", err
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, "", ErrEmptyContent
	}
	msg := resp.Choices[0].Message
	usage := p.usageFrom(resp.Usage, req.Messages, msg.Content)
	return msg.Content, usage, msg.ReasoningContent, nil
}

// streamOnce consumes a streaming completion, accumulating deltas. The stream
// decoder tolerates keep-alive and comment frames and terminates on [DONE].
func (p *OpenAI) streamOnce(ctx context.Context, req openai.ChatCompletionRequest) (string, Usage, string, error) {
	streamReq := req
	streamReq.Stream = true
	streamReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, streamReq)
	if err != nil {
		return "", Usage{}, "", err
	}
	defer stream.Close()

	var content, reasoning strings.Builder
	var usage Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", Usage{}, "", err
		}
		if chunk.Usage != nil {
			usage = p.usageFrom(*chunk.Usage, nil, "")
		}
		if len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta
			content.WriteString(delta.Content)
			reasoning.WriteString(delta.ReasoningContent)
		}
	}

	if usage.TotalTokens == 0 {
		usage = p.estimateUsage(req.Messages, content.String())
	}
	return content.String(), usage, reasoning.String(), nil
}

// doChat runs the retry loop for a non-streaming chat request. acceptable
// decides whether the returned message counts as usable content.
func (p *OpenAI) doChat(ctx context.Context, op string, req openai.ChatCompletionRequest, acceptable func(openai.ChatCompletionMessage) bool) (*openai.ChatCompletionResponse, error) {
	attempts := p.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := p.backoff(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}

		cctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		resp, err := p.client.CreateChatCompletion(cctx, req)
		cancel()
		if err == nil {
			if len(resp.Choices) > 0 && acceptable(resp.Choices[0].Message) {
				return &resp, nil
			}
			lastErr = classify(ErrEmptyContent)
			continue
		}

		cerr := classify(err)
		if !retryable(cerr) {
			return nil, &Error{Provider: p.name, Op: op, Attempts: attempt + 1, Err: cerr}
		}
		p.log.Warn("Chat attempt failed", "op", op, "attempt", attempt+1, "error", cerr)
		lastErr = cerr
	}
	return nil, &Error{Provider: p.name, Op: op, Attempts: attempts, Err: lastErr}
}

// backoff sleeps before a retry: exponential growth with random jitter, or
// the server-provided delay after a rate limit.
func (p *OpenAI) backoff(ctx context.Context, attempt int, cause error) error {
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := p.retryBaseDelay << shift

	var rle *RateLimitError
	if errors.As(cause, &rle) && rle.RetryAfter > 0 {
		delay = rle.RetryAfter
	}
	delay += time.Duration(rand.Int64N(int64(p.retryBaseDelay)))

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *OpenAI) buildRequest(msgs []openai.ChatCompletionMessage, temperature float32, opts *Options) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   opts.MaxTokensOrDefault(p.maxTokens),
	}
}

// usageFrom maps endpoint usage onto the local type, estimating when the
// endpoint omitted it.
func (p *OpenAI) usageFrom(u openai.Usage, msgs []openai.ChatCompletionMessage, completion string) Usage {
	usage := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.CompletionTokensDetails != nil {
		usage.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	if usage.TotalTokens == 0 && msgs != nil {
		usage = p.estimateUsage(msgs, completion)
	}
	return usage
}

func (p *OpenAI) estimateUsage(msgs []openai.ChatCompletionMessage, completion string) Usage {
	prompt := 0
	for _, m := range msgs {
		prompt += p.CountTokens(m.Content)
	}
	out := p.CountTokens(completion)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}

// recordCall atomically updates the last-call accessors and the retained
// conversation used by the continuation operations.
func (p *OpenAI) recordCall(msgs []openai.ChatCompletionMessage, reply openai.ChatCompletionMessage, usage Usage, reasoning string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUsage = usage
	p.lastReasoning = reasoning
	p.conversation = append(msgs[:len(msgs):len(msgs)], reply)
}

func buildMessages(systemPrompt, prompt string) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}

func assistantMessage(text string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: text,
	}
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
				Strict:      t.Strict,
			},
		})
	}
	return out
}
