package aiprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel      = anthropic.ModelClaude3_5SonnetLatest
	defaultTimeout    = 60 * time.Second
	maxRetries        = 3
	retryBaseDelay    = 1 * time.Second
)

// AnthropicFacade implements Facade over the Anthropic Messages API.
// The retry-with-backoff loop mirrors the teacher's cursor.Client
// doRequest: a bounded number of attempts with exponential backoff,
// cancellable via ctx, logging each retry when a logger is set.
type AnthropicFacade struct {
	client  anthropic.Client
	model   anthropic.Model
	logger  Logger
}

// Logger is the minimal logging seam AnthropicFacade accepts, matching
// the teacher's cursor.Logger interface shape.
type Logger interface {
	LogDebug(msg string, keyValuePairs ...any)
}

// AnthropicOption configures an AnthropicFacade.
type AnthropicOption func(*AnthropicFacade)

// WithModel overrides the default model.
func WithModel(model anthropic.Model) AnthropicOption {
	return func(f *AnthropicFacade) { f.model = model }
}

// WithLogger attaches a debug logger.
func WithLogger(logger Logger) AnthropicOption {
	return func(f *AnthropicFacade) { f.logger = logger }
}

// NewAnthropicFacade creates a Facade authenticated with apiKey.
// Returns nil if apiKey is empty, matching the teacher's
// nil-on-empty-credential constructor convention.
func NewAnthropicFacade(apiKey string, opts ...AnthropicOption) Facade {
	if apiKey == "" {
		return nil
	}
	f := &AnthropicFacade{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *AnthropicFacade) logDebug(msg string, kv ...any) {
	if f.logger != nil {
		f.logger.LogDebug(msg, kv...)
	}
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(block))
		default:
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return params
}

func (f *AnthropicFacade) Call(ctx context.Context, messages []Message, opts CallOptions) (CallResult, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			f.logDebug("anthropic retry", "attempt", attempt, "delay", delay.String())
			select {
			case <-ctx.Done():
				return CallResult{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		msg, err := f.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       f.model,
			MaxTokens:   maxTokens,
			Messages:    toAnthropicMessages(messages),
			Temperature: anthropic.Float(opts.Temperature),
		})
		if err == nil {
			return CallResult{Content: concatText(msg)}, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return CallResult{}, fmt.Errorf("anthropic call failed after retries: %w", lastErr)
}

func (f *AnthropicFacade) Stream(ctx context.Context, messages []Message, opts CallOptions, onChunk func(StreamChunk)) (CallResult, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	stream := f.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:       f.model,
		MaxTokens:   maxTokens,
		Messages:    toAnthropicMessages(messages),
		Temperature: anthropic.Float(opts.Temperature),
	})

	var accumulated anthropic.Message
	var content string
	for stream.Next() {
		event := stream.Current()
		if err := accumulated.Accumulate(event); err != nil {
			return CallResult{}, fmt.Errorf("accumulating stream event: %w", err)
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text := delta.Delta.Text; text != "" {
				content += text
				if onChunk != nil {
					onChunk(StreamChunk{Delta: text})
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return CallResult{}, fmt.Errorf("anthropic stream failed: %w", err)
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return CallResult{Content: content}, nil
}

func concatText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += text.Text
		}
	}
	return out
}

// retryable reports whether err looks like a transient failure worth
// retrying (rate limit or server error), mirroring the teacher's
// cursor client retry predicate.
func retryable(err error) bool {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	for err != nil {
		if e, ok := err.(*anthropic.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
