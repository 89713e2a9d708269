// Package provider builds upstream clients for the supported provider
// families. The factory is a pure mapping; clients hold no shared state and
// are safe to build per request.
package provider

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/modelrelay/internal/reasoning"
)

// ChatRequest is the provider-agnostic chat-completion request built by the
// relay after model resolution and reasoning normalization.
type ChatRequest struct {
	Model       string
	Messages    []openai.ChatCompletionMessage
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	N           int
	Tools       []openai.Tool
	ToolChoice  any
	Reasoning   reasoning.Options
}

// ChatResponse is the normalized non-streaming result.
type ChatResponse struct {
	ID      string
	Created int64
	Model   string
	Choices []openai.ChatCompletionChoice
	Usage   openai.Usage
}

// Stream yields response chunks in OpenAI wire shape. Recv returns io.EOF
// after the final chunk; usage, when the upstream reports it, arrives on
// the last usage-bearing chunk.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client is one configured upstream model endpoint.
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	StreamCompletion(ctx context.Context, req ChatRequest) (Stream, error)
}
