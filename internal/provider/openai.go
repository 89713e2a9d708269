package provider

import (
	"context"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
)

// openaiClient speaks any OpenAI-compatible chat-completions API.
type openaiClient struct {
	client     *openai.Client
	upstreamID string
}

// newOpenAIClient configures a go-openai client for the provider record.
func newOpenAIClient(record models.Provider, model models.Model) *openaiClient {
	cfg := openai.DefaultConfig(record.APIKey)
	if baseURL := strings.TrimSpace(record.BaseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &openaiClient{
		client:     openai.NewClientWithConfig(cfg),
		upstreamID: model.UpstreamID,
	}
}

// buildRequest translates the relay request into go-openai shape. Reasoning
// maps onto the flat effort string this family expects.
func (c *openaiClient) buildRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    c.upstreamID,
		Messages: req.Messages,
		Stream:   stream,
	}
	if req.Temperature != nil {
		out.Temperature = nonZeroFloat(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = nonZeroFloat(*req.TopP)
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.N > 1 {
		out.N = req.N
	}
	if len(req.Tools) > 0 {
		out.Tools = req.Tools
		out.ToolChoice = req.ToolChoice
	}
	if req.Reasoning.Enabled && req.Reasoning.Effort != "" {
		out.ReasoningEffort = req.Reasoning.Effort
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

// nonZeroFloat maps an explicit 0 to the smallest positive float32.
// go-openai's request fields are omitempty, so a plain 0 would vanish from
// the wire and the upstream default would apply instead.
func nonZeroFloat(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

// Complete performs a non-streaming call.
func (c *openaiClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openai completion failed", err)
	}
	return &ChatResponse{
		ID:      resp.ID,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: resp.Choices,
		Usage:   resp.Usage,
	}, nil
}

// StreamCompletion opens a streaming call.
func (c *openaiClient) StreamCompletion(ctx context.Context, req ChatRequest) (Stream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openai stream failed", err)
	}
	return &openaiStream{stream: stream}, nil
}

// openaiStream wraps the go-openai stream.
type openaiStream struct {
	stream *openai.ChatCompletionStream
}

// Recv reads the next chunk.
func (s *openaiStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	return s.stream.Recv()
}

// Close closes the underlying stream.
func (s *openaiStream) Close() error {
	return s.stream.Close()
}
