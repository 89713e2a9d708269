package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// anthropicClient speaks the Anthropic Messages API and normalizes its
// responses into OpenAI wire shape.
type anthropicClient struct {
	apiKey     string
	baseURL    string
	upstreamID string
	httpClient *http.Client
}

// newAnthropicClient configures a Messages API client.
func newAnthropicClient(record models.Provider, model models.Model) *anthropicClient {
	baseURL := strings.TrimSpace(record.BaseURL)
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &anthropicClient{
		apiKey:     record.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		upstreamID: model.UpstreamID,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

// anthropicMessage is one turn in Messages API shape.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicThinking is the nested thinking-budget object.
type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// defaultAnthropicMaxTokens is required by the Messages API when the caller
// leaves max_tokens unset.
const defaultAnthropicMaxTokens = 4096

// buildBody converts the relay request, splitting out the system prompt and
// attaching the thinking-budget object when reasoning is enabled. Raw config
// keys land under `thinking` last so they win over derived fields.
func (c *anthropicClient) buildBody(req ChatRequest, stream bool) ([]byte, error) {
	out := anthropicRequest{
		Model:       c.upstreamID,
		MaxTokens:   defaultAnthropicMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		out.MaxTokens = *req.MaxTokens
	}
	for _, msg := range req.Messages {
		if msg.Role == openai.ChatMessageRoleSystem {
			out.System = msg.Content
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	if req.Reasoning.Enabled && req.Reasoning.MaxTokens > 0 {
		out.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.Reasoning.MaxTokens}
	}

	body, errMarshal := json.Marshal(out)
	if errMarshal != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", errMarshal)
	}
	if req.Reasoning.Enabled {
		for key, value := range req.Reasoning.RawConfig {
			var errSet error
			if body, errSet = sjson.SetBytes(body, "thinking."+key, value); errSet != nil {
				return nil, fmt.Errorf("anthropic: set thinking %q: %w", key, errSet)
			}
		}
	}
	return body, nil
}

// do issues the HTTP call.
func (c *anthropicClient) do(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, errNew := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(body))
	if errNew != nil {
		return nil, errNew
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return c.httpClient.Do(httpReq)
}

// Complete performs a non-streaming call.
func (c *anthropicClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, errBuild := c.buildBody(req, false)
	if errBuild != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "anthropic request build failed", errBuild)
	}
	resp, errDo := c.do(ctx, body)
	if errDo != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "anthropic call failed", errDo)
	}
	defer resp.Body.Close()

	respBody, errRead := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if errRead != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "anthropic read failed", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Newf(apierr.KindUpstream, "anthropic status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	parsed := gjson.ParseBytes(respBody)
	var content strings.Builder
	for _, block := range parsed.Get("content").Array() {
		if block.Get("type").String() == "text" {
			content.WriteString(block.Get("text").String())
		}
	}
	inputTokens := int(parsed.Get("usage.input_tokens").Int())
	outputTokens := int(parsed.Get("usage.output_tokens").Int())

	return &ChatResponse{
		ID:      parsed.Get("id").String(),
		Created: time.Now().Unix(),
		Model:   parsed.Get("model").String(),
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content.String(),
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
	}, nil
}

// StreamCompletion opens a streaming call.
func (c *anthropicClient) StreamCompletion(ctx context.Context, req ChatRequest) (Stream, error) {
	body, errBuild := c.buildBody(req, true)
	if errBuild != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "anthropic request build failed", errBuild)
	}
	resp, errDo := c.do(ctx, body)
	if errDo != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "anthropic stream failed", errDo)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, apierr.Newf(apierr.KindUpstream, "anthropic status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return &anthropicStream{
		reader: bufio.NewReader(resp.Body),
		resp:   resp,
		model:  c.upstreamID,
	}, nil
}

// anthropicStream translates Messages API events into OpenAI chunks. Input
// tokens arrive on message_start, output tokens on the final message_delta;
// usage is attached to the chunk that completes it.
type anthropicStream struct {
	reader      *bufio.Reader
	resp        *http.Response
	model       string
	inputTokens int
}

// Recv reads the next chunk.
func (s *anthropicStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		line, errRead := s.reader.ReadString('\n')
		if errRead != nil {
			// A final line may arrive without its trailing newline; parse
			// it before surfacing EOF.
			if errRead != io.EOF || strings.TrimSpace(line) == "" {
				return openai.ChatCompletionStreamResponse{}, errRead
			}
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		event := gjson.Parse(strings.TrimSpace(strings.TrimPrefix(line, "data:")))

		switch event.Get("type").String() {
		case "message_start":
			s.inputTokens = int(event.Get("message.usage.input_tokens").Int())
			return s.chunk(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}, nil, ""), nil
		case "content_block_delta":
			text := event.Get("delta.text").String()
			if text == "" {
				continue
			}
			return s.chunk(openai.ChatCompletionStreamChoiceDelta{Content: text}, nil, ""), nil
		case "message_delta":
			outputTokens := int(event.Get("usage.output_tokens").Int())
			usage := &openai.Usage{
				PromptTokens:     s.inputTokens,
				CompletionTokens: outputTokens,
				TotalTokens:      s.inputTokens + outputTokens,
			}
			return s.chunk(openai.ChatCompletionStreamChoiceDelta{}, usage, openai.FinishReasonStop), nil
		case "message_stop":
			return openai.ChatCompletionStreamResponse{}, io.EOF
		default:
			continue
		}
	}
}

// chunk wraps a delta in OpenAI stream-response shape.
func (s *anthropicStream) chunk(delta openai.ChatCompletionStreamChoiceDelta, usage *openai.Usage, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
		Usage: usage,
	}
}

// Close closes the stream.
func (s *anthropicStream) Close() error {
	if s.resp != nil && s.resp.Body != nil {
		return s.resp.Body.Close()
	}
	return nil
}
