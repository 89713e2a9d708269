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
	"github.com/tidwall/sjson"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
)

// defaultOpenRouterBaseURL is the aggregator's public endpoint.
const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// openrouterClient speaks the OpenRouter aggregator API: OpenAI wire shape
// plus a nested `reasoning` object and arbitrary extra-body passthrough.
type openrouterClient struct {
	apiKey     string
	baseURL    string
	upstreamID string
	httpClient *http.Client
}

// newOpenRouterClient configures an aggregator client.
func newOpenRouterClient(record models.Provider, model models.Model) *openrouterClient {
	baseURL := strings.TrimSpace(record.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	return &openrouterClient{
		apiKey:     record.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		upstreamID: model.UpstreamID,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

// buildBody marshals the OpenAI-shaped request and injects the reasoning
// object. Raw config keys are written last so they win over derived fields.
func (c *openrouterClient) buildBody(req ChatRequest, stream bool) ([]byte, error) {
	base := openai.ChatCompletionRequest{
		Model:    c.upstreamID,
		Messages: req.Messages,
		Stream:   stream,
	}
	if req.MaxTokens != nil {
		base.MaxTokens = *req.MaxTokens
	}
	if req.N > 1 {
		base.N = req.N
	}
	if len(req.Tools) > 0 {
		base.Tools = req.Tools
		base.ToolChoice = req.ToolChoice
	}
	if stream {
		base.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	body, errMarshal := json.Marshal(base)
	if errMarshal != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", errMarshal)
	}

	// Sampling params go through sjson so an explicit 0 survives; omitempty
	// on the marshalled struct would drop it.
	if req.Temperature != nil {
		var errSet error
		if body, errSet = sjson.SetBytes(body, "temperature", *req.Temperature); errSet != nil {
			return nil, fmt.Errorf("openrouter: set temperature: %w", errSet)
		}
	}
	if req.TopP != nil {
		var errSet error
		if body, errSet = sjson.SetBytes(body, "top_p", *req.TopP); errSet != nil {
			return nil, fmt.Errorf("openrouter: set top_p: %w", errSet)
		}
	}

	if req.Reasoning.Enabled {
		var errSet error
		switch {
		case req.Reasoning.Effort != "":
			body, errSet = sjson.SetBytes(body, "reasoning.effort", req.Reasoning.Effort)
		case req.Reasoning.MaxTokens > 0:
			body, errSet = sjson.SetBytes(body, "reasoning.max_tokens", req.Reasoning.MaxTokens)
		}
		if errSet != nil {
			return nil, fmt.Errorf("openrouter: set reasoning: %w", errSet)
		}
		if req.Reasoning.Exclude {
			if body, errSet = sjson.SetBytes(body, "reasoning.exclude", true); errSet != nil {
				return nil, fmt.Errorf("openrouter: set reasoning: %w", errSet)
			}
		}
		for key, value := range req.Reasoning.RawConfig {
			if body, errSet = sjson.SetBytes(body, "reasoning."+key, value); errSet != nil {
				return nil, fmt.Errorf("openrouter: set reasoning %q: %w", key, errSet)
			}
		}
	}
	return body, nil
}

// do issues the HTTP call.
func (c *openrouterClient) do(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, errNew := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if errNew != nil {
		return nil, errNew
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.httpClient.Do(httpReq)
}

// Complete performs a non-streaming call.
func (c *openrouterClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, errBuild := c.buildBody(req, false)
	if errBuild != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openrouter request build failed", errBuild)
	}
	resp, errDo := c.do(ctx, body)
	if errDo != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openrouter call failed", errDo)
	}
	defer resp.Body.Close()

	respBody, errRead := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if errRead != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openrouter read failed", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Newf(apierr.KindUpstream, "openrouter status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed openai.ChatCompletionResponse
	if errUnmarshal := json.Unmarshal(respBody, &parsed); errUnmarshal != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openrouter parse failed", errUnmarshal)
	}
	return &ChatResponse{
		ID:      parsed.ID,
		Created: parsed.Created,
		Model:   parsed.Model,
		Choices: parsed.Choices,
		Usage:   parsed.Usage,
	}, nil
}

// StreamCompletion opens a streaming call.
func (c *openrouterClient) StreamCompletion(ctx context.Context, req ChatRequest) (Stream, error) {
	body, errBuild := c.buildBody(req, true)
	if errBuild != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openrouter request build failed", errBuild)
	}
	resp, errDo := c.do(ctx, body)
	if errDo != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "openrouter stream failed", errDo)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, apierr.Newf(apierr.KindUpstream, "openrouter status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return &openrouterStream{reader: bufio.NewReader(resp.Body), resp: resp}, nil
}

// openrouterStream parses the aggregator's SSE frames. Comment lines (": ..."
// keep-alives) are skipped.
type openrouterStream struct {
	reader *bufio.Reader
	resp   *http.Response
}

// Recv reads the next chunk.
func (s *openrouterStream) Recv() (openai.ChatCompletionStreamResponse, error) {
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
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return openai.ChatCompletionStreamResponse{}, io.EOF
		}
		var chunk openai.ChatCompletionStreamResponse
		if errUnmarshal := json.Unmarshal([]byte(payload), &chunk); errUnmarshal != nil {
			continue
		}
		return chunk, nil
	}
}

// Close closes the stream.
func (s *openrouterStream) Close() error {
	if s.resp != nil && s.resp.Body != nil {
		return s.resp.Body.Close()
	}
	return nil
}
