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

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiClient speaks the Gemini generateContent API and normalizes its
// responses into OpenAI wire shape.
type geminiClient struct {
	apiKey     string
	baseURL    string
	upstreamID string
	httpClient *http.Client
}

// newGeminiClient configures a generateContent client.
func newGeminiClient(record models.Provider, model models.Model) *geminiClient {
	baseURL := strings.TrimSpace(record.BaseURL)
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &geminiClient{
		apiKey:     record.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		upstreamID: model.UpstreamID,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

// geminiRequest is the generateContent request body.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float32              `json:"temperature,omitempty"`
	TopP            *float32              `json:"topP,omitempty"`
	MaxOutputTokens *int                  `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget,omitempty"`
}

// buildBody converts the relay request. Gemini uses role "model" for
// assistant turns and carries the system prompt out of band. Raw config keys
// land under generationConfig.thinkingConfig last so they win.
func (c *geminiClient) buildBody(req ChatRequest) ([]byte, error) {
	out := geminiRequest{GenerationConfig: &geminiGenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
	}}
	for _, msg := range req.Messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
		case openai.ChatMessageRoleAssistant:
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}

	if req.Reasoning.Enabled {
		thinking := &geminiThinkingConfig{IncludeThoughts: req.Reasoning.IncludeThoughts}
		if req.Reasoning.MaxTokens > 0 {
			thinking.ThinkingBudget = req.Reasoning.MaxTokens
		}
		out.GenerationConfig.ThinkingConfig = thinking
	}

	body, errMarshal := json.Marshal(out)
	if errMarshal != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", errMarshal)
	}
	if req.Reasoning.Enabled {
		for key, value := range req.Reasoning.RawConfig {
			var errSet error
			if body, errSet = sjson.SetBytes(body, "generationConfig.thinkingConfig."+key, value); errSet != nil {
				return nil, fmt.Errorf("gemini: set thinkingConfig %q: %w", key, errSet)
			}
		}
	}
	return body, nil
}

// do issues the HTTP call against the given model method.
func (c *geminiClient) do(ctx context.Context, method string, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("%s/models/%s:%s", c.baseURL, c.upstreamID, method)
	httpReq, errNew := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if errNew != nil {
		return nil, errNew
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	return c.httpClient.Do(httpReq)
}

// Complete performs a non-streaming call.
func (c *geminiClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, errBuild := c.buildBody(req)
	if errBuild != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "gemini request build failed", errBuild)
	}
	resp, errDo := c.do(ctx, "generateContent", body)
	if errDo != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "gemini call failed", errDo)
	}
	defer resp.Body.Close()

	respBody, errRead := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if errRead != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "gemini read failed", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Newf(apierr.KindUpstream, "gemini status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	parsed := gjson.ParseBytes(respBody)
	var content strings.Builder
	for _, part := range parsed.Get("candidates.0.content.parts").Array() {
		if part.Get("thought").Bool() {
			continue
		}
		content.WriteString(part.Get("text").String())
	}
	promptTokens := int(parsed.Get("usageMetadata.promptTokenCount").Int())
	completionTokens := int(parsed.Get("usageMetadata.candidatesTokenCount").Int())
	reasoningTokens := int(parsed.Get("usageMetadata.thoughtsTokenCount").Int())

	return &ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Created: time.Now().Unix(),
		Model:   c.upstreamID,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content.String(),
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens + reasoningTokens,
			TotalTokens:      promptTokens + completionTokens + reasoningTokens,
			CompletionTokensDetails: &openai.CompletionTokensDetails{
				ReasoningTokens: reasoningTokens,
			},
		},
	}, nil
}

// StreamCompletion opens a streaming call.
func (c *geminiClient) StreamCompletion(ctx context.Context, req ChatRequest) (Stream, error) {
	body, errBuild := c.buildBody(req)
	if errBuild != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "gemini request build failed", errBuild)
	}
	resp, errDo := c.do(ctx, "streamGenerateContent?alt=sse", body)
	if errDo != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "gemini stream failed", errDo)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, apierr.Newf(apierr.KindUpstream, "gemini status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return &geminiStream{
		reader: bufio.NewReader(resp.Body),
		resp:   resp,
		model:  c.upstreamID,
	}, nil
}

// geminiStream translates streamGenerateContent SSE frames into OpenAI
// chunks. Every frame carries cumulative usageMetadata; the frame whose
// candidate has a finishReason gets the usage attached.
type geminiStream struct {
	reader *bufio.Reader
	resp   *http.Response
	model  string
}

// Recv reads the next chunk.
func (s *geminiStream) Recv() (openai.ChatCompletionStreamResponse, error) {
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
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		frame := gjson.Parse(strings.TrimSpace(strings.TrimPrefix(line, "data:")))

		var text strings.Builder
		for _, part := range frame.Get("candidates.0.content.parts").Array() {
			if part.Get("thought").Bool() {
				continue
			}
			text.WriteString(part.Get("text").String())
		}

		chunk := openai.ChatCompletionStreamResponse{
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   s.model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: text.String()},
			}},
		}
		if finish := frame.Get("candidates.0.finishReason").String(); finish != "" {
			promptTokens := int(frame.Get("usageMetadata.promptTokenCount").Int())
			completionTokens := int(frame.Get("usageMetadata.candidatesTokenCount").Int())
			reasoningTokens := int(frame.Get("usageMetadata.thoughtsTokenCount").Int())
			chunk.Choices[0].FinishReason = openai.FinishReasonStop
			chunk.Usage = &openai.Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens + reasoningTokens,
				TotalTokens:      promptTokens + completionTokens + reasoningTokens,
				CompletionTokensDetails: &openai.CompletionTokensDetails{
					ReasoningTokens: reasoningTokens,
				},
			}
		}
		if text.Len() == 0 && chunk.Usage == nil {
			continue
		}
		return chunk, nil
	}
}

// Close closes the stream.
func (s *geminiStream) Close() error {
	if s.resp != nil && s.resp.Body != nil {
		return s.resp.Body.Close()
	}
	return nil
}
