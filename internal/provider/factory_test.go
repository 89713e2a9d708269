package provider

import (
	"math"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/reasoning"
)

func testRecord(family models.ProviderType) models.Provider {
	return models.Provider{Name: "Test", Type: family, APIKey: "sk-test"}
}

func testModel() models.Model {
	return models.Model{ModelID: "facing-id", UpstreamID: "upstream-id"}
}

func chatMessages(pairs ...string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, openai.ChatCompletionMessage{Role: pairs[i], Content: pairs[i+1]})
	}
	return out
}

func TestNew_SupportedFamilies(t *testing.T) {
	families := []models.ProviderType{
		models.ProviderTypeOpenAI,
		models.ProviderTypeAnthropic,
		models.ProviderTypeGemini,
		models.ProviderTypeOpenRouter,
	}
	for _, family := range families {
		client, err := New(testRecord(family), testModel())
		if err != nil {
			t.Fatalf("family %s: %v", family, err)
		}
		if client == nil {
			t.Fatalf("family %s: nil client", family)
		}
	}
}

func TestNew_UnsupportedFamily(t *testing.T) {
	_, err := New(testRecord("smoke-signals"), testModel())
	typed, ok := apierr.As(err)
	if !ok || typed.Kind != apierr.KindUnsupportedProvider {
		t.Fatalf("expected unsupported_provider, got %v", err)
	}
}

func TestOpenAIBuildRequest(t *testing.T) {
	client := newOpenAIClient(testRecord(models.ProviderTypeOpenAI), testModel())
	maxTokens := 256
	req := ChatRequest{
		Model:     "facing-id",
		MaxTokens: &maxTokens,
		N:         2,
		Reasoning: reasoning.Options{Enabled: true, Effort: "high"},
	}

	out := client.buildRequest(req, true)
	if out.Model != "upstream-id" {
		t.Fatalf("expected upstream id on the wire, got %q", out.Model)
	}
	if out.ReasoningEffort != "high" {
		t.Fatalf("expected reasoning effort, got %q", out.ReasoningEffort)
	}
	if out.N != 2 || out.MaxTokens != 256 {
		t.Fatalf("request fields lost: %+v", out)
	}
	if out.StreamOptions == nil || !out.StreamOptions.IncludeUsage {
		t.Fatalf("streams must request usage reporting")
	}

	out = client.buildRequest(ChatRequest{Model: "facing-id"}, false)
	if out.ReasoningEffort != "" {
		t.Fatalf("disabled reasoning must not leak effort")
	}
	if out.StreamOptions != nil {
		t.Fatalf("non-stream request must not carry stream options")
	}
}

func TestSamplingParams_ExplicitZeroSurvives(t *testing.T) {
	zero := float32(0)

	client := newOpenAIClient(testRecord(models.ProviderTypeOpenAI), testModel())
	out := client.buildRequest(ChatRequest{Model: "facing-id", Temperature: &zero, TopP: &zero}, false)
	if out.Temperature != math.SmallestNonzeroFloat32 {
		t.Fatalf("explicit zero temperature must survive omitempty, got %v", out.Temperature)
	}
	if out.TopP != math.SmallestNonzeroFloat32 {
		t.Fatalf("explicit zero top_p must survive omitempty, got %v", out.TopP)
	}

	router := newOpenRouterClient(testRecord(models.ProviderTypeOpenRouter), testModel())
	body, err := router.buildBody(ChatRequest{Model: "facing-id", Temperature: &zero, TopP: &zero}, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.Get("temperature").Exists() || parsed.Get("temperature").Float() != 0 {
		t.Fatalf("explicit zero temperature must stay on the wire, body %s", body)
	}
	if !parsed.Get("top_p").Exists() || parsed.Get("top_p").Float() != 0 {
		t.Fatalf("explicit zero top_p must stay on the wire, body %s", body)
	}

	// Unset params stay off the wire entirely.
	body, err = router.buildBody(ChatRequest{Model: "facing-id"}, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if gjson.GetBytes(body, "temperature").Exists() {
		t.Fatalf("unset temperature must be omitted, body %s", body)
	}
}

func TestOpenRouterBuildBody(t *testing.T) {
	client := newOpenRouterClient(testRecord(models.ProviderTypeOpenRouter), testModel())
	body, err := client.buildBody(ChatRequest{
		Model: "facing-id",
		Reasoning: reasoning.Options{
			Enabled:   true,
			Effort:    "medium",
			Exclude:   true,
			RawConfig: map[string]any{"effort": "high"},
		},
	}, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	parsed := gjson.ParseBytes(body)
	if parsed.Get("model").String() != "upstream-id" {
		t.Fatalf("expected upstream id, got %q", parsed.Get("model").String())
	}
	// Raw config is written last, so the caller's effort wins.
	if parsed.Get("reasoning.effort").String() != "high" {
		t.Fatalf("expected raw config to win, got %q", parsed.Get("reasoning.effort").String())
	}
	if !parsed.Get("reasoning.exclude").Bool() {
		t.Fatalf("expected reasoning.exclude=true")
	}
	if !parsed.Get("stream").Bool() {
		t.Fatalf("expected stream=true")
	}
}

func TestAnthropicBuildBody(t *testing.T) {
	client := newAnthropicClient(testRecord(models.ProviderTypeAnthropic), testModel())
	body, err := client.buildBody(ChatRequest{
		Model: "facing-id",
		Messages: chatMessages("system", "be terse", "user", "hello"),
		Reasoning: reasoning.Options{Enabled: true, MaxTokens: 2048},
	}, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	parsed := gjson.ParseBytes(body)
	if parsed.Get("system").String() != "be terse" {
		t.Fatalf("system prompt must split out, got %q", parsed.Get("system").String())
	}
	if parsed.Get("messages.#").Int() != 1 {
		t.Fatalf("system message must not stay in messages")
	}
	if parsed.Get("thinking.type").String() != "enabled" {
		t.Fatalf("expected thinking enabled, got %s", parsed.Get("thinking").Raw)
	}
	if parsed.Get("thinking.budget_tokens").Int() != 2048 {
		t.Fatalf("expected budget 2048, got %d", parsed.Get("thinking.budget_tokens").Int())
	}
}

func TestGeminiBuildBody(t *testing.T) {
	client := newGeminiClient(testRecord(models.ProviderTypeGemini), testModel())
	body, err := client.buildBody(ChatRequest{
		Model: "facing-id",
		Messages: chatMessages(
			"system", "be terse",
			"user", "hello",
			"assistant", "hi",
		),
		Reasoning: reasoning.Options{Enabled: true, IncludeThoughts: true, MaxTokens: 4096},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	parsed := gjson.ParseBytes(body)
	if parsed.Get("systemInstruction.parts.0.text").String() != "be terse" {
		t.Fatalf("system prompt must become systemInstruction")
	}
	if parsed.Get("contents.1.role").String() != "model" {
		t.Fatalf("assistant turns must map to role model, got %q", parsed.Get("contents.1.role").String())
	}
	thinking := parsed.Get("generationConfig.thinkingConfig")
	if !thinking.Get("includeThoughts").Bool() {
		t.Fatalf("expected includeThoughts=true, got %s", thinking.Raw)
	}
	if thinking.Get("thinkingBudget").Int() != 4096 {
		t.Fatalf("expected thinkingBudget 4096, got %d", thinking.Get("thinkingBudget").Int())
	}
}
