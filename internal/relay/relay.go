// Package relay is the request pipeline behind the OpenAI-compatible
// surface: resolve the model, gate on tier and balance, normalize the
// thinking preference, invoke the upstream, and meter what came back.
package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/audit"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/ledger"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/reasoning"
)

// Relay wires the pipeline stages behind the public endpoints.
type Relay struct {
	resolver *catalog.Resolver
	ledger   *ledger.Ledger
	recorder *audit.Recorder

	// buildClient is swappable for tests.
	buildClient func(record models.Provider, model models.Model) (provider.Client, error)
}

// New constructs a Relay over the application database and daily counter.
func New(db *gorm.DB, books *ledger.Ledger) *Relay {
	return &Relay{
		resolver:    catalog.NewResolver(db),
		ledger:      books,
		recorder:    audit.NewRecorder(db),
		buildClient: provider.New,
	}
}

// chatCompletionRequest is the accepted POST body. It mirrors the OpenAI
// chat-completion shape plus the reasoning extension.
type chatCompletionRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Temperature *float32                       `json:"temperature,omitempty"`
	TopP        *float32                       `json:"top_p,omitempty"`
	MaxTokens   *int                           `json:"max_tokens,omitempty"`
	N           int                            `json:"n,omitempty"`
	Stream      bool                           `json:"stream,omitempty"`
	Tools       []openai.Tool                  `json:"tools,omitempty"`
	ToolChoice  any                            `json:"tool_choice,omitempty"`
	Reasoning   *reasoning.Request             `json:"reasoning,omitempty"`
}

// ChatCompletions handles POST /v1/chat/completions.
func (r *Relay) ChatCompletions(c *gin.Context) {
	identity, okIdentity := auth.IdentityFromContext(c)
	if !okIdentity {
		apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "missing identity"))
		return
	}

	var req chatCompletionRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		apierr.RenderJSON(c, apierr.Wrap(apierr.KindInvalidRequest, "malformed request body", errBind))
		return
	}
	if req.Model == "" {
		apierr.RenderJSON(c, apierr.New(apierr.KindInvalidRequest, "model is required"))
		return
	}
	if len(req.Messages) == 0 {
		apierr.RenderJSON(c, apierr.New(apierr.KindInvalidRequest, "messages must not be empty"))
		return
	}
	if req.N <= 0 {
		req.N = 1
	}
	if req.N > identity.MaxCompletions {
		apierr.RenderJSON(c, apierr.Newf(apierr.KindInvalidRequest,
			"requested %d completions, plan allows %d", req.N, identity.MaxCompletions).
			WithCode(apierr.CodeTooManyCompletions))
		return
	}

	ctx := c.Request.Context()
	resolved, errResolve := r.resolver.Resolve(ctx, identity.Tier, req.Model)
	if errResolve != nil {
		apierr.RenderJSON(c, errResolve)
		return
	}
	if errBalance := r.ledger.Precheck(ctx, identity.UserID); errBalance != nil {
		apierr.RenderJSON(c, errBalance)
		return
	}

	profile, errProfile := reasoning.ParseProfile(resolved.Model.Capabilities)
	if errProfile != nil {
		apierr.RenderJSON(c, apierr.Wrap(apierr.KindUpstream, "model capabilities are malformed", errProfile))
		return
	}
	thinking, errThinking := reasoning.Resolve(profile, req.Reasoning)
	if errThinking != nil {
		apierr.RenderJSON(c, errThinking)
		return
	}

	client, errClient := r.buildClient(resolved.Provider, resolved.Model)
	if errClient != nil {
		apierr.RenderJSON(c, errClient)
		return
	}

	chatReq := provider.ChatRequest{
		Model:       resolved.Model.ModelID,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		N:           req.N,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Reasoning:   thinking,
	}

	if req.Stream {
		r.streamCompletion(c, identity, resolved, client, chatReq)
		return
	}
	r.complete(c, identity, resolved, client, chatReq)
}

// complete runs the non-streaming path: one upstream call, one metering
// pass, one JSON body.
func (r *Relay) complete(c *gin.Context, identity auth.Identity, resolved catalog.Resolved, client provider.Client, chatReq provider.ChatRequest) {
	requestedAt := time.Now()
	resp, errComplete := client.Complete(c.Request.Context(), chatReq)
	if errComplete != nil {
		r.recorder.Record(audit.Event{
			UserID:      identity.UserID,
			APIKeyID:    identity.APIKeyID,
			Provider:    string(resolved.Provider.Type),
			Model:       resolved.Model.ModelID,
			RequestedAt: requestedAt,
			Failed:      true,
		})
		apierr.RenderJSON(c, errComplete)
		return
	}

	r.meter(identity, resolved, resp.Usage, requestedAt, false)

	c.JSON(http.StatusOK, openai.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resolved.Model.ModelID,
		Choices: resp.Choices,
		Usage:   resp.Usage,
	})
}

// meter converts token usage into credits, draws them down with debt
// overflow, and writes the audit row. A metering failure is logged and
// swallowed; the caller already has their completion.
func (r *Relay) meter(identity auth.Identity, resolved catalog.Resolved, usage openai.Usage, requestedAt time.Time, streamed bool) {
	costDollars := ledger.ChatCostDollars(usage.PromptTokens, usage.CompletionTokens,
		resolved.Model.InputPricePerMTok, resolved.Model.OutputPricePerMTok)
	credits := ledger.CreditsForDollars(costDollars)

	// Metering runs on a detached context so a client disconnect after the
	// response cannot cancel the draw-down.
	meterCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result ledger.ConsumeResult
	if credits > 0 {
		var errConsume error
		result, errConsume = r.ledger.ConsumeWithDebt(meterCtx, identity.UserID, credits)
		if errConsume != nil {
			log.WithError(errConsume).WithFields(log.Fields{
				"user_id": identity.UserID,
				"credits": credits,
			}).Error("relay: failed to meter usage")
		}
	}

	reasoningTokens := 0
	if usage.CompletionTokensDetails != nil {
		reasoningTokens = usage.CompletionTokensDetails.ReasoningTokens
	}
	r.recorder.Record(audit.Event{
		UserID:          identity.UserID,
		APIKeyID:        identity.APIKeyID,
		Provider:        string(resolved.Provider.Type),
		Model:           resolved.Model.ModelID,
		RequestedAt:     requestedAt,
		Streamed:        streamed,
		InputTokens:     usage.PromptTokens,
		OutputTokens:    usage.CompletionTokens,
		ReasoningTokens: reasoningTokens,
		Credits:         credits,
		DebtIncurred:    result.DebtIncurred,
		CostMicros:      ledger.DollarsToMicros(costDollars),
	})
}
