package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/commentguard/moderation-gateway/internal/gateway/catalog"
	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
	"github.com/commentguard/moderation-gateway/internal/gateway/parse"
	"github.com/commentguard/moderation-gateway/internal/gateway/pricing"
	"github.com/commentguard/moderation-gateway/internal/gateway/ratelimit"
)

var openAIDefaultConfidence = map[moderation.Decision]int{
	moderation.DecisionSpam:    80,
	moderation.DecisionHam:     85,
	moderation.DecisionToxic:   75,
	moderation.DecisionApprove: 80,
	moderation.DecisionReject:  75,
}

// openAIPricing is quoted in USD per 1K tokens.
var openAIPricing = pricing.Table{
	UnitTokens:   1_000,
	DefaultModel: "gpt-4o-mini",
	Rates: map[string]pricing.Rate{
		"gpt-4o":        {Input: 0.0025, Output: 0.01},
		"gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
		"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
		"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
	},
}

// OpenAIProvider moderates through the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	client     *openai.Client
	limiter    ratelimit.Limiter
	catalog    *catalog.Cache
	accountant *pricing.Accountant
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates the OpenAI adapter.
func NewOpenAIProvider(apiKey, model string, deps Deps) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.HTTPClient = &http.Client{Timeout: generateTimeout}

	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		client:     openai.NewClientWithConfig(clientConfig),
		limiter:    deps.Limiter,
		catalog:    deps.Catalog,
		accountant: pricing.NewAccountant("openai", openAIPricing, deps.Ledger),
	}
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) DisplayName() string { return "OpenAI" }

func (p *OpenAIProvider) SupportsStreaming() bool { return true }

func (p *OpenAIProvider) EstimateCost(tokens int) float64 {
	return p.accountant.EstimateCost(p.model, tokens)
}

func (p *OpenAIProvider) ConfigFields() []ConfigField {
	return []ConfigField{
		{Name: "api_key", Label: "API Key", Type: "password", Required: true,
			Description: "OpenAI API key, starts with sk-"},
		{Name: "model", Label: "Model", Type: "text", Required: true},
		{Name: "budget_usd", Label: "Monthly Budget (USD)", Type: "number", Required: false},
	}
}

// ValidateConfig format-checks the credential before it is persisted.
func (p *OpenAIProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return errors.New("API key is required")
	}
	if !strings.HasPrefix(p.apiKey, "sk-") {
		return errors.New("API key must start with sk-")
	}
	if p.model == "" {
		return errors.New("model is required")
	}
	return nil
}

// TestConnection lists models, which verifies both reachability and
// the credential without running a moderation task.
func (p *OpenAIProvider) TestConnection(ctx context.Context) ConnectionStatus {
	if p.apiKey == "" {
		return ConnectionStatus{Message: "OpenAI API key is not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	list, err := p.client.ListModels(ctx)
	if err != nil {
		return ConnectionStatus{Message: describeOpenAIError("OpenAI", err)}
	}
	return ConnectionStatus{
		Success: true,
		Message: "connected to OpenAI",
		Data:    map[string]string{"models": fmt.Sprintf("%d", len(list.Models))},
	}
}

// GetModels lists available model identifiers, served from the
// catalog cache when fresh.
func (p *OpenAIProvider) GetModels(ctx context.Context) ([]string, error) {
	if cached, ok := p.catalog.Get(ctx, p.Name()); ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list OpenAI models")
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	if err := p.catalog.Put(ctx, p.Name(), ids); err != nil {
		return ids, nil
	}
	return ids, nil
}

// ProcessComment classifies one comment through chat completions.
func (p *OpenAIProvider) ProcessComment(ctx context.Context, req moderation.Request) moderation.Result {
	start := time.Now()

	if p.apiKey == "" {
		return moderation.Failure(moderation.ErrConfigurationMissing,
			"OpenAI API key is not configured")
	}

	if denied, ok := gateRateLimit(ctx, p.limiter, p.Name(), req.Caller, p.DisplayName()); !ok {
		return denied
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: moderationTemperature,
		MaxTokens:   maxResponseTokens,
	})
	recordRequest(ctx, p.limiter, p.Name(), req.Caller)
	if err != nil {
		return classifyOpenAIError("OpenAI", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return moderation.Failure(moderation.ErrInvalidResponseFormat,
			"OpenAI response did not contain message content")
	}

	text := resp.Choices[0].Message.Content
	parsed := parse.Response(text)

	tokens := resp.Usage.TotalTokens
	cost := p.accountant.ActualCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.accountant.Record(ctx, model, tokens, cost)

	return successResult(parsed, openAIDefaultConfidence, model, tokens, cost, start)
}

// classifyOpenAIError maps go-openai client errors onto failure
// results using the same status rules as the raw HTTP adapters.
func classifyOpenAIError(displayName string, err error) moderation.Result {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		res := httpResult{Status: apiErr.HTTPStatusCode, Body: []byte(apiErr.Message)}
		return classifyStatus(displayName, res, false)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		res := httpResult{Status: reqErr.HTTPStatusCode, Body: []byte(reqErr.Error())}
		return classifyStatus(displayName, res, false)
	}
	return moderation.Failuref(moderation.ErrNetwork, "failed to reach %s: %v", displayName, err)
}

func describeOpenAIError(displayName string, err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Sprintf("%s rejected the configured API key", displayName)
		}
		return fmt.Sprintf("%s returned status %d: %s", displayName, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Sprintf("cannot reach %s: %v", displayName, err)
}
