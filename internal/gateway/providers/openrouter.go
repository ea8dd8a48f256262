package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/commentguard/moderation-gateway/internal/gateway/catalog"
	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
	"github.com/commentguard/moderation-gateway/internal/gateway/parse"
	"github.com/commentguard/moderation-gateway/internal/gateway/pricing"
	"github.com/commentguard/moderation-gateway/internal/gateway/ratelimit"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api"

	// openRouterCostHeader carries the charged cost when the router
	// includes it; otherwise cost falls back to the pricing table.
	openRouterCostHeader = "X-Openrouter-Cost"
)

var openRouterDefaultConfidence = map[moderation.Decision]int{
	moderation.DecisionSpam:    80,
	moderation.DecisionHam:     85,
	moderation.DecisionToxic:   75,
	moderation.DecisionApprove: 80,
	moderation.DecisionReject:  75,
}

// openRouterPricing is quoted in USD per 1M tokens.
var openRouterPricing = pricing.Table{
	UnitTokens:   1_000_000,
	DefaultModel: "openai/gpt-4o-mini",
	Rates: map[string]pricing.Rate{
		"openai/gpt-4o-mini":                {Input: 0.15, Output: 0.6},
		"anthropic/claude-3.5-haiku":        {Input: 0.25, Output: 1.25},
		"meta-llama/llama-3.1-70b-instruct": {Input: 0.3, Output: 0.4},
	},
}

// OpenRouterProvider moderates through the OpenRouter aggregator,
// which exposes an OpenAI-compatible chat completions API in front of
// many upstream models.
type OpenRouterProvider struct {
	apiKey     string
	model      string
	referer    string
	title      string
	baseURL    string
	limiter    ratelimit.Limiter
	catalog    *catalog.Cache
	accountant *pricing.Accountant
	httpClient *http.Client
	pingClient *http.Client
}

var _ Provider = (*OpenRouterProvider)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type openRouterModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewOpenRouterProvider creates the aggregator adapter.
func NewOpenRouterProvider(apiKey, model, referer, title string, deps Deps) *OpenRouterProvider {
	return &OpenRouterProvider{
		apiKey:     apiKey,
		model:      model,
		referer:    referer,
		title:      title,
		baseURL:    openRouterBaseURL,
		limiter:    deps.Limiter,
		catalog:    deps.Catalog,
		accountant: pricing.NewAccountant("openrouter", openRouterPricing, deps.Ledger),
		httpClient: &http.Client{Timeout: generateTimeout},
		pingClient: &http.Client{Timeout: listTimeout},
	}
}

func (p *OpenRouterProvider) Name() string        { return "openrouter" }
func (p *OpenRouterProvider) DisplayName() string { return "OpenRouter" }

func (p *OpenRouterProvider) SupportsStreaming() bool { return false }

func (p *OpenRouterProvider) EstimateCost(tokens int) float64 {
	return p.accountant.EstimateCost(p.model, tokens)
}

func (p *OpenRouterProvider) ConfigFields() []ConfigField {
	return []ConfigField{
		{Name: "api_key", Label: "API Key", Type: "password", Required: true,
			Description: "OpenRouter API key, starts with sk-or-"},
		{Name: "model", Label: "Model", Type: "text", Required: true},
		{Name: "referer", Label: "Site URL", Type: "url", Required: false,
			Description: "Sent as the HTTP-Referer attribution header"},
		{Name: "title", Label: "Site Name", Type: "text", Required: false},
		{Name: "budget_usd", Label: "Monthly Budget (USD)", Type: "number", Required: false},
	}
}

// ValidateConfig format-checks the credential before it is persisted.
func (p *OpenRouterProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return errors.New("API key is required")
	}
	if !strings.HasPrefix(p.apiKey, "sk-or-") {
		return errors.New("API key must start with sk-or-")
	}
	if p.model == "" {
		return errors.New("model is required")
	}
	return nil
}

func (p *OpenRouterProvider) headers() map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}
	if p.referer != "" {
		h["HTTP-Referer"] = p.referer
	}
	if p.title != "" {
		h["X-Title"] = p.title
	}
	return h
}

// TestConnection lists models, which verifies both reachability and
// the credential without running a moderation task.
func (p *OpenRouterProvider) TestConnection(ctx context.Context) ConnectionStatus {
	if p.apiKey == "" {
		return ConnectionStatus{Message: "OpenRouter API key is not configured"}
	}

	res, err := getJSON(ctx, p.pingClient, p.baseURL+"/v1/models", p.headers())
	if err != nil {
		return ConnectionStatus{Message: fmt.Sprintf("cannot reach OpenRouter: %v", err)}
	}
	if res.Status == http.StatusUnauthorized {
		return ConnectionStatus{Message: "OpenRouter rejected the configured API key"}
	}
	if res.Status != http.StatusOK {
		return ConnectionStatus{Message: fmt.Sprintf("OpenRouter returned status %d: %s", res.Status, truncateBody(res.Body))}
	}

	var list openRouterModelsResponse
	if err := json.Unmarshal(res.Body, &list); err != nil {
		return ConnectionStatus{Message: "OpenRouter answered with an unexpected response shape"}
	}
	return ConnectionStatus{
		Success: true,
		Message: "connected to OpenRouter",
		Data:    map[string]string{"models": fmt.Sprintf("%d", len(list.Data))},
	}
}

// GetModels lists the router's catalog. The catalog is large and
// long-lived, so the cache matters here more than anywhere else.
func (p *OpenRouterProvider) GetModels(ctx context.Context) ([]string, error) {
	if cached, ok := p.catalog.Get(ctx, p.Name()); ok {
		return cached, nil
	}

	res, err := getJSON(ctx, p.pingClient, p.baseURL+"/v1/models", p.headers())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list OpenRouter models")
	}
	if res.Status != http.StatusOK {
		return nil, errors.Errorf("OpenRouter returned status %d", res.Status)
	}

	var list openRouterModelsResponse
	if err := json.Unmarshal(res.Body, &list); err != nil {
		return nil, errors.Wrap(err, "failed to parse model list")
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	if err := p.catalog.Put(ctx, p.Name(), ids); err != nil {
		return ids, nil
	}
	return ids, nil
}

// ProcessComment classifies one comment through the router's chat
// completions endpoint.
func (p *OpenRouterProvider) ProcessComment(ctx context.Context, req moderation.Request) moderation.Result {
	start := time.Now()

	if p.apiKey == "" {
		return moderation.Failure(moderation.ErrConfigurationMissing,
			"OpenRouter API key is not configured")
	}

	if denied, ok := gateRateLimit(ctx, p.limiter, p.Name(), req.Caller, p.DisplayName()); !ok {
		return denied
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	body := chatCompletionsRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: moderationTemperature,
		MaxTokens:   maxResponseTokens,
	}

	res, err := postJSON(ctx, p.httpClient, p.baseURL+"/v1/chat/completions", p.headers(), body)
	recordRequest(ctx, p.limiter, p.Name(), req.Caller)
	if err != nil {
		return moderation.Failuref(moderation.ErrNetwork, "failed to reach OpenRouter: %v", err)
	}
	if res.Status != http.StatusOK {
		// The router bills through the gateway key, so 402 means the
		// account ran out of credits.
		return classifyStatus(p.DisplayName(), res, true)
	}

	var completion chatCompletionsResponse
	if err := json.Unmarshal(res.Body, &completion); err != nil ||
		len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return moderation.Failure(moderation.ErrInvalidResponseFormat,
			"OpenRouter response did not contain message content")
	}

	text := completion.Choices[0].Message.Content
	parsed := parse.Response(text)

	tokens := completion.Usage.TotalTokens
	cost := p.resolveCost(res, model, tokens)
	p.accountant.Record(ctx, model, tokens, cost)

	return successResult(parsed, openRouterDefaultConfidence, model, tokens, cost, start)
}

// resolveCost prefers the charged cost the router reports in a
// response header; absent that it estimates from the pricing table,
// since the router only reports a combined token count.
func (p *OpenRouterProvider) resolveCost(res httpResult, model string, tokens int) float64 {
	if raw := res.Header.Get(openRouterCostHeader); raw != "" {
		if cost, err := strconv.ParseFloat(raw, 64); err == nil && cost >= 0 {
			return cost
		}
	}
	return p.accountant.EstimateCost(model, tokens)
}
