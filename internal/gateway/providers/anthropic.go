package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

var anthropicDefaultConfidence = map[moderation.Decision]int{
	moderation.DecisionSpam:    80,
	moderation.DecisionHam:     85,
	moderation.DecisionToxic:   75,
	moderation.DecisionApprove: 80,
	moderation.DecisionReject:  70,
}

// anthropicPricing is quoted in USD per 1M tokens.
var anthropicPricing = pricing.Table{
	UnitTokens:   1_000_000,
	DefaultModel: "claude-3-5-haiku-20241022",
	Rates: map[string]pricing.Rate{
		"claude-3-5-haiku-20241022":  {Input: 0.25, Output: 1.25},
		"claude-sonnet-4-5-20250929": {Input: 3, Output: 15},
		"claude-opus-4-5-20251101":   {Input: 15, Output: 75},
	},
}

// AnthropicProvider moderates through the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	model      string
	baseURL    string
	limiter    ratelimit.Limiter
	catalog    *catalog.Cache
	accountant *pricing.Accountant
	httpClient *http.Client
	pingClient *http.Client
}

var _ Provider = (*AnthropicProvider)(nil)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewAnthropicProvider creates the Anthropic adapter.
func NewAnthropicProvider(apiKey, model string, deps Deps) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    anthropicBaseURL,
		limiter:    deps.Limiter,
		catalog:    deps.Catalog,
		accountant: pricing.NewAccountant("anthropic", anthropicPricing, deps.Ledger),
		httpClient: &http.Client{Timeout: generateTimeout},
		pingClient: &http.Client{Timeout: connectTimeout},
	}
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) DisplayName() string { return "Anthropic" }

func (p *AnthropicProvider) SupportsStreaming() bool { return true }

func (p *AnthropicProvider) EstimateCost(tokens int) float64 {
	return p.accountant.EstimateCost(p.model, tokens)
}

func (p *AnthropicProvider) ConfigFields() []ConfigField {
	return []ConfigField{
		{Name: "api_key", Label: "API Key", Type: "password", Required: true,
			Description: "Anthropic API key, starts with sk-ant-"},
		{Name: "model", Label: "Model", Type: "text", Required: true},
		{Name: "budget_usd", Label: "Monthly Budget (USD)", Type: "number", Required: false},
	}
}

// ValidateConfig format-checks the credential before it is persisted.
func (p *AnthropicProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return errors.New("API key is required")
	}
	if !strings.HasPrefix(p.apiKey, "sk-ant-") {
		return errors.New("API key must start with sk-ant-")
	}
	if p.model == "" {
		return errors.New("model is required")
	}
	return nil
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
}

// TestConnection lists models, which verifies both reachability and
// the credential without running a moderation task.
func (p *AnthropicProvider) TestConnection(ctx context.Context) ConnectionStatus {
	if p.apiKey == "" {
		return ConnectionStatus{Message: "Anthropic API key is not configured"}
	}

	res, err := getJSON(ctx, p.pingClient, p.baseURL+"/v1/models", p.headers())
	if err != nil {
		return ConnectionStatus{Message: fmt.Sprintf("cannot reach Anthropic: %v", err)}
	}
	if res.Status == http.StatusUnauthorized {
		return ConnectionStatus{Message: "Anthropic rejected the configured API key"}
	}
	if res.Status != http.StatusOK {
		return ConnectionStatus{Message: fmt.Sprintf("Anthropic returned status %d: %s", res.Status, truncateBody(res.Body))}
	}

	var list anthropicModelsResponse
	if err := json.Unmarshal(res.Body, &list); err != nil {
		return ConnectionStatus{Message: "Anthropic answered with an unexpected response shape"}
	}
	return ConnectionStatus{
		Success: true,
		Message: "connected to Anthropic",
		Data:    map[string]string{"models": fmt.Sprintf("%d", len(list.Data))},
	}
}

// GetModels lists available model identifiers, served from the
// catalog cache when fresh.
func (p *AnthropicProvider) GetModels(ctx context.Context) ([]string, error) {
	if cached, ok := p.catalog.Get(ctx, p.Name()); ok {
		return cached, nil
	}

	res, err := getJSON(ctx, p.pingClient, p.baseURL+"/v1/models", p.headers())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list Anthropic models")
	}
	if res.Status != http.StatusOK {
		return nil, errors.Errorf("Anthropic returned status %d", res.Status)
	}

	var list anthropicModelsResponse
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

// ProcessComment classifies one comment through the Messages API.
func (p *AnthropicProvider) ProcessComment(ctx context.Context, req moderation.Request) moderation.Result {
	start := time.Now()

	if p.apiKey == "" {
		return moderation.Failure(moderation.ErrConfigurationMissing,
			"Anthropic API key is not configured")
	}

	if denied, ok := gateRateLimit(ctx, p.limiter, p.Name(), req.Caller, p.DisplayName()); !ok {
		return denied
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	body := anthropicMessagesRequest{
		Model:     model,
		MaxTokens: maxResponseTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		System:    systemInstruction,
	}

	res, err := postJSON(ctx, p.httpClient, p.baseURL+"/v1/messages", p.headers(), body)
	recordRequest(ctx, p.limiter, p.Name(), req.Caller)
	if err != nil {
		return moderation.Failuref(moderation.ErrNetwork, "failed to reach Anthropic: %v", err)
	}
	if res.Status != http.StatusOK {
		return classifyStatus(p.DisplayName(), res, false)
	}

	var msg anthropicMessagesResponse
	if err := json.Unmarshal(res.Body, &msg); err != nil || len(msg.Content) == 0 || msg.Content[0].Text == "" {
		return moderation.Failure(moderation.ErrInvalidResponseFormat,
			"Anthropic response did not contain text content")
	}

	text := msg.Content[0].Text
	parsed := parse.Response(text)

	tokens := msg.Usage.InputTokens + msg.Usage.OutputTokens
	cost := p.accountant.ActualCost(model, msg.Usage.InputTokens, msg.Usage.OutputTokens)
	p.accountant.Record(ctx, model, tokens, cost)

	return successResult(parsed, anthropicDefaultConfidence, model, tokens, cost, start)
}
