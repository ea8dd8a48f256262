package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/commentguard/moderation-gateway/internal/gateway/catalog"
	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
	"github.com/commentguard/moderation-gateway/internal/gateway/parse"
	"github.com/commentguard/moderation-gateway/internal/gateway/ratelimit"
)

// Default confidence values for the local backend. The tables differ
// per backend on purpose; keep them separate.
var ollamaDefaultConfidence = map[moderation.Decision]int{
	moderation.DecisionSpam:    75,
	moderation.DecisionHam:     85,
	moderation.DecisionToxic:   70,
	moderation.DecisionApprove: 80,
	moderation.DecisionReject:  70,
}

// OllamaProvider moderates through a self-hosted Ollama-compatible
// model server. No API key, no metered billing: tokens and cost are
// always zero and no usage records are written.
type OllamaProvider struct {
	baseURL    string
	model      string
	limiter    ratelimit.Limiter
	catalog    *catalog.Cache
	httpClient *http.Client
	pingClient *http.Client
}

var _ Provider = (*OllamaProvider)(nil)

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaProvider creates the local-server adapter.
func NewOllamaProvider(baseURL, model string, deps Deps) *OllamaProvider {
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		limiter:    deps.Limiter,
		catalog:    deps.Catalog,
		httpClient: &http.Client{Timeout: generateTimeout},
		pingClient: &http.Client{Timeout: connectTimeout},
	}
}

func (p *OllamaProvider) Name() string        { return "ollama" }
func (p *OllamaProvider) DisplayName() string { return "Ollama (Local)" }

func (p *OllamaProvider) SupportsStreaming() bool { return true }

// EstimateCost is always zero: the local server has no metered billing.
func (p *OllamaProvider) EstimateCost(_ int) float64 { return 0 }

func (p *OllamaProvider) ConfigFields() []ConfigField {
	return []ConfigField{
		{Name: "base_url", Label: "Server URL", Type: "url", Required: true,
			Description: "Base URL of the local model server, e.g. http://localhost:11434"},
		{Name: "model", Label: "Model", Type: "text", Required: true},
	}
}

// ValidateConfig checks the server URL before it is persisted.
func (p *OllamaProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return errors.New("server URL is required")
	}
	parsed, err := url.Parse(p.baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.Errorf("server URL %q is not a valid URL", p.baseURL)
	}
	if p.model == "" {
		return errors.New("model is required")
	}
	return nil
}

// TestConnection checks that the server is reachable and reports how
// many models it serves.
func (p *OllamaProvider) TestConnection(ctx context.Context) ConnectionStatus {
	res, err := getJSON(ctx, p.pingClient, p.baseURL+"/api/tags", nil)
	if err != nil {
		return ConnectionStatus{Message: fmt.Sprintf("cannot reach the model server at %s: %v", p.baseURL, err)}
	}
	if res.Status != http.StatusOK {
		return ConnectionStatus{Message: fmt.Sprintf("model server returned status %d: %s", res.Status, truncateBody(res.Body))}
	}

	var tags ollamaTagsResponse
	if err := json.Unmarshal(res.Body, &tags); err != nil {
		return ConnectionStatus{Message: "model server answered with an unexpected response shape"}
	}
	return ConnectionStatus{
		Success: true,
		Message: "connected to the local model server",
		Data:    map[string]string{"models": fmt.Sprintf("%d", len(tags.Models))},
	}
}

// GetModels lists locally installed models. The listing is cheap, but
// it is cached like every other catalog so callers see one behavior.
func (p *OllamaProvider) GetModels(ctx context.Context) ([]string, error) {
	if cached, ok := p.catalog.Get(ctx, p.Name()); ok {
		return cached, nil
	}

	res, err := getJSON(ctx, p.pingClient, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list local models")
	}
	if res.Status != http.StatusOK {
		return nil, errors.Errorf("model server returned status %d", res.Status)
	}

	var tags ollamaTagsResponse
	if err := json.Unmarshal(res.Body, &tags); err != nil {
		return nil, errors.Wrap(err, "failed to parse model list")
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	if err := p.catalog.Put(ctx, p.Name(), names); err != nil {
		return names, nil
	}
	return names, nil
}

// ProcessComment classifies one comment against the local server.
func (p *OllamaProvider) ProcessComment(ctx context.Context, req moderation.Request) moderation.Result {
	start := time.Now()

	if p.baseURL == "" {
		return moderation.Failure(moderation.ErrConfigurationMissing,
			"Ollama server URL is not configured")
	}

	if denied, ok := gateRateLimit(ctx, p.limiter, p.Name(), req.Caller, p.DisplayName()); !ok {
		return denied
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	// The generate endpoint has no separate system slot, so the
	// instruction is prepended to the prompt.
	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: systemInstruction + "\n\n" + req.Prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: moderationTemperature,
			TopP:        0.9,
			NumPredict:  maxResponseTokens,
		},
	}

	res, err := postJSON(ctx, p.httpClient, p.baseURL+"/api/generate", nil, body)
	recordRequest(ctx, p.limiter, p.Name(), req.Caller)
	if err != nil {
		return moderation.Failuref(moderation.ErrNetwork,
			"failed to reach the local model server: %v", err)
	}
	if res.Status != http.StatusOK {
		return classifyStatus(p.DisplayName(), res, false)
	}

	var generated ollamaGenerateResponse
	if err := json.Unmarshal(res.Body, &generated); err != nil || generated.Response == "" {
		return moderation.Failure(moderation.ErrInvalidResponseFormat,
			"model server response did not contain generated text")
	}

	parsed := parse.Response(generated.Response)
	return successResult(parsed, ollamaDefaultConfidence, model, 0, 0, start)
}
