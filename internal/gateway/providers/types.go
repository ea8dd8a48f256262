package providers

import (
	"context"
	"time"

	"github.com/commentguard/moderation-gateway/internal/gateway/catalog"
	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
	"github.com/commentguard/moderation-gateway/internal/gateway/parse"
	"github.com/commentguard/moderation-gateway/internal/gateway/pricing"
	"github.com/commentguard/moderation-gateway/internal/gateway/ratelimit"
)

const (
	// generateTimeout bounds moderation calls; connectTimeout and
	// listTimeout bound connectivity checks and catalog fetches.
	generateTimeout = 60 * time.Second
	connectTimeout  = 10 * time.Second
	listTimeout     = 15 * time.Second

	// maxResponseTokens caps generation length; a decision plus brief
	// reasoning never needs more.
	maxResponseTokens = 500

	moderationTemperature = 0.1
)

// systemInstruction directs every backend to answer in the shape the
// parser understands.
const systemInstruction = "You are a comment moderation assistant. " +
	"Review the comment you are given and respond with exactly one decision word " +
	"(spam, ham, toxic, approve, or reject), a confidence percentage such as 85%, " +
	"and brief reasoning for your decision."

// ConfigField describes one configuration input an adapter needs
// (credentials, base URL, model, budget threshold). Consumed by the
// configuration UI; the declaration shape is part of the contract.
type ConfigField struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ConnectionStatus is the outcome of a connectivity check.
type ConnectionStatus struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

// Provider is the interface all moderation backends implement.
type Provider interface {
	// Name is the stable machine identifier; DisplayName the human label.
	Name() string
	DisplayName() string

	SupportsStreaming() bool
	ConfigFields() []ConfigField

	// ValidateConfig format-checks credentials and required fields
	// before they are persisted.
	ValidateConfig() error

	// TestConnection performs a minimal, low-cost call to verify
	// reachability and credentials. It never runs a moderation task.
	TestConnection(ctx context.Context) ConnectionStatus

	// GetModels lists available model identifiers. Adapters may serve
	// a catalog cached for up to an hour.
	GetModels(ctx context.Context) ([]string, error)

	// ProcessComment classifies one comment. Failures are returned in
	// the result, never as an error.
	ProcessComment(ctx context.Context, req moderation.Request) moderation.Result

	// EstimateCost projects USD cost for a token count against the
	// adapter's default model, assuming a 75/25 input/output split.
	EstimateCost(tokens int) float64
}

// Deps are the shared collaborators every adapter is constructed with.
type Deps struct {
	Limiter ratelimit.Limiter
	Ledger  pricing.Ledger
	Catalog *catalog.Cache
}

// gateRateLimit applies the local limiter before any outbound call.
// When denied, the provider call must not be attempted and the denial
// does not consume a slot.
func gateRateLimit(ctx context.Context, limiter ratelimit.Limiter, action, caller, displayName string) (moderation.Result, bool) {
	if limiter == nil || limiter.CanMakeRequest(ctx, action, caller) {
		return moderation.Result{}, true
	}
	wait := limiter.WaitTime(ctx, action, caller)
	return moderation.Failuref(moderation.ErrRateLimitedLocal,
		"%s request rate limit reached; try again in %s", displayName, wait.Round(time.Second)), false
}

// recordRequest consumes a rate-limit slot after a provider call
// returned, success or failure.
func recordRequest(ctx context.Context, limiter ratelimit.Limiter, action, caller string) {
	if limiter != nil {
		limiter.RecordRequest(ctx, action, caller)
	}
}

// successResult assembles a success result from parsed output,
// substituting the adapter's per-decision default confidence when the
// response carried no explicit percentage.
func successResult(parsed parse.Result, defaults map[moderation.Decision]int, model string, tokens int, cost float64, start time.Time) moderation.Result {
	confidence := parsed.Confidence
	if !parsed.ConfidenceFound && parsed.Decision != moderation.DecisionHold {
		if d, ok := defaults[parsed.Decision]; ok {
			confidence = d
		}
	}
	return moderation.Result{
		Success:        true,
		Decision:       parsed.Decision,
		Confidence:     confidence,
		Reasoning:      parsed.Reasoning,
		TokensUsed:     tokens,
		CostUSD:        cost,
		ProcessingTime: time.Since(start).Seconds(),
		ModelUsed:      model,
		RawResponse:    parsed.Reasoning,
	}
}
