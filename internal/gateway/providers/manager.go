package providers

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
	"github.com/commentguard/moderation-gateway/internal/shared/config"
)

// Manager owns the configured adapters and runs the fallback chain.
// Adapters are selected by their stable name string; nothing outside
// this factory hardcodes which backend is in use.
type Manager struct {
	providers map[string]Provider
	defaults  map[string]string
	active    string
	fallbacks []string
}

// NewManager builds an adapter per configured backend. The local
// server needs no credential; the hosted backends are only registered
// when the credential store has their key.
func NewManager(cfg *config.Config, creds config.CredentialStore, deps Deps) *Manager {
	m := &Manager{
		providers: make(map[string]Provider),
		defaults: map[string]string{
			"ollama":     cfg.OllamaModel,
			"openai":     cfg.OpenAIModel,
			"anthropic":  cfg.AnthropicModel,
			"openrouter": cfg.OpenRouterModel,
		},
		active:    cfg.Provider,
		fallbacks: cfg.FallbackModels,
	}

	m.Register(NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel, deps))

	if key, ok := creds.Get("OPENAI_API_KEY"); ok {
		m.Register(NewOpenAIProvider(key, cfg.OpenAIModel, deps))
	}
	if key, ok := creds.Get("ANTHROPIC_API_KEY"); ok {
		m.Register(NewAnthropicProvider(key, cfg.AnthropicModel, deps))
	}
	if key, ok := creds.Get("OPENROUTER_API_KEY"); ok {
		m.Register(NewOpenRouterProvider(key, cfg.OpenRouterModel,
			cfg.OpenRouterReferer, cfg.OpenRouterTitle, deps))
	}

	return m
}

// Register adds or replaces an adapter, keyed by its Name.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Provider returns the adapter registered under name.
func (m *Manager) Provider(name string) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, errors.Errorf("provider %s is not configured (check its API key)", name)
	}
	return p, nil
}

// Active returns the adapter for the configured default backend.
func (m *Manager) Active() (Provider, error) {
	return m.Provider(m.active)
}

// Names lists the configured provider identifiers, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process runs one moderation request against the named backend (or
// the active one when name is empty) with the configured fallback
// chain.
func (m *Manager) Process(ctx context.Context, name string, req moderation.Request) moderation.Result {
	if name == "" {
		name = m.active
	}
	p, err := m.Provider(name)
	if err != nil {
		return moderation.Failure(moderation.ErrConfigurationMissing, err.Error())
	}
	if req.Model == "" {
		req.Model = m.defaults[name]
	}
	return ProcessWithFallback(ctx, p, req, m.fallbacks)
}

// ProcessWithFallback attempts the request's model first, then each
// fallback model in listed order, strictly sequentially, returning the
// first success. A success on a fallback model is annotated with the
// original model. When every attempt fails, the returned failure
// embeds only the last attempt's error; earlier failures are logged
// for diagnostics rather than aggregated.
func ProcessWithFallback(ctx context.Context, p Provider, req moderation.Request, fallbacks []string) moderation.Result {
	primary := req.Model

	result := p.ProcessComment(ctx, req)
	if result.Success || len(fallbacks) == 0 {
		return result
	}

	last := result
	lastModel := primary
	for _, model := range fallbacks {
		if model == primary {
			continue
		}

		log.WithFields(log.Fields{
			"provider":   p.Name(),
			"model":      lastModel,
			"error_kind": last.ErrorKind,
			"fallback":   model,
		}).Info("moderation attempt failed, trying fallback model")

		attempt := req
		attempt.Model = model
		r := p.ProcessComment(ctx, attempt)
		if r.Success {
			if model != primary {
				r.FallbackUsed = true
				r.FallbackModel = model
				r.OriginalModel = primary
			}
			return r
		}
		last = r
		lastModel = model
	}

	return moderation.Failuref(last.ErrorKind,
		"all models failed; last attempt (%s): %s", lastModel, last.Error)
}
