package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds all configuration for the gateway.
type Config struct {
	// Server
	Port string
	Env  string

	// Database (usage ledger)
	DatabaseURL string

	// Redis (rate-limit windows, model-catalog cache). Optional; the
	// gateway falls back to in-memory state when empty.
	RedisURL string

	// Active backend + fallback chain
	Provider       string
	FallbackModels []string

	// Local self-hosted model server
	OllamaBaseURL string
	OllamaModel   string

	// OpenAI
	OpenAIModel string

	// Anthropic
	AnthropicModel string

	// OpenRouter
	OpenRouterModel   string
	OpenRouterReferer string
	OpenRouterTitle   string

	// Rate limiting
	RateLimitPerWindow  int
	RateLimitWindowSecs int
	PrivilegedCallers   []string

	// Budget
	MonthlyBudgetUSD float64
}

// CredentialStore retrieves secrets such as API keys. Adapters never
// read the environment directly.
type CredentialStore interface {
	Get(name string) (string, bool)
}

// EnvCredentialStore reads secrets from environment variables.
type EnvCredentialStore struct{}

// Get returns the named secret, and whether it is set and non-empty.
func (EnvCredentialStore) Get(name string) (string, bool) {
	value := os.Getenv(name)
	return value, value != ""
}

// Load loads configuration from environment variables, with an
// optional .env file.
func Load() (*Config, error) {
	// Ignore a missing .env file.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		Provider:            getEnv("MODERATION_PROVIDER", "openai"),
		FallbackModels:      getEnvList("FALLBACK_MODELS"),
		OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:         getEnv("OLLAMA_MODEL", "llama3.1"),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicModel:      getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),
		OpenRouterModel:     getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		OpenRouterReferer:   getEnv("OPENROUTER_REFERER", "https://github.com/commentguard/moderation-gateway"),
		OpenRouterTitle:     getEnv("OPENROUTER_TITLE", "Moderation Gateway"),
		RateLimitPerWindow:  getEnvInt("RATE_LIMIT_PER_WINDOW", 60),
		RateLimitWindowSecs: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		PrivilegedCallers:   getEnvList("PRIVILEGED_CALLERS"),
		MonthlyBudgetUSD:    getEnvFloat("MONTHLY_BUDGET_USD", 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
