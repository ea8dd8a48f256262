package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/moderation?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaBaseURL)
	assert.Equal(t, 60, cfg.RateLimitPerWindow)
	assert.Equal(t, 60, cfg.RateLimitWindowSecs)
	assert.Empty(t, cfg.FallbackModels)
	assert.Empty(t, cfg.PrivilegedCallers)
	assert.Zero(t, cfg.MonthlyBudgetUSD)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/moderation")
	t.Setenv("MODERATION_PROVIDER", "anthropic")
	t.Setenv("FALLBACK_MODELS", "claude-3-5-haiku-20241022, claude-sonnet-4-5-20250929,")
	t.Setenv("PRIVILEGED_CALLERS", "admin-panel")
	t.Setenv("RATE_LIMIT_PER_WINDOW", "120")
	t.Setenv("MONTHLY_BUDGET_USD", "25.50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, []string{"claude-3-5-haiku-20241022", "claude-sonnet-4-5-20250929"}, cfg.FallbackModels)
	assert.Equal(t, []string{"admin-panel"}, cfg.PrivilegedCallers)
	assert.Equal(t, 120, cfg.RateLimitPerWindow)
	assert.InDelta(t, 25.50, cfg.MonthlyBudgetUSD, 1e-9)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/moderation")
	t.Setenv("RATE_LIMIT_PER_WINDOW", "not a number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.RateLimitPerWindow)
}

func TestEnvCredentialStore(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	store := EnvCredentialStore{}

	key, ok := store.Get("OPENAI_API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "sk-test", key)

	_, ok = store.Get("DOES_NOT_EXIST_API_KEY")
	assert.False(t, ok)
}
