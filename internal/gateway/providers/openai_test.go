package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
)

func newOpenAITestProvider(serverURL string, deps Deps) *OpenAIProvider {
	p := NewOpenAIProvider("sk-test", "gpt-4o-mini", deps)
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = serverURL + "/v1"
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

func TestOpenAIProcessCommentSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, systemInstruction, req.Messages[0].Content)

		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "reject. Confidence: 77%. Repeated profanity."}}],
			"usage": {"prompt_tokens": 500, "completion_tokens": 100, "total_tokens": 600}
		}`)
	}))
	defer server.Close()

	ledger := &recordingLedger{}
	limiter := &stubLimiter{allow: true}
	p := newOpenAITestProvider(server.URL, Deps{Limiter: limiter, Ledger: ledger})

	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge", Caller: "site-1"})

	require.True(t, result.Success, "unexpected failure: %s", result.Error)
	assert.Equal(t, moderation.DecisionReject, result.Decision)
	assert.Equal(t, 77, result.Confidence)
	assert.Equal(t, 600, result.TokensUsed)
	// 500 in at 0.00015/1K plus 100 out at 0.0006/1K.
	assert.InDelta(t, 0.000135, result.CostUSD, 1e-9)
	assert.Equal(t, 1, limiter.recorded)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, "openai", ledger.records[0].Provider)
	assert.Equal(t, "gpt-4o-mini", ledger.records[0].Model)
}

func TestOpenAIStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected moderation.ErrorKind
	}{
		{name: "Unauthorized", status: http.StatusUnauthorized, expected: moderation.ErrAuth},
		{name: "Rate limited", status: http.StatusTooManyRequests, expected: moderation.ErrRateLimitedRemote},
		{name: "Server error", status: http.StatusInternalServerError, expected: moderation.ErrAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": {"message": "nope", "type": "invalid_request_error"}}`)
			}))
			defer server.Close()

			p := newOpenAITestProvider(server.URL, Deps{Limiter: &stubLimiter{allow: true}})
			result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})

			require.False(t, result.Success)
			assert.Equal(t, tt.expected, result.ErrorKind)
		})
	}
}

func TestOpenAIRateLimitedNeverCallsBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called when the local limiter denies the request")
	}))
	defer server.Close()

	limiter := &stubLimiter{allow: false, wait: 10 * time.Second}
	p := newOpenAITestProvider(server.URL, Deps{Limiter: limiter})

	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})

	require.False(t, result.Success)
	assert.Equal(t, moderation.ErrRateLimitedLocal, result.ErrorKind)
	assert.Zero(t, limiter.recorded)
}

func TestOpenAIMissingKey(t *testing.T) {
	p := NewOpenAIProvider("", "gpt-4o-mini", Deps{})

	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})

	require.False(t, result.Success)
	assert.Equal(t, moderation.ErrConfigurationMissing, result.ErrorKind)
}

func TestOpenAIValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		model   string
		wantErr bool
	}{
		{name: "Valid", apiKey: "sk-abc123", model: "gpt-4o-mini"},
		{name: "Missing key", apiKey: "", model: "gpt-4o-mini", wantErr: true},
		{name: "Wrong prefix", apiKey: "key-abc123", model: "gpt-4o-mini", wantErr: true},
		{name: "Missing model", apiKey: "sk-abc123", model: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewOpenAIProvider(tt.apiKey, tt.model, Deps{})
			err := p.ValidateConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
