package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
)

func newOpenRouterTestProvider(serverURL string, deps Deps) *OpenRouterProvider {
	p := NewOpenRouterProvider("sk-or-test", "openai/gpt-4o-mini", "https://commentguard.example", "CommentGuard", deps)
	p.baseURL = serverURL
	return p
}

func openRouterCompletion(text string, totalTokens int) []byte {
	return []byte(fmt.Sprintf(
		`{"choices": [{"message": {"role": "assistant", "content": %q}}], "usage": {"total_tokens": %d}}`,
		text, totalTokens))
}

func TestOpenRouterProcessCommentSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-or-test", r.Header.Get("Authorization"))
		assert.Equal(t, "https://commentguard.example", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "CommentGuard", r.Header.Get("X-Title"))

		var req chatCompletionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, systemInstruction, req.Messages[0].Content)

		w.Write(openRouterCompletion("approve. Confidence: 88%. Constructive feedback.", 400))
	}))
	defer server.Close()

	ledger := &recordingLedger{}
	p := newOpenRouterTestProvider(server.URL, Deps{Limiter: &stubLimiter{allow: true}, Ledger: ledger})

	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge", Caller: "site-1"})

	require.True(t, result.Success, "unexpected failure: %s", result.Error)
	assert.Equal(t, moderation.DecisionApprove, result.Decision)
	assert.Equal(t, 88, result.Confidence)
	assert.Equal(t, 400, result.TokensUsed)
	// 300 in at 0.15/1M plus 100 out at 0.6/1M, from the 75/25 split.
	assert.InDelta(t, 0.000105, result.CostUSD, 1e-9)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, "openrouter", ledger.records[0].Provider)
}

func TestOpenRouterPrefersReportedCost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(openRouterCostHeader, "0.00042")
		w.Write(openRouterCompletion("ham, looks fine", 400))
	}))
	defer server.Close()

	p := newOpenRouterTestProvider(server.URL, Deps{Limiter: &stubLimiter{allow: true}})
	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})

	require.True(t, result.Success)
	assert.InDelta(t, 0.00042, result.CostUSD, 1e-9)
	assert.Equal(t, openRouterDefaultConfidence[moderation.DecisionHam], result.Confidence)
}

func TestOpenRouterMalformedCostHeaderFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(openRouterCostHeader, "not-a-number")
		w.Write(openRouterCompletion("ham", 400))
	}))
	defer server.Close()

	p := newOpenRouterTestProvider(server.URL, Deps{Limiter: &stubLimiter{allow: true}})
	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})

	require.True(t, result.Success)
	assert.InDelta(t, 0.000105, result.CostUSD, 1e-9)
}

func TestOpenRouterOutOfCredits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "Insufficient credits"}}`, http.StatusPaymentRequired)
	}))
	defer server.Close()

	p := newOpenRouterTestProvider(server.URL, Deps{Limiter: &stubLimiter{allow: true}})
	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})

	require.False(t, result.Success)
	assert.Equal(t, moderation.ErrInsufficientCredits, result.ErrorKind)
}

func TestOpenRouterStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected moderation.ErrorKind
	}{
		{name: "Unauthorized", status: http.StatusUnauthorized, expected: moderation.ErrAuth},
		{name: "Rate limited", status: http.StatusTooManyRequests, expected: moderation.ErrRateLimitedRemote},
		{name: "Upstream error", status: http.StatusBadGateway, expected: moderation.ErrAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			p := newOpenRouterTestProvider(server.URL, Deps{Limiter: &stubLimiter{allow: true}})
			result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})

			require.False(t, result.Success)
			assert.Equal(t, tt.expected, result.ErrorKind)
		})
	}
}

func TestOpenRouterValidateConfig(t *testing.T) {
	p := NewOpenRouterProvider("sk-wrong", "openai/gpt-4o-mini", "", "", Deps{})
	assert.Error(t, p.ValidateConfig())

	p = NewOpenRouterProvider("sk-or-abc", "openai/gpt-4o-mini", "", "", Deps{})
	assert.NoError(t, p.ValidateConfig())
}

func TestOpenRouterOptionalHeadersOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasReferer := r.Header["Http-Referer"]
		assert.False(t, hasReferer)
		_, hasTitle := r.Header["X-Title"]
		assert.False(t, hasTitle)
		w.Write(openRouterCompletion("ham", 10))
	}))
	defer server.Close()

	p := NewOpenRouterProvider("sk-or-test", "openai/gpt-4o-mini", "", "", Deps{Limiter: &stubLimiter{allow: true}})
	p.baseURL = server.URL

	result := p.ProcessComment(context.Background(), moderation.Request{Prompt: "judge"})
	require.True(t, result.Success)
}
