package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
)

// maxErrorBodyLen bounds how much backend error text is carried into
// a result message.
const maxErrorBodyLen = 300

// httpResult is a fully-read HTTP response.
type httpResult struct {
	Status int
	Header http.Header
	Body   []byte
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (httpResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return httpResult{}, errors.Wrap(err, "error marshaling request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return httpResult{}, errors.Wrap(err, "error creating request")
	}
	return doJSON(client, req, headers)
}

func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) (httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return httpResult{}, errors.Wrap(err, "error creating request")
	}
	return doJSON(client, req, headers)
}

func doJSON(client *http.Client, req *http.Request, headers map[string]string) (httpResult, error) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return httpResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResult{}, errors.Wrap(err, "error reading response body")
	}

	return httpResult{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// classifyStatus maps a non-2xx backend response to a failure result.
// 402 maps to insufficient_credits only for backends that bill through
// the gateway key (the aggregator); everywhere else it falls through
// to a generic API error.
func classifyStatus(displayName string, res httpResult, creditAware bool) moderation.Result {
	switch res.Status {
	case http.StatusUnauthorized:
		return moderation.Failuref(moderation.ErrAuth,
			"%s rejected the configured API key (status 401)", displayName)
	case http.StatusTooManyRequests:
		return moderation.Failuref(moderation.ErrRateLimitedRemote,
			"%s rate limit exceeded (status 429); slow down or raise your plan limits", displayName)
	case http.StatusPaymentRequired:
		if creditAware {
			return moderation.Failuref(moderation.ErrInsufficientCredits,
				"%s account has insufficient credits (status 402)", displayName)
		}
	}
	return moderation.Failuref(moderation.ErrAPI,
		"%s returned status %d: %s", displayName, res.Status, truncateBody(res.Body))
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyLen {
		return string(body[:maxErrorBodyLen]) + "..."
	}
	return string(body)
}
