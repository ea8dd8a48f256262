package moderation

import (
	"fmt"
)

// Decision is the categorical outcome of a moderation check.
type Decision string

const (
	DecisionSpam    Decision = "spam"
	DecisionHam     Decision = "ham"
	DecisionToxic   Decision = "toxic"
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionHold    Decision = "hold"
)

// ErrorKind classifies why a moderation attempt failed. Failures are
// returned as part of the result, never raised.
type ErrorKind string

const (
	ErrConfigurationMissing  ErrorKind = "configuration_missing"
	ErrRateLimitedLocal      ErrorKind = "rate_limited_local"
	ErrRateLimitedRemote     ErrorKind = "rate_limited_remote"
	ErrAuth                  ErrorKind = "auth_error"
	ErrInsufficientCredits   ErrorKind = "insufficient_credits"
	ErrInvalidResponseFormat ErrorKind = "invalid_response_format"
	ErrNetwork               ErrorKind = "network_error"
	ErrAPI                   ErrorKind = "api_error"
)

// Content is the item being judged. The gateway treats it as opaque
// beyond interpolating it into the prompt.
type Content struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
	Site   string `json:"site,omitempty"`
}

// Request is a single moderation request. Immutable once constructed;
// fallback attempts retry the same request against different models.
type Request struct {
	Content Content `json:"content"`
	Prompt  string  `json:"prompt"`
	Model   string  `json:"model"`

	// Caller identifies who is asking, for rate-limit accounting.
	Caller string `json:"caller,omitempty"`
}

// Result is the outcome of one logical moderation attempt. Exactly one
// of the success fields or the error fields is populated.
type Result struct {
	Success bool `json:"success"`

	Decision       Decision `json:"decision,omitempty"`
	Confidence     int      `json:"confidence,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	TokensUsed     int      `json:"tokens_used,omitempty"`
	CostUSD        float64  `json:"cost_usd,omitempty"`
	ProcessingTime float64  `json:"processing_time_seconds,omitempty"`
	ModelUsed      string   `json:"model_used,omitempty"`
	RawResponse    string   `json:"raw_response,omitempty"`

	FallbackUsed  bool   `json:"fallback_used,omitempty"`
	FallbackModel string `json:"fallback_model,omitempty"`
	OriginalModel string `json:"original_model,omitempty"`

	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Failure builds a failed result with the given classification.
func Failure(kind ErrorKind, message string) Result {
	return Result{ErrorKind: kind, Error: message}
}

// Failuref is Failure with a formatted message.
func Failuref(kind ErrorKind, format string, args ...interface{}) Result {
	return Failure(kind, fmt.Sprintf(format, args...))
}

// BuildPrompt renders a default moderation prompt for content when the
// caller did not supply one.
func BuildPrompt(c Content) string {
	prompt := "Review the following comment and decide whether it is spam, ham, toxic, or should be approved, rejected, or held for review.\n\n"
	if c.Author != "" {
		prompt += fmt.Sprintf("Author: %s\n", c.Author)
	}
	if c.Site != "" {
		prompt += fmt.Sprintf("Site: %s\n", c.Site)
	}
	prompt += fmt.Sprintf("Comment:\n%s\n", c.Text)
	return prompt
}
