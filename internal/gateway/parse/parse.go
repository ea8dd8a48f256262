// Package parse extracts a structured moderation decision from
// free-form model output.
package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
)

var confidencePattern = regexp.MustCompile(`(\d+)%`)

// Result holds the decision extracted from a model response.
type Result struct {
	Decision   moderation.Decision
	Confidence int
	Reasoning  string

	// ConfidenceFound reports whether an explicit NN% was present in
	// the text. When false, adapters substitute their own per-decision
	// default before returning the result.
	ConfidenceFound bool
}

// Response parses model output into a decision, a confidence
// percentage, and the reasoning (the full text).
//
// Confidence is the first integer immediately followed by '%', clamped
// to [0,100]; absent a match it defaults to 50. The decision is the
// first matching keyword in a fixed priority order, so a response
// mentioning both "spam" and "approve" is classified spam.
func Response(text string) Result {
	result := Result{
		Confidence: 50,
		Reasoning:  text,
	}

	if m := confidencePattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			if n > 100 {
				n = 100
			}
			result.Confidence = n
			result.ConfidenceFound = true
		}
	}

	result.Decision = decide(strings.ToLower(text))
	return result
}

func decide(lower string) moderation.Decision {
	switch {
	case strings.Contains(lower, "spam"):
		return moderation.DecisionSpam
	case strings.Contains(lower, "ham"), strings.Contains(lower, "legitimate"):
		return moderation.DecisionHam
	case strings.Contains(lower, "toxic"), strings.Contains(lower, "offensive"):
		return moderation.DecisionToxic
	case strings.Contains(lower, "approve"):
		return moderation.DecisionApprove
	case strings.Contains(lower, "reject"):
		return moderation.DecisionReject
	default:
		return moderation.DecisionHold
	}
}
