// Package ratelimit implements fixed-window request throttling keyed
// by (action, caller). A burst at window start followed by a reset is
// acceptable; the window simply expires and a new one begins.
package ratelimit

import (
	"context"
	"time"
)

// Rule configures one fixed window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter gates outbound provider calls. CanMakeRequest never mutates
// state; RecordRequest is invoked after a provider call returns,
// success or failure, so a failed call still consumes a slot.
type Limiter interface {
	CanMakeRequest(ctx context.Context, action, caller string) bool
	RecordRequest(ctx context.Context, action, caller string)

	// WaitTime returns the time remaining until the current window
	// expires. Used for messaging only, not for scheduling.
	WaitTime(ctx context.Context, action, caller string) time.Duration
}

func key(action, caller string) string {
	if caller == "" {
		caller = "default"
	}
	return action + ":" + caller
}
