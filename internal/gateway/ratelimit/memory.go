package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	windowStart time.Time
	count       int
}

// Memory is an in-process fixed-window limiter. State for a key is
// created on first record and reset once its window elapses.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	rules      map[string]Rule
	fallback   Rule
	privileged map[string]bool
	now        func() time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs a Memory limiter with a fallback rule applied
// to actions without a specific rule.
func NewMemory(fallback Rule) *Memory {
	return &Memory{
		entries:    make(map[string]*memoryEntry),
		rules:      make(map[string]Rule),
		fallback:   fallback,
		privileged: make(map[string]bool),
		now:        time.Now,
	}
}

// SetRule overrides the window configuration for one action.
func (m *Memory) SetRule(action string, rule Rule) {
	m.mu.Lock()
	m.rules[action] = rule
	m.mu.Unlock()
}

// Privilege exempts callers from the limiter entirely.
func (m *Memory) Privilege(callers ...string) {
	m.mu.Lock()
	for _, c := range callers {
		m.privileged[c] = true
	}
	m.mu.Unlock()
}

// SetClock replaces the time source, for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) rule(action string) Rule {
	if r, ok := m.rules[action]; ok {
		return r
	}
	return m.fallback
}

// CanMakeRequest reports whether the count for the current window is
// below the limit. It does not mutate state.
func (m *Memory) CanMakeRequest(_ context.Context, action, caller string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.privileged[caller] {
		return true
	}
	rule := m.rule(action)
	if rule.Limit <= 0 {
		return true
	}

	entry, ok := m.entries[key(action, caller)]
	if !ok {
		return true
	}
	if m.now().Sub(entry.windowStart) >= rule.Window {
		return true
	}
	return entry.count < rule.Limit
}

// RecordRequest increments the current window's count, starting a new
// window if none exists or the previous one expired.
func (m *Memory) RecordRequest(_ context.Context, action, caller string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.privileged[caller] {
		return
	}
	rule := m.rule(action)
	if rule.Limit <= 0 {
		return
	}

	now := m.now()
	k := key(action, caller)
	entry := m.entries[k]
	if entry == nil || now.Sub(entry.windowStart) >= rule.Window {
		m.entries[k] = &memoryEntry{windowStart: now, count: 1}
		return
	}
	entry.count++
}

// WaitTime returns how long until the current window for the key
// expires, or zero when no window is active.
func (m *Memory) WaitTime(_ context.Context, action, caller string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key(action, caller)]
	if !ok {
		return 0
	}
	remaining := m.rule(action).Window - m.now().Sub(entry.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}
