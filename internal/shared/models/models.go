package models

import "time"

// UsageRecord is one append-only ledger entry for a successful
// moderation call. Records are never mutated or deleted.
type UsageRecord struct {
	ID                string
	Provider          string
	Model             string
	TokensUsed        int
	CostUSD           float64
	CommentsProcessed int
	OccurredAt        time.Time
}

// UsageSummary aggregates ledger entries over a reporting period.
type UsageSummary struct {
	TotalTokens       int     `json:"total_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	CommentsProcessed int     `json:"comments_processed"`
}
