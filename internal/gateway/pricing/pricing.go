// Package pricing converts token counts into USD cost and records
// usage against the persistent ledger.
package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/commentguard/moderation-gateway/internal/shared/models"
)

// Rate is the cost in USD per Table.UnitTokens tokens, per direction.
type Rate struct {
	Input  float64
	Output float64
}

// Table is one backend's immutable pricing configuration. UnitTokens
// is the token count a Rate is quoted against (1e3 or 1e6 depending on
// how the backend publishes prices) and belongs to the table, not to
// any global constant.
type Table struct {
	UnitTokens float64

	// DefaultModel's row is used when a model has no entry, instead
	// of erroring on unknown models.
	DefaultModel string

	Rates map[string]Rate
}

func (t Table) rate(model string) Rate {
	if r, ok := t.Rates[model]; ok {
		return r
	}
	return t.Rates[t.DefaultModel]
}

// ActualCost computes the cost of a call from measured token counts.
func (t Table) ActualCost(model string, inputTokens, outputTokens int) float64 {
	if t.UnitTokens <= 0 {
		return 0
	}
	r := t.rate(model)
	return float64(inputTokens)/t.UnitTokens*r.Input + float64(outputTokens)/t.UnitTokens*r.Output
}

// EstimateCost projects the cost of a call from a total token count,
// assuming a 75% input / 25% output split.
func (t Table) EstimateCost(model string, tokens int) float64 {
	inputTokens := int(0.75 * float64(tokens))
	outputTokens := int(0.25 * float64(tokens))
	return t.ActualCost(model, inputTokens, outputTokens)
}

// Ledger is the persistent usage store the gateway appends to. The
// gateway never reads back or mutates what it wrote.
type Ledger interface {
	Append(ctx context.Context, record models.UsageRecord) error
}

// Accountant computes costs for one provider and records usage.
type Accountant struct {
	provider string
	table    Table
	ledger   Ledger
}

// NewAccountant constructs an Accountant. A nil ledger disables
// recording, which zero-cost backends use.
func NewAccountant(provider string, table Table, ledger Ledger) *Accountant {
	return &Accountant{provider: provider, table: table, ledger: ledger}
}

// ActualCost computes the cost of a call from measured token counts.
func (a *Accountant) ActualCost(model string, inputTokens, outputTokens int) float64 {
	return a.table.ActualCost(model, inputTokens, outputTokens)
}

// EstimateCost projects cost for planning, against the table's default
// model when the model is unknown.
func (a *Accountant) EstimateCost(model string, tokens int) float64 {
	return a.table.EstimateCost(model, tokens)
}

// Record appends a UsageRecord for one processed comment. Calls with
// neither tokens nor cost are not recorded. Ledger failures are logged
// and do not fail the moderation call.
func (a *Accountant) Record(ctx context.Context, model string, tokens int, cost float64) {
	if a.ledger == nil {
		return
	}
	if tokens == 0 && cost == 0 {
		return
	}

	record := models.UsageRecord{
		ID:                uuid.NewString(),
		Provider:          a.provider,
		Model:             model,
		TokensUsed:        tokens,
		CostUSD:           cost,
		CommentsProcessed: 1,
		OccurredAt:        time.Now().UTC(),
	}
	if err := a.ledger.Append(ctx, record); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": a.provider,
			"model":    model,
		}).Warn("failed to append usage record")
	}
}
