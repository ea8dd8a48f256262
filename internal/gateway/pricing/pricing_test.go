package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentguard/moderation-gateway/internal/shared/models"
)

var testTable = Table{
	UnitTokens:   1_000_000,
	DefaultModel: "mid-tier",
	Rates: map[string]Rate{
		"mid-tier": {Input: 0.25, Output: 1.25},
		"premium":  {Input: 3, Output: 15},
	},
}

func TestActualCost(t *testing.T) {
	tests := []struct {
		name         string
		model        string
		inputTokens  int
		outputTokens int
		expected     float64
	}{
		{
			name:         "Known model",
			model:        "premium",
			inputTokens:  1000,
			outputTokens: 500,
			expected:     (1000.0/1_000_000)*3 + (500.0/1_000_000)*15,
		},
		{
			name:         "Unknown model falls back to default row",
			model:        "does-not-exist",
			inputTokens:  1000,
			outputTokens: 1000,
			expected:     (1000.0/1_000_000)*0.25 + (1000.0/1_000_000)*1.25,
		},
		{
			name:     "Zero tokens",
			model:    "premium",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := testTable.ActualCost(tt.model, tt.inputTokens, tt.outputTokens)
			assert.InDelta(t, tt.expected, cost, 1e-12)
		})
	}
}

func TestActualCostUnitScale(t *testing.T) {
	perThousand := Table{
		UnitTokens:   1_000,
		DefaultModel: "m",
		Rates:        map[string]Rate{"m": {Input: 0.25, Output: 1.25}},
	}

	// The same rates at a per-1K scale cost 1000x the per-1M scale.
	perMillion := testTable.ActualCost("mid-tier", 750, 250)
	assert.InDelta(t, perMillion*1000, perThousand.ActualCost("m", 750, 250), 1e-12)
}

func TestEstimateCostSplit(t *testing.T) {
	// 1000 tokens split 750 input / 250 output at $0.25/M in, $1.25/M out.
	cost := testTable.EstimateCost("mid-tier", 1000)
	assert.InDelta(t, 0.0005, cost, 1e-12)
}

func TestEstimateCostLinear(t *testing.T) {
	base := testTable.EstimateCost("premium", 1000)
	assert.InDelta(t, 2*base, testTable.EstimateCost("premium", 2000), 1e-12)
	assert.InDelta(t, 10*base, testTable.EstimateCost("premium", 10000), 1e-12)
}

type fakeLedger struct {
	records []models.UsageRecord
}

func (f *fakeLedger) Append(_ context.Context, record models.UsageRecord) error {
	f.records = append(f.records, record)
	return nil
}

func TestAccountantRecord(t *testing.T) {
	ledger := &fakeLedger{}
	accountant := NewAccountant("anthropic", testTable, ledger)

	accountant.Record(context.Background(), "mid-tier", 1200, 0.0006)

	require.Len(t, ledger.records, 1)
	record := ledger.records[0]
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "anthropic", record.Provider)
	assert.Equal(t, "mid-tier", record.Model)
	assert.Equal(t, 1200, record.TokensUsed)
	assert.Equal(t, 0.0006, record.CostUSD)
	assert.Equal(t, 1, record.CommentsProcessed)
	assert.False(t, record.OccurredAt.IsZero())
}

func TestAccountantSkipsZeroUsage(t *testing.T) {
	ledger := &fakeLedger{}
	accountant := NewAccountant("ollama", Table{}, ledger)

	accountant.Record(context.Background(), "llama3.1", 0, 0)

	assert.Empty(t, ledger.records)
}

func TestAccountantNilLedger(t *testing.T) {
	accountant := NewAccountant("openai", testTable, nil)

	// Must not panic.
	accountant.Record(context.Background(), "mid-tier", 100, 0.01)
}
