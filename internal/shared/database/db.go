package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/commentguard/moderation-gateway/internal/shared/models"
)

// DB is the postgres-backed usage ledger.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "database ping failed")
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Append inserts one usage record. The ledger is append-only; nothing
// in the gateway updates or deletes rows.
func (db *DB) Append(ctx context.Context, record models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, provider, model, tokens_used, cost_usd, comments_processed, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		record.ID,
		record.Provider,
		record.Model,
		record.TokensUsed,
		record.CostUSD,
		record.CommentsProcessed,
		record.OccurredAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert usage record")
	}
	return nil
}

// MonthlySummary totals usage since the start of the current calendar
// month, for budget reporting.
func (db *DB) MonthlySummary(ctx context.Context) (models.UsageSummary, error) {
	query := `
		SELECT COALESCE(SUM(tokens_used), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(comments_processed), 0)
		FROM usage_records
		WHERE occurred_at >= date_trunc('month', now())
	`

	var summary models.UsageSummary
	err := db.conn.QueryRowContext(ctx, query).Scan(
		&summary.TotalTokens,
		&summary.TotalCostUSD,
		&summary.CommentsProcessed,
	)
	if err != nil {
		return models.UsageSummary{}, errors.Wrap(err, "failed to query usage summary")
	}

	return summary, nil
}
