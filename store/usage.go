package store

import (
	"context"
	"fmt"
	"time"
)

// AppendUsage appends one row to the usage ledger. The ledger is
// append-only: callers never update or delete a row once written.
func (s *Store) AppendUsage(ctx context.Context, u *UsageRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (provider, model, operation, tokens_input, tokens_output, cost_usd, latency_ms, success, error_message, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.Provider, u.Model, u.Operation, u.TokensInput, u.TokensOutput, u.CostUSD, u.LatencyMS, boolToInt(u.Success), u.ErrorMessage, u.MetadataJSON)
	if err != nil {
		return fmt.Errorf("appending usage row: %w", err)
	}
	return nil
}

// UsageSummary aggregates usage_log over a period.
type UsageSummary struct {
	Provider     string
	Model        string
	Operation    string
	Calls        int
	TokensInput  int
	TokensOutput int
	CostUSD      float64
	Failures     int
}

// SummarizeUsage aggregates usage between from and to, grouped by
// provider/model/operation.
func (s *Store) SummarizeUsage(ctx context.Context, from, to time.Time) ([]UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, model, operation,
			COUNT(*), SUM(tokens_input), SUM(tokens_output), SUM(cost_usd),
			SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END)
		FROM usage_log
		WHERE ts >= ? AND ts < ?
		GROUP BY provider, model, operation
		ORDER BY provider, model, operation
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarizing usage: %w", err)
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.Provider, &u.Model, &u.Operation, &u.Calls, &u.TokensInput, &u.TokensOutput, &u.CostUSD, &u.Failures); err != nil {
			return nil, fmt.Errorf("scanning usage summary: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
