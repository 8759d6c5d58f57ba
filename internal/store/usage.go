package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

func (s *Postgres) RecordLLMUsage(ctx context.Context, operation, model string, inputTokens, outputTokens int64, costUSD float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO llm_usage (id, operation, model, input_tokens, output_tokens, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), operation, model, inputTokens, outputTokens, costUSD)
	if err != nil {
		return eris.Wrap(err, "store: record llm usage")
	}
	return nil
}

func (s *Postgres) SumLLMCost(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(cost_usd), 0) FROM llm_usage WHERE created_at >= $1`, since).Scan(&total)
	if err != nil {
		return 0, eris.Wrap(err, "store: sum llm cost")
	}
	return total, nil
}
