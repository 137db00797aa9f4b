package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Conversations records conversation ids the gateway has created in the AI
// backend, including which stale id a recovered conversation replaced.
type Conversations struct {
	pool *pgxpool.Pool
}

func NewConversations(pool *pgxpool.Pool) *Conversations {
	return &Conversations{pool: pool}
}

// Create records a conversation id. recoveredFrom is empty for fresh
// conversations and carries the stale id on the recovery path.
func (r *Conversations) Create(ctx context.Context, id, recoveredFrom string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (id, recovered_from)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO NOTHING`,
		id, recoveredFrom,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}
