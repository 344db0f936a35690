package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ziwei-chat/internal/domain"
)

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates the repository that persists finalized
// turns for history and analytics.
func NewConversationRepository(pool *pgxpool.Pool) domain.ConversationRepository {
	return &conversationRepository{pool: pool}
}

func (r *conversationRepository) Insert(ctx context.Context, log *domain.ConversationLog) error {
	citations, err := json.Marshal(log.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	query := `
		INSERT INTO conversation_logs
			(id, conversation_id, user_message, reasoning, answer, citations, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		log.ID, log.ConversationID, log.UserMessage, log.Reasoning,
		log.Answer, citations, log.Model, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation log: %w", err)
	}
	return nil
}
