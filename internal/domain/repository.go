package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PassageRepository queries the knowledge store. The store is read-only from
// this service's perspective; ingestion is owned by an external pipeline.
type PassageRepository interface {
	// SearchVector returns up to limit passages whose cosine similarity to
	// the query embedding is at least threshold, descending by similarity.
	SearchVector(ctx context.Context, embedding []float32, limit int, threshold float32) ([]KnowledgePassage, error)
	// SearchText returns up to limit passages by lexical full-text rank.
	SearchText(ctx context.Context, query string, limit int) ([]KnowledgePassage, error)
}

// ConversationLog is one finalized (message, response, citations) tuple kept
// for history and analytics.
type ConversationLog struct {
	ID             uuid.UUID
	ConversationID string
	UserMessage    string
	Reasoning      string
	Answer         string
	Citations      []Citation
	Model          string
	CreatedAt      time.Time
}

// ConversationRepository persists finalized turns. Failures here must never
// propagate to the user-facing response.
type ConversationRepository interface {
	Insert(ctx context.Context, log *ConversationLog) error
}
