package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ziwei-chat/internal/domain"
)

type passageRepository struct {
	pool *pgxpool.Pool
}

// NewPassageRepository creates the read-only repository over the knowledge
// store. The passage table is populated by an external ingestion pipeline;
// this service only queries it.
func NewPassageRepository(pool *pgxpool.Pool) domain.PassageRepository {
	return &passageRepository{pool: pool}
}

func (r *passageRepository) SearchVector(ctx context.Context, embedding []float32, limit int, threshold float32) ([]domain.KnowledgePassage, error) {
	query := `
		SELECT id, title, chapter, section, page, ordinal, content,
		       1 - (embedding <=> $1) AS similarity
		FROM knowledge_passages
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages by vector: %w", err)
	}
	defer rows.Close()

	var passages []domain.KnowledgePassage
	for rows.Next() {
		var p domain.KnowledgePassage
		if err := rows.Scan(&p.ID, &p.Title, &p.Chapter, &p.Section, &p.Page, &p.Ordinal, &p.Content, &p.VectorScore); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return passages, nil
}

func (r *passageRepository) SearchText(ctx context.Context, query string, limit int) ([]domain.KnowledgePassage, error) {
	// The content ts_vector uses the 'simple' configuration: the corpus is
	// Chinese and pre-segmented at ingestion time.
	sql := `
		SELECT id, title, chapter, section, page, ordinal, content,
		       ts_rank(content_tsv, websearch_to_tsquery('simple', $1)) AS rank
		FROM knowledge_passages
		WHERE content_tsv @@ websearch_to_tsquery('simple', $1)
		ORDER BY rank DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, sql, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages by text: %w", err)
	}
	defer rows.Close()

	var passages []domain.KnowledgePassage
	for rows.Next() {
		var p domain.KnowledgePassage
		if err := rows.Scan(&p.ID, &p.Title, &p.Chapter, &p.Section, &p.Page, &p.Ordinal, &p.Content, &p.TextScore); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return passages, nil
}
