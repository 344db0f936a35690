package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"ziwei-chat/internal/domain"
)

// RetrievePassagesUsecase turns a free-text query into a ranked set of
// knowledge passages. Retrieval is an optimization, not a hard dependency:
// when the embedding service is down, vector search degrades instead of
// failing the request.
type RetrievePassagesUsecase interface {
	Execute(ctx context.Context, query domain.RetrievalQuery) ([]domain.KnowledgePassage, error)
}

type retrievePassagesUsecase struct {
	repo    domain.PassageRepository
	encoder domain.VectorEncoder
	// alpha weighs vector similarity against normalized lexical rank in
	// hybrid mode: combined = alpha*vector + (1-alpha)*text.
	alpha            float64
	defaultCount     int
	defaultThreshold float32
	logger           *slog.Logger
}

// NewRetrievePassagesUsecase wires the retriever over the passage store and
// the embedding client.
func NewRetrievePassagesUsecase(
	repo domain.PassageRepository,
	encoder domain.VectorEncoder,
	alpha float64,
	defaultCount int,
	defaultThreshold float32,
	logger *slog.Logger,
) RetrievePassagesUsecase {
	if alpha < 0 || alpha > 1 {
		alpha = 0.7
	}
	return &retrievePassagesUsecase{
		repo:             repo,
		encoder:          encoder,
		alpha:            alpha,
		defaultCount:     defaultCount,
		defaultThreshold: defaultThreshold,
		logger:           logger,
	}
}

func (u *retrievePassagesUsecase) Execute(ctx context.Context, query domain.RetrievalQuery) ([]domain.KnowledgePassage, error) {
	if strings.TrimSpace(query.Text) == "" && len(query.Embedding) == 0 {
		return nil, fmt.Errorf("retrieval query is empty")
	}
	if query.Count <= 0 {
		query.Count = u.defaultCount
	}
	if query.Threshold <= 0 {
		query.Threshold = u.defaultThreshold
	}

	switch query.Mode {
	case domain.SearchModeVector:
		return u.vectorSearch(ctx, query)
	case domain.SearchModeText:
		return u.textSearch(ctx, query)
	case domain.SearchModeHybrid, "":
		return u.hybridSearch(ctx, query)
	default:
		return nil, fmt.Errorf("unknown search mode %q", query.Mode)
	}
}

func (u *retrievePassagesUsecase) vectorSearch(ctx context.Context, query domain.RetrievalQuery) ([]domain.KnowledgePassage, error) {
	embedding, err := u.queryEmbedding(ctx, query)
	if err != nil {
		u.logger.Warn("embedding unavailable, vector search degraded to empty result",
			slog.String("error", err.Error()))
		return nil, nil
	}

	passages, err := u.repo.SearchVector(ctx, embedding, query.Count, query.Threshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	for i := range passages {
		passages[i].CombinedScore = passages[i].VectorScore
	}
	return passages, nil
}

func (u *retrievePassagesUsecase) textSearch(ctx context.Context, query domain.RetrievalQuery) ([]domain.KnowledgePassage, error) {
	passages, err := u.repo.SearchText(ctx, query.Text, query.Count)
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}
	normalizeTextScores(passages)
	for i := range passages {
		passages[i].CombinedScore = passages[i].TextScore
	}
	return passages, nil
}

// hybridSearch issues the vector and lexical queries concurrently (they are
// independent reads) and merges them with a convex combination of the two
// normalized scores.
func (u *retrievePassagesUsecase) hybridSearch(ctx context.Context, query domain.RetrievalQuery) ([]domain.KnowledgePassage, error) {
	embedding, embErr := u.queryEmbedding(ctx, query)
	if embErr != nil {
		u.logger.Warn("embedding unavailable, hybrid search degraded to text-only",
			slog.String("error", embErr.Error()))
		return u.textSearch(ctx, query)
	}

	var vectorHits, textHits []domain.KnowledgePassage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := u.repo.SearchVector(gctx, embedding, query.Count, query.Threshold)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := u.repo.SearchText(gctx, query.Text, query.Count)
		if err != nil {
			return fmt.Errorf("text search failed: %w", err)
		}
		textHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := u.fuse(vectorHits, textHits)

	filtered := merged[:0]
	for _, p := range merged {
		if p.CombinedScore >= query.Threshold {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) > query.Count {
		filtered = filtered[:query.Count]
	}
	return filtered, nil
}

// fuse merges the two hit lists by passage id. Ties on combined score break
// by document order (chapter, page, ordinal ascending) so identical scores
// produce deterministic results.
func (u *retrievePassagesUsecase) fuse(vectorHits, textHits []domain.KnowledgePassage) []domain.KnowledgePassage {
	normalizeTextScores(textHits)

	byID := make(map[string]*domain.KnowledgePassage, len(vectorHits)+len(textHits))
	ordered := make([]*domain.KnowledgePassage, 0, len(vectorHits)+len(textHits))

	for i := range vectorHits {
		p := vectorHits[i]
		cp := p
		byID[p.ID.String()] = &cp
		ordered = append(ordered, &cp)
	}
	for i := range textHits {
		p := textHits[i]
		if existing, ok := byID[p.ID.String()]; ok {
			existing.TextScore = p.TextScore
			continue
		}
		cp := p
		byID[p.ID.String()] = &cp
		ordered = append(ordered, &cp)
	}

	alpha := float32(u.alpha)
	merged := make([]domain.KnowledgePassage, 0, len(ordered))
	for _, p := range ordered {
		p.CombinedScore = alpha*p.VectorScore + (1-alpha)*p.TextScore
		merged = append(merged, *p)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CombinedScore != merged[j].CombinedScore {
			return merged[i].CombinedScore > merged[j].CombinedScore
		}
		if merged[i].Chapter != merged[j].Chapter {
			return merged[i].Chapter < merged[j].Chapter
		}
		if merged[i].Page != merged[j].Page {
			return merged[i].Page < merged[j].Page
		}
		return merged[i].Ordinal < merged[j].Ordinal
	})
	return merged
}

func (u *retrievePassagesUsecase) queryEmbedding(ctx context.Context, query domain.RetrievalQuery) ([]float32, error) {
	if len(query.Embedding) > 0 {
		return query.Embedding, nil
	}
	embeddings, err := u.encoder.Encode(ctx, []string{query.Text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d embeddings for one input", len(embeddings))
	}
	return embeddings[0], nil
}

// normalizeTextScores maps raw ts_rank values onto [0,1] by dividing by the
// best rank in the set. Lexical ranks are only comparable within one query.
func normalizeTextScores(passages []domain.KnowledgePassage) {
	var max float32
	for _, p := range passages {
		if p.TextScore > max {
			max = p.TextScore
		}
	}
	if max <= 0 {
		return
	}
	for i := range passages {
		passages[i].TextScore /= max
	}
}
