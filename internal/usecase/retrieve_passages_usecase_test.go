package usecase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"ziwei-chat/internal/domain"
	"ziwei-chat/internal/usecase"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPassageRepository struct {
	mock.Mock
}

func (m *mockPassageRepository) SearchVector(ctx context.Context, embedding []float32, limit int, threshold float32) ([]domain.KnowledgePassage, error) {
	args := m.Called(ctx, embedding, limit, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.KnowledgePassage), args.Error(1)
}

func (m *mockPassageRepository) SearchText(ctx context.Context, query string, limit int) ([]domain.KnowledgePassage, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.KnowledgePassage), args.Error(1)
}

type mockVectorEncoder struct {
	mock.Mock
}

func (m *mockVectorEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *mockVectorEncoder) Version() string {
	return "mock-encoder"
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func passage(title string, vector, text float32) domain.KnowledgePassage {
	return domain.KnowledgePassage{
		ID:          uuid.New(),
		Title:       title,
		Content:     "content of " + title,
		VectorScore: vector,
		TextScore:   text,
	}
}

func TestRetrieve_HybridMergesBothSources(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 0.7, 5, 0.1, discardLogger())

	shared := passage("shared", 0.9, 0)
	vectorOnly := passage("vector-only", 0.8, 0)
	textOnly := passage("text-only", 0, 4.0)
	sharedText := shared
	sharedText.VectorScore = 0
	sharedText.TextScore = 2.0

	encoder.On("Encode", mock.Anything, []string{"紫微星"}).Return([][]float32{{0.1, 0.2}}, nil)
	repo.On("SearchVector", mock.Anything, []float32{0.1, 0.2}, 5, float32(0.1)).
		Return([]domain.KnowledgePassage{shared, vectorOnly}, nil)
	repo.On("SearchText", mock.Anything, "紫微星", 5).
		Return([]domain.KnowledgePassage{textOnly, sharedText}, nil)

	result, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Text: "紫微星",
		Mode: domain.SearchModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, result, 3)

	byTitle := map[string]domain.KnowledgePassage{}
	for _, p := range result {
		byTitle[p.Title] = p
	}
	// Text ranks normalize against the best rank (4.0), so the shared
	// passage carries 2.0/4.0 = 0.5 on the lexical side.
	assert.InDelta(t, 0.7*0.9+0.3*0.5, byTitle["shared"].CombinedScore, 1e-6)
	assert.InDelta(t, 0.7*0.8, byTitle["vector-only"].CombinedScore, 1e-6)
	assert.InDelta(t, 0.3*1.0, byTitle["text-only"].CombinedScore, 1e-6)

	// Descending by combined score.
	assert.Equal(t, "shared", result[0].Title)
	assert.Equal(t, "vector-only", result[1].Title)
	assert.Equal(t, "text-only", result[2].Title)
}

func TestRetrieve_HybridHonorsCountAndThreshold(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 1.0, 5, 0.1, discardLogger())

	hits := []domain.KnowledgePassage{
		passage("a", 0.95, 0),
		passage("b", 0.90, 0),
		passage("c", 0.60, 0),
		passage("d", 0.30, 0), // below threshold once combined
	}
	encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{0.5}}, nil)
	repo.On("SearchVector", mock.Anything, mock.Anything, 2, float32(0.5)).Return(hits, nil)
	repo.On("SearchText", mock.Anything, mock.Anything, 2).Return([]domain.KnowledgePassage{}, nil)

	result, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Text:      "查询",
		Count:     2,
		Threshold: 0.5,
		Mode:      domain.SearchModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "a", result[0].Title)
	assert.Equal(t, "b", result[1].Title)
}

func TestRetrieve_HybridTieBreaksByDocumentOrder(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 1.0, 5, 0.1, discardLogger())

	later := passage("later", 0.8, 0)
	later.Chapter = "第二章"
	later.Page = 40
	earlier := passage("earlier", 0.8, 0)
	earlier.Chapter = "第一章"
	earlier.Page = 3

	encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{0.5}}, nil)
	repo.On("SearchVector", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.KnowledgePassage{later, earlier}, nil)
	repo.On("SearchText", mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.KnowledgePassage{}, nil)

	result, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Text: "查询",
		Mode: domain.SearchModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "earlier", result[0].Title)
}

func TestRetrieve_HybridDegradesToTextWhenEmbedderDown(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 0.7, 5, 0.1, discardLogger())

	encoder.On("Encode", mock.Anything, mock.Anything).Return(nil, errors.New("embedder down"))
	repo.On("SearchText", mock.Anything, "查询", 5).
		Return([]domain.KnowledgePassage{passage("lexical", 0, 3.0)}, nil)

	result, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Text: "查询",
		Mode: domain.SearchModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "lexical", result[0].Title)
	assert.InDelta(t, 1.0, result[0].CombinedScore, 1e-6)
	repo.AssertNotCalled(t, "SearchVector", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRetrieve_VectorModeDegradesToEmptyWhenEmbedderDown(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 0.7, 5, 0.1, discardLogger())

	encoder.On("Encode", mock.Anything, mock.Anything).Return(nil, errors.New("embedder down"))

	result, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Text: "查询",
		Mode: domain.SearchModeVector,
	})
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRetrieve_VectorModeUsesPrecomputedEmbedding(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 0.7, 5, 0.1, discardLogger())

	repo.On("SearchVector", mock.Anything, []float32{0.9, 0.1}, 5, float32(0.1)).
		Return([]domain.KnowledgePassage{passage("hit", 0.88, 0)}, nil)

	result, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Embedding: []float32{0.9, 0.1},
		Mode:      domain.SearchModeVector,
	})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.InDelta(t, 0.88, result[0].CombinedScore, 1e-6)
	encoder.AssertNotCalled(t, "Encode", mock.Anything, mock.Anything)
}

func TestRetrieve_TextModeNormalizesRanks(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 0.7, 5, 0.1, discardLogger())

	repo.On("SearchText", mock.Anything, "查询", 5).Return([]domain.KnowledgePassage{
		passage("best", 0, 6.0),
		passage("half", 0, 3.0),
	}, nil)

	result, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Text: "查询",
		Mode: domain.SearchModeText,
	})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.InDelta(t, 1.0, result[0].CombinedScore, 1e-6)
	assert.InDelta(t, 0.5, result[1].CombinedScore, 1e-6)
}

func TestRetrieve_RepositoryErrorPropagates(t *testing.T) {
	repo := new(mockPassageRepository)
	encoder := new(mockVectorEncoder)
	uc := usecase.NewRetrievePassagesUsecase(repo, encoder, 0.7, 5, 0.1, discardLogger())

	encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{0.5}}, nil)
	repo.On("SearchVector", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))
	repo.On("SearchText", mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.KnowledgePassage{}, nil)

	_, err := uc.Execute(context.Background(), domain.RetrievalQuery{
		Text: "查询",
		Mode: domain.SearchModeHybrid,
	})
	assert.Error(t, err)
}

func TestRetrieve_EmptyQueryRejected(t *testing.T) {
	uc := usecase.NewRetrievePassagesUsecase(new(mockPassageRepository), new(mockVectorEncoder), 0.7, 5, 0.1, discardLogger())

	_, err := uc.Execute(context.Background(), domain.RetrievalQuery{Text: "  "})
	assert.Error(t, err)
}

func TestRetrieve_UnknownModeRejected(t *testing.T) {
	uc := usecase.NewRetrievePassagesUsecase(new(mockPassageRepository), new(mockVectorEncoder), 0.7, 5, 0.1, discardLogger())

	_, err := uc.Execute(context.Background(), domain.RetrievalQuery{Text: "查询", Mode: "fuzzy"})
	assert.Error(t, err)
}
