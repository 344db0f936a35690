package embedding_test

import (
	"context"
	"errors"
	"testing"

	"ziwei-chat/internal/adapter/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *mockEncoder) Version() string {
	return "mock-v1"
}

func TestCachedEncoder_SecondLookupHitsCache(t *testing.T) {
	inner := new(mockEncoder)
	cached, err := embedding.NewCachedEncoder(inner, 8)
	require.NoError(t, err)

	inner.On("Encode", mock.Anything, []string{"紫微星"}).Return([][]float32{{0.1, 0.2}}, nil).Once()

	first, err := cached.Encode(context.Background(), []string{"紫微星"})
	require.NoError(t, err)
	second, err := cached.Encode(context.Background(), []string{"紫微星"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	inner.AssertNumberOfCalls(t, "Encode", 1)
}

func TestCachedEncoder_OnlyMissesGoUpstream(t *testing.T) {
	inner := new(mockEncoder)
	cached, err := embedding.NewCachedEncoder(inner, 8)
	require.NoError(t, err)

	inner.On("Encode", mock.Anything, []string{"a"}).Return([][]float32{{1}}, nil).Once()
	inner.On("Encode", mock.Anything, []string{"b"}).Return([][]float32{{2}}, nil).Once()

	_, err = cached.Encode(context.Background(), []string{"a"})
	require.NoError(t, err)

	// Mixed batch: "a" is cached, only "b" reaches the inner encoder, and
	// the result preserves input order.
	out, err := cached.Encode(context.Background(), []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {1}}, out)
	inner.AssertExpectations(t)
}

func TestCachedEncoder_UpstreamErrorPropagates(t *testing.T) {
	inner := new(mockEncoder)
	cached, err := embedding.NewCachedEncoder(inner, 8)
	require.NoError(t, err)

	inner.On("Encode", mock.Anything, mock.Anything).Return(nil, errors.New("embedder down"))

	_, err = cached.Encode(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestCachedEncoder_CountMismatchRejected(t *testing.T) {
	inner := new(mockEncoder)
	cached, err := embedding.NewCachedEncoder(inner, 8)
	require.NoError(t, err)

	inner.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{1}, {2}}, nil)

	_, err = cached.Encode(context.Background(), []string{"only-one"})
	assert.Error(t, err)
}

func TestCachedEncoder_InvalidSizeRejected(t *testing.T) {
	_, err := embedding.NewCachedEncoder(new(mockEncoder), 0)
	assert.Error(t, err)
}

func TestCachedEncoder_VersionDelegates(t *testing.T) {
	cached, err := embedding.NewCachedEncoder(new(mockEncoder), 8)
	require.NoError(t, err)
	assert.Equal(t, "mock-v1", cached.Version())
}
