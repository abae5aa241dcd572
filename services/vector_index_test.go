package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itish2003/cyberrag/logger"
	"github.com/itish2003/cyberrag/models"
)

func chunkN(n int) []models.Chunk {
	out := make([]models.Chunk, n)
	for i := range out {
		out[i] = models.Chunk{Text: fmt.Sprintf("chunk %d", i), Source: "doc.txt", Offset: i * 10}
	}
	return out
}

func TestMemoryIndex_QueryBeforeBuildIsNotReady(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())

	assert.False(t, idx.Ready())
	_, err := idx.Query(context.Background(), []float32{1, 0}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexNotReady))

	var notReady *IndexNotReadyError
	assert.True(t, errors.As(err, &notReady))
}

func TestMemoryIndex_ReturnsMinKSizeSortedDescending(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
		{0.5, 0.5, 0},
		{-1, 0, 0},
	}
	require.NoError(t, idx.Build(context.Background(), chunkN(5), vectors))
	assert.True(t, idx.Ready())
	assert.Equal(t, 5, idx.Size())
	assert.Equal(t, 3, idx.Dimension())

	for _, k := range []int{1, 3, 5, 10} {
		res, err := idx.Query(context.Background(), []float32{1, 0, 0}, k)
		require.NoError(t, err)
		assert.Len(t, res, min(k, 5))
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}
	}

	res, err := idx.Query(context.Background(), []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "chunk 0", res[0].Chunk.Text)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.Equal(t, "chunk 2", res[1].Chunk.Text)
}

func TestMemoryIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	vectors := [][]float32{{0, 1}, {1, 0}, {2, 0}, {3, 0}}
	require.NoError(t, idx.Build(context.Background(), chunkN(4), vectors))

	res, err := idx.Query(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"chunk 1", "chunk 2", "chunk 3"},
		[]string{res[0].Chunk.Text, res[1].Chunk.Text, res[2].Chunk.Text})
}

func TestMemoryIndex_Deterministic(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	vectors := [][]float32{{0.3, 0.7}, {0.7, 0.3}, {0.5, 0.5}, {0.1, 0.9}}
	require.NoError(t, idx.Build(context.Background(), chunkN(4), vectors))

	first, err := idx.Query(context.Background(), []float32{0.6, 0.4}, 4)
	require.NoError(t, err)
	for range 5 {
		again, err := idx.Query(context.Background(), []float32{0.6, 0.4}, 4)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMemoryIndex_NonPositiveKIsEmpty(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	require.NoError(t, idx.Build(context.Background(), chunkN(2), [][]float32{{1, 0}, {0, 1}}))

	for _, k := range []int{0, -1} {
		res, err := idx.Query(context.Background(), []float32{1, 0}, k)
		require.NoError(t, err)
		assert.Empty(t, res)
	}
}

func TestMemoryIndex_EmptyBuildIsReady(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	require.NoError(t, idx.Build(context.Background(), nil, nil))

	assert.True(t, idx.Ready())
	res, err := idx.Query(context.Background(), []float32{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestMemoryIndex_ZeroNormScoresZero(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	require.NoError(t, idx.Build(context.Background(), chunkN(2), [][]float32{{0, 0}, {1, 1}}))

	res, err := idx.Query(context.Background(), []float32{1, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, "chunk 1", res[0].Chunk.Text)
	assert.Equal(t, 0.0, res[1].Score)

	res, err = idx.Query(context.Background(), []float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res[0].Score)
	assert.Equal(t, "chunk 0", res[0].Chunk.Text)
}

func TestMemoryIndex_BuildRejectsBadInput(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())

	err := idx.Build(context.Background(), chunkN(2), [][]float32{{1, 0}})
	assert.Error(t, err)

	err = idx.Build(context.Background(), chunkN(2), [][]float32{{1, 0}, {1, 0, 0}})
	var dim *DimensionMismatchError
	require.True(t, errors.As(err, &dim))
	assert.Equal(t, 2, dim.Expected)
	assert.Equal(t, 3, dim.Actual)

	assert.False(t, idx.Ready(), "failed builds must not publish")
}

func TestMemoryIndex_FailedRebuildKeepsPreviousState(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	require.NoError(t, idx.Build(context.Background(), chunkN(1), [][]float32{{1, 0}}))

	require.Error(t, idx.Build(context.Background(), chunkN(2), [][]float32{{1, 0}}))
	assert.Equal(t, 1, idx.Size())
}

func TestMemoryIndex_QueryDimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	require.NoError(t, idx.Build(context.Background(), chunkN(1), [][]float32{{1, 0}}))

	_, err := idx.Query(context.Background(), []float32{1, 0, 0}, 1)
	var dim *DimensionMismatchError
	assert.True(t, errors.As(err, &dim))
}

func TestMemoryIndex_ConcurrentBuildFailsFast(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	idx.building.Lock()
	defer idx.building.Unlock()

	err := idx.Build(context.Background(), chunkN(1), [][]float32{{1}})
	assert.ErrorIs(t, err, ErrBuildInProgress)
}

func TestMemoryIndex_StoredVectorsAreCopied(t *testing.T) {
	idx := NewMemoryIndex(logger.Discard())
	v := [][]float32{{1, 0}, {0, 1}}
	require.NoError(t, idx.Build(context.Background(), chunkN(2), v))

	v[0][0], v[0][1] = 0, 1
	res, err := idx.Query(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "chunk 0", res[0].Chunk.Text)
}
