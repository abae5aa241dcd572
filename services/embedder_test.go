package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itish2003/cyberrag/logger"
)

// fakeEmbeddingClient returns vectors derived from text length and records
// every call it receives.
type fakeEmbeddingClient struct {
	mu    sync.Mutex
	calls [][]string
	dim   int
	err   error
	// dims overrides the vector length for specific texts.
	dims map[string]int
}

func (f *fakeEmbeddingClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		d := f.dim
		if n, ok := f.dims[t]; ok {
			d = n
		}
		v := make([]float32, d)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbeddingClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestEmbedder_EmbedReturnsProviderVector(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	e := NewEmbedder(client, EmbedderOptions{Model: "fake", MaxInputChars: 100}, logger.Discard())

	v, err := e.Embed(context.Background(), "firewall")
	require.NoError(t, err)
	assert.Equal(t, []float32{8, 0, 0, 0}, v, "vectors are not normalized")
	assert.Equal(t, 4, e.Dimension())
	assert.Equal(t, "fake", e.Model())
}

func TestEmbedder_RejectsInvalidInputWithoutCallingProvider(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 2}
	e := NewEmbedder(client, EmbedderOptions{MaxInputChars: 5}, logger.Discard())

	for _, text := range []string{"", "   \n\t", "too long text"} {
		_, err := e.Embed(context.Background(), text)
		var embErr *EmbeddingError
		require.True(t, errors.As(err, &embErr), "text %q", text)
		assert.True(t, embErr.InvalidInput())
		assert.Equal(t, -1, embErr.Index)
	}
	assert.Equal(t, 0, client.callCount())
}

func TestEmbedder_MaxInputCountsRunes(t *testing.T) {
	e := NewEmbedder(&fakeEmbeddingClient{dim: 2}, EmbedderOptions{MaxInputChars: 3}, logger.Discard())

	_, err := e.Embed(context.Background(), "äöü")
	assert.NoError(t, err)
}

func TestEmbedder_ProviderErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	e := NewEmbedder(&fakeEmbeddingClient{err: boom}, EmbedderOptions{}, logger.Discard())

	_, err := e.Embed(context.Background(), "hello")
	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.False(t, embErr.InvalidInput())
	assert.ErrorIs(t, err, boom)
}

func TestEmbedder_EmbedManyPreservesOrderAcrossBatches(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 3}
	e := NewEmbedder(client, EmbedderOptions{BatchSize: 2, Concurrency: 3}, logger.Discard())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "ggggggg"}
	vectors, err := e.EmbedMany(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, 4, client.callCount())
}

func TestEmbedder_EmbedManyReportsOffendingIndex(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 3}
	e := NewEmbedder(client, EmbedderOptions{MaxInputChars: 10}, logger.Discard())

	_, err := e.EmbedMany(context.Background(), []string{"ok", "fine", strings.Repeat("x", 11)})
	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, 2, embErr.Index)
	assert.Equal(t, 0, client.callCount())
}

func TestEmbedder_EmbedManyEmpty(t *testing.T) {
	e := NewEmbedder(&fakeEmbeddingClient{dim: 3}, EmbedderOptions{}, logger.Discard())

	vectors, err := e.EmbedMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 3, dims: map[string]int{"odd": 5}}
	e := NewEmbedder(client, EmbedderOptions{}, logger.Discard())

	_, err := e.EmbedMany(context.Background(), []string{"normal", "odd"})
	var dim *DimensionMismatchError
	require.True(t, errors.As(err, &dim))
	assert.Equal(t, 3, dim.Expected)
	assert.Equal(t, 5, dim.Actual)
}

func TestEmbedder_DeclaredDimensionIsEnforced(t *testing.T) {
	e := NewEmbedder(&fakeEmbeddingClient{dim: 3}, EmbedderOptions{Dimension: 8}, logger.Discard())
	assert.Equal(t, 8, e.Dimension())

	_, err := e.Embed(context.Background(), "hello")
	var dim *DimensionMismatchError
	assert.True(t, errors.As(err, &dim))
}

func TestEmbedder_RespectsCancelledContext(t *testing.T) {
	e := NewEmbedder(&fakeEmbeddingClient{dim: 3}, EmbedderOptions{RequestsPerSecond: 1}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashingEmbeddingClient_SharedVocabularyIsSimilar(t *testing.T) {
	h, err := NewHashingEmbeddingClient(256)
	require.NoError(t, err)

	vs, err := h.CreateEmbedding(context.Background(), []string{
		"A firewall filters network traffic.",
		"What does a firewall do to network traffic?",
		"Bake the bread at 220 degrees.",
	})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	for _, v := range vs {
		assert.Len(t, v, 256)
	}

	related := cosine(vs[0], norm(vs[0]), vs[1], norm(vs[1]))
	unrelated := cosine(vs[0], norm(vs[0]), vs[2], norm(vs[2]))
	assert.Greater(t, related, unrelated)

	again, err := h.CreateEmbedding(context.Background(), []string{"A firewall filters network traffic."})
	require.NoError(t, err)
	assert.Equal(t, vs[0], again[0])
}

func TestNewHashingEmbeddingClient_RejectsBadDimension(t *testing.T) {
	_, err := NewHashingEmbeddingClient(0)
	assert.Error(t, err)
}
