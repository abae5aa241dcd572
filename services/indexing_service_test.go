package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itish2003/cyberrag/logger"
	"github.com/itish2003/cyberrag/models"
)

func newTestIndexer(t *testing.T, dir string, client EmbeddingClient) (*IndexingService, *MemoryIndex, *Embedder) {
	t.Helper()
	log := logger.Discard()
	chunker, err := NewWindowChunker(500, 50)
	require.NoError(t, err)
	embedder := NewEmbedder(client, EmbedderOptions{MaxInputChars: 8000, BatchSize: 4, Concurrency: 2}, log)
	idx := NewMemoryIndex(log)
	loader := NewCorpusLoader(NewDirectorySource(dir), nil, log)
	return NewIndexingService(loader, chunker, embedder, idx, log), idx, embedder
}

func TestIndexingService_BuildsIndexFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "firewalls.txt"), []byte("A firewall filters network traffic."))
	writeFile(t, filepath.Join(dir, "malware.txt"), []byte(strings.Repeat("Malware is malicious software. ", 40)))

	hashing, err := NewHashingEmbeddingClient(128)
	require.NoError(t, err)
	indexer, idx, _ := newTestIndexer(t, dir, hashing)

	assert.Equal(t, StatusInitializing, indexer.Status().Status)
	require.NoError(t, indexer.BuildIndex(context.Background()))

	stats := indexer.Status()
	assert.Equal(t, StatusReady, stats.Status)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, idx.Size(), stats.Chunks)
	assert.Greater(t, stats.Chunks, 2)
	assert.True(t, idx.Ready())
}

func TestIndexingService_EmptyCorpusBuildsEmptyIndex(t *testing.T) {
	hashing, err := NewHashingEmbeddingClient(32)
	require.NoError(t, err)
	indexer, idx, embedder := newTestIndexer(t, t.TempDir(), hashing)

	require.NoError(t, indexer.BuildIndex(context.Background()))
	assert.Equal(t, StatusReady, indexer.Status().Status)
	assert.Equal(t, 0, idx.Size())

	svc := NewRAGService(NewRetriever(embedder, idx), &fakeGenerator{reply: "unused"}, RAGOptions{TopK: 3}, logger.Discard())
	answer, err := svc.Ask(context.Background(), "What is a firewall?")
	require.NoError(t, err)
	assert.Equal(t, models.NotFoundAnswer, answer.Text)
	assert.Empty(t, answer.Sources)
}

func TestIndexingService_MissingCorpusFails(t *testing.T) {
	hashing, err := NewHashingEmbeddingClient(32)
	require.NoError(t, err)
	indexer, idx, _ := newTestIndexer(t, filepath.Join(t.TempDir(), "missing"), hashing)

	err = indexer.BuildIndex(context.Background())
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))

	stats := indexer.Status()
	assert.Equal(t, StatusFailed, stats.Status)
	assert.Error(t, stats.Err)
	assert.False(t, idx.Ready())
}

func TestIndexingService_BlankFilesDoNotFailBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "firewalls.txt"), []byte("A firewall filters network traffic."))
	writeFile(t, filepath.Join(dir, "blank.txt"), []byte("\n\n"))
	writeFile(t, filepath.Join(dir, "padded.txt"), []byte(strings.Repeat("Phishing lures users. ", 25)+strings.Repeat("\n", 600)))

	hashing, err := NewHashingEmbeddingClient(64)
	require.NoError(t, err)
	indexer, idx, _ := newTestIndexer(t, dir, hashing)

	require.NoError(t, indexer.BuildIndex(context.Background()))
	stats := indexer.Status()
	assert.Equal(t, StatusReady, stats.Status)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 3, idx.Size())
}

func TestIndexingService_EmbeddingFailureFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("some text"))
	indexer, idx, _ := newTestIndexer(t, dir, &fakeEmbeddingClient{err: errors.New("model not found")})

	err := indexer.BuildIndex(context.Background())
	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Contains(t, err.Error(), "a.txt")
	assert.Equal(t, StatusFailed, indexer.Status().Status)
	assert.False(t, idx.Ready())
}

func TestIndexingService_ConcurrentBuildLeavesStatus(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("some text"))
	hashing, err := NewHashingEmbeddingClient(32)
	require.NoError(t, err)
	indexer, idx, _ := newTestIndexer(t, dir, hashing)

	idx.building.Lock()
	err = indexer.BuildIndex(context.Background())
	idx.building.Unlock()

	assert.ErrorIs(t, err, ErrBuildInProgress)
	assert.Equal(t, StatusInitializing, indexer.Status().Status)
}

func TestIndexingService_MarkStale(t *testing.T) {
	hashing, err := NewHashingEmbeddingClient(32)
	require.NoError(t, err)
	indexer, _, _ := newTestIndexer(t, t.TempDir(), hashing)

	assert.False(t, indexer.Status().Stale)
	indexer.MarkStale("docs/a.txt")
	indexer.MarkStale("docs/b.txt")
	assert.True(t, indexer.Status().Stale)
}

func TestCorpusWatcher_ReportsMatchingChanges(t *testing.T) {
	dir := t.TempDir()
	var changed atomic.Value
	w := NewCorpusWatcher(dir, []string{".txt"}, func(p string) { changed.Store(p) }, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeFile(t, filepath.Join(dir, "ignored.md"), []byte("x"))
	writeFile(t, filepath.Join(dir, "new.txt"), []byte("x"))

	require.Eventually(t, func() bool {
		p, _ := changed.Load().(string)
		return p == filepath.Join(dir, "new.txt")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCorpusWatcher_MissingDirectory(t *testing.T) {
	w := NewCorpusWatcher(filepath.Join(t.TempDir(), "missing"), nil, func(string) {}, logger.Discard())
	assert.Error(t, w.Start(context.Background()))
}
