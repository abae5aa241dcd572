package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/itish2003/cyberrag/models"
)

// IndexStatus is the lifecycle state of the startup build.
type IndexStatus string

const (
	StatusInitializing IndexStatus = "initializing"
	StatusReady        IndexStatus = "ready"
	StatusFailed       IndexStatus = "failed"
)

// IndexStats summarizes the last build.
type IndexStats struct {
	Status    IndexStatus
	Documents int
	Chunks    int
	Skipped   int
	Stale     bool
	Err       error
}

// BatchEmbedder is the part of the Embedder the indexer needs.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexingService runs the load, chunk, embed and build sequence.
type IndexingService struct {
	loader   *CorpusLoader
	chunker  Chunker
	embedder BatchEmbedder
	index    VectorIndex
	log      logrus.FieldLogger

	mu    sync.RWMutex
	stats IndexStats
	stale atomic.Bool
}

// NewIndexingService creates an indexer in the initializing state.
func NewIndexingService(loader *CorpusLoader, chunker Chunker, embedder BatchEmbedder, index VectorIndex, log logrus.FieldLogger) *IndexingService {
	return &IndexingService{
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		log:      log.WithField("component", "indexer"),
		stats:    IndexStats{Status: StatusInitializing},
	}
}

// BuildIndex loads the corpus and builds the vector index. Any failure moves
// the service to StatusFailed, except a concurrent build which is rejected
// with ErrBuildInProgress and leaves the status alone.
func (s *IndexingService) BuildIndex(ctx context.Context) error {
	start := time.Now()
	s.log.Info("starting index build")

	docs, err := s.loader.LoadDocuments(ctx)
	if err != nil {
		return s.fail(err)
	}
	skipped := len(s.loader.Skipped())

	var chunks []models.Chunk
	for _, doc := range docs {
		cs, err := s.chunker.Chunk(doc)
		if err != nil {
			return s.fail(fmt.Errorf("chunk %s: %w", doc.Source, err))
		}
		chunks = append(chunks, cs...)
	}
	s.log.WithField("chunks", len(chunks)).Info("split documents into chunks")

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		var embErr *EmbeddingError
		if errors.As(err, &embErr) && embErr.Index >= 0 && embErr.Index < len(chunks) {
			err = fmt.Errorf("embed chunk of %s at offset %d: %w", chunks[embErr.Index].Source, chunks[embErr.Index].Offset, err)
		}
		return s.fail(err)
	}

	if err := s.index.Build(ctx, chunks, vectors); err != nil {
		if errors.Is(err, ErrBuildInProgress) {
			return err
		}
		return s.fail(err)
	}

	s.mu.Lock()
	s.stats = IndexStats{Status: StatusReady, Documents: len(docs), Chunks: len(chunks), Skipped: skipped}
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"documents": len(docs),
		"chunks":    len(chunks),
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("RAG system ready")
	return nil
}

func (s *IndexingService) fail(err error) error {
	s.mu.Lock()
	s.stats = IndexStats{Status: StatusFailed, Err: err}
	s.mu.Unlock()
	s.log.WithError(err).Error("index build failed")
	return err
}

// Status returns a snapshot of the build state.
func (s *IndexingService) Status() IndexStats {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()
	stats.Stale = s.stale.Load()
	return stats
}

// MarkStale records that the corpus changed after the build. The index is
// not rebuilt; a restart picks the change up.
func (s *IndexingService) MarkStale(path string) {
	if s.stale.CompareAndSwap(false, true) {
		s.log.WithField("path", path).Warn("corpus changed since the index was built, restart to re-index")
	}
}

// CorpusWatcher reports changes to matching files under a directory tree.
type CorpusWatcher struct {
	root       string
	extensions map[string]struct{}
	onChange   func(path string)
	log        logrus.FieldLogger
}

// NewCorpusWatcher calls onChange for every create, write, remove or rename
// of a file whose content extension is in extensions.
func NewCorpusWatcher(root string, extensions []string, onChange func(path string), log logrus.FieldLogger) *CorpusWatcher {
	return &CorpusWatcher{
		root:       root,
		extensions: extensionSet(extensions),
		onChange:   onChange,
		log:        log.WithField("component", "watcher"),
	}
}

// Start registers the tree with fsnotify and handles events in the
// background until ctx is cancelled.
func (w *CorpusWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	err = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.log.WithField("dir", w.root).Info("watching corpus directory")
	go w.loop(ctx, watcher)
	return nil
}

func (w *CorpusWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) && isDir(event.Name) {
				if err := watcher.Add(event.Name); err != nil {
					w.log.WithError(err).WithField("dir", event.Name).Warn("could not watch new directory")
				}
				continue
			}
			if _, ok := w.extensions[ContentExt(event.Name)]; !ok {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.log.WithField("event", event.String()).Debug("corpus file changed")
				w.onChange(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watcher error")
		case <-ctx.Done():
			w.log.Debug("context cancelled, stopping watcher")
			return
		}
	}
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
