package services

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/itish2003/cyberrag/models"
)

// VectorIndex stores (vector, chunk) pairs and answers nearest-neighbour
// queries by cosine similarity.
type VectorIndex interface {
	// Build replaces the index contents. It is not incremental.
	Build(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	// Query returns at most k entries, best first, ties in insertion order.
	Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
	Ready() bool
	Size() int
	// Backend names the storage, e.g. "memory" or "chroma".
	Backend() string
}

type indexSnapshot struct {
	chunks  []models.Chunk
	vectors [][]float32
	norms   []float64
	dim     int
}

// MemoryIndex is an exact in-process index. A build publishes an immutable
// snapshot atomically; queries read it without locking.
type MemoryIndex struct {
	snap     atomic.Pointer[indexSnapshot]
	building sync.Mutex
	log      logrus.FieldLogger
}

func NewMemoryIndex(log logrus.FieldLogger) *MemoryIndex {
	return &MemoryIndex{log: log.WithField("component", "index")}
}

func (m *MemoryIndex) Build(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if !m.building.TryLock() {
		return ErrBuildInProgress
	}
	defer m.building.Unlock()

	if len(chunks) != len(vectors) {
		return fmt.Errorf("build index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	snap := &indexSnapshot{
		chunks:  slices.Clone(chunks),
		vectors: make([][]float32, len(vectors)),
		norms:   make([]float64, len(vectors)),
	}
	for i, v := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i == 0 {
			snap.dim = len(v)
		}
		if len(v) != snap.dim {
			return fmt.Errorf("build index: vector %d: %w", i, &DimensionMismatchError{Expected: snap.dim, Actual: len(v)})
		}
		snap.vectors[i] = slices.Clone(v)
		snap.norms[i] = norm(v)
	}

	m.snap.Store(snap)
	m.log.WithFields(logrus.Fields{"entries": len(chunks), "dimension": snap.dim}).Info("index built")
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	snap := m.snap.Load()
	if snap == nil {
		return nil, &IndexNotReadyError{Backend: m.Backend()}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(snap.chunks) == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vector) != snap.dim {
		return nil, &DimensionMismatchError{Expected: snap.dim, Actual: len(vector)}
	}

	qnorm := norm(vector)
	type hit struct {
		pos   int
		score float64
	}
	hits := make([]hit, len(snap.vectors))
	for i, v := range snap.vectors {
		hits[i] = hit{pos: i, score: cosine(vector, qnorm, v, snap.norms[i])}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(b.score, a.score) })

	n := min(k, len(hits))
	out := make([]models.ScoredChunk, n)
	for i := range n {
		out[i] = models.ScoredChunk{Chunk: snap.chunks[hits[i].pos], Score: hits[i].score}
	}
	return out, nil
}

func (m *MemoryIndex) Ready() bool { return m.snap.Load() != nil }

func (m *MemoryIndex) Backend() string { return "memory" }

func (m *MemoryIndex) Size() int {
	if snap := m.snap.Load(); snap != nil {
		return len(snap.chunks)
	}
	return 0
}

// Dimension is the vector length of the built index, 0 before a build.
func (m *MemoryIndex) Dimension() int {
	if snap := m.snap.Load(); snap != nil {
		return snap.dim
	}
	return 0
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine is 0 when either side has zero norm.
func cosine(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}
