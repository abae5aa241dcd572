package services

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/itish2003/cyberrag/models"
)

const (
	chromaAddBatch = 256

	metaKind   = "kind"
	metaSource = "source"
	metaOffset = "offset"
	metaSeq    = "seq"
	kindChunk  = "chunk"
)

// ChromaIndex keeps the entries in a Chroma collection using cosine space.
// Build clears the collection and re-adds every entry.
type ChromaIndex struct {
	collection chromago.Collection
	name       string
	log        logrus.FieldLogger

	building sync.Mutex
	ready    atomic.Bool
	size     atomic.Int64
	dim      atomic.Int64
}

// NewChromaIndex gets or creates the named collection.
func NewChromaIndex(ctx context.Context, client chromago.Client, name string, log logrus.FieldLogger) (*ChromaIndex, error) {
	log = log.WithFields(logrus.Fields{"component": "index", "backend": "chroma", "collection": name})
	log.Info("getting or creating collection")

	collection, err := client.GetOrCreateCollection(
		ctx,
		name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", "cosine"),
				chromago.NewStringAttribute("description", "cybersecurity document chunks"),
				chromago.NewStringAttribute("created_by", "cyberrag"),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("get or create chroma collection %s: %w", name, err)
	}
	return &ChromaIndex{collection: collection, name: name, log: log}, nil
}

// Build validates the input before touching the collection, so a rejected
// build keeps the previous entries queryable. Once validation passes the old
// entries are deleted first. Chroma has no multi-call transaction, so an Add
// failure after that point cannot restore them: the partial batches are
// removed and the index stays not ready.
func (c *ChromaIndex) Build(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if !c.building.TryLock() {
		return ErrBuildInProgress
	}
	defer c.building.Unlock()

	if len(chunks) != len(vectors) {
		return fmt.Errorf("build index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	dim := 0
	for i, v := range vectors {
		if i == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return fmt.Errorf("build index: vector %d: %w", i, &DimensionMismatchError{Expected: dim, Actual: len(v)})
		}
	}

	c.ready.Store(false)
	if err := c.collection.Delete(ctx, chromago.WithWhereDelete(chromago.EqString(metaKind, kindChunk))); err != nil {
		return fmt.Errorf("clear chroma collection %s: %w", c.name, err)
	}

	for start := 0; start < len(chunks); start += chromaAddBatch {
		end := min(start+chromaAddBatch, len(chunks))
		ids := make([]chromago.DocumentID, 0, end-start)
		texts := make([]string, 0, end-start)
		embs := make([]embeddings.Embedding, 0, end-start)
		metas := make([]chromago.DocumentMetadata, 0, end-start)
		for i := start; i < end; i++ {
			ids = append(ids, chromago.DocumentID(uuid.New().String()))
			texts = append(texts, chunks[i].Text)
			embs = append(embs, embeddings.NewEmbeddingFromFloat32(vectors[i]))
			metas = append(metas, chromago.NewDocumentMetadata(
				chromago.NewStringAttribute(metaKind, kindChunk),
				chromago.NewStringAttribute(metaSource, chunks[i].Source),
				chromago.NewIntAttribute(metaOffset, int64(chunks[i].Offset)),
				chromago.NewIntAttribute(metaSeq, int64(i)),
			))
		}
		err := c.collection.Add(ctx,
			chromago.WithIDs(ids...),
			chromago.WithTexts(texts...),
			chromago.WithEmbeddings(embs...),
			chromago.WithMetadatas(metas...),
		)
		if err != nil {
			c.clearPartial(ctx)
			return fmt.Errorf("add chunks %d-%d to chroma: %w", start, end, err)
		}
	}

	c.size.Store(int64(len(chunks)))
	c.dim.Store(int64(dim))
	c.ready.Store(true)
	c.log.WithFields(logrus.Fields{"entries": len(chunks), "dimension": dim}).Info("index built")
	return nil
}

func (c *ChromaIndex) clearPartial(ctx context.Context) {
	if err := c.collection.Delete(ctx, chromago.WithWhereDelete(chromago.EqString(metaKind, kindChunk))); err != nil {
		c.log.WithError(err).Warn("could not remove partially added chunks")
	}
}

func (c *ChromaIndex) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if !c.ready.Load() {
		return nil, &IndexNotReadyError{Backend: c.Backend()}
	}
	size := int(c.size.Load())
	if k <= 0 || size == 0 {
		return []models.ScoredChunk{}, nil
	}
	if dim := int(c.dim.Load()); len(vector) != dim {
		return nil, &DimensionMismatchError{Expected: dim, Actual: len(vector)}
	}

	results, err := c.collection.Query(
		ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(min(k, size)),
	)
	if err != nil {
		return nil, fmt.Errorf("query chroma collection %s: %w", c.name, err)
	}

	documentGroups := results.GetDocumentsGroups()
	metadataGroups := results.GetMetadatasGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(documentGroups) == 0 {
		return []models.ScoredChunk{}, nil
	}

	hits := make([]chromaHit, 0, len(documentGroups[0]))
	for i, doc := range documentGroups[0] {
		hit := chromaHit{text: doc.ContentString()}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			hit.distance = float64(distanceGroups[0][i])
		}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) && metadataGroups[0][i] != nil {
			// DocumentMetadata exposes no generic accessor; go through JSON.
			jsonBytes, err := json.Marshal(metadataGroups[0][i])
			if err != nil {
				c.log.WithError(err).Warn("could not marshal chunk metadata")
			} else if err := json.Unmarshal(jsonBytes, &hit.meta); err != nil {
				c.log.WithError(err).Warn("could not unmarshal chunk metadata")
			}
		}
		hits = append(hits, hit)
	}
	return rankChromaHits(hits), nil
}

func (c *ChromaIndex) Ready() bool { return c.ready.Load() }

func (c *ChromaIndex) Backend() string { return "chroma" }

func (c *ChromaIndex) Size() int { return int(c.size.Load()) }

type chromaHit struct {
	text     string
	distance float64
	meta     map[string]any
}

// rankChromaHits converts cosine distances to similarities and orders them
// by score, breaking ties by build order.
func rankChromaHits(hits []chromaHit) []models.ScoredChunk {
	type ranked struct {
		sc  models.ScoredChunk
		seq int
	}
	out := make([]ranked, len(hits))
	for i, h := range hits {
		source, _ := h.meta[metaSource].(string)
		offset, _ := h.meta[metaOffset].(float64)
		seq, ok := h.meta[metaSeq].(float64)
		if !ok {
			seq = float64(i)
		}
		out[i] = ranked{
			sc: models.ScoredChunk{
				Chunk: models.Chunk{Text: h.text, Source: source, Offset: int(offset)},
				Score: 1 - h.distance,
			},
			seq: int(seq),
		}
	}
	slices.SortStableFunc(out, func(a, b ranked) int {
		if c := cmp.Compare(b.sc.Score, a.sc.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	scored := make([]models.ScoredChunk, len(out))
	for i, r := range out {
		scored[i] = r.sc
	}
	return scored
}
