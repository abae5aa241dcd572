package services

import (
	"context"

	"github.com/itish2003/cyberrag/models"
)

// QueryEmbedder is the part of the Embedder the retriever needs.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the chunks most similar to a question.
type Retriever struct {
	embedder QueryEmbedder
	index    VectorIndex
}

func NewRetriever(embedder QueryEmbedder, index VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds question and returns the top k chunks. An index that has
// not been built fails before the embedding call is made.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]models.ScoredChunk, error) {
	if !r.index.Ready() {
		return nil, &IndexNotReadyError{Backend: r.index.Backend()}
	}
	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	return r.index.Query(ctx, vector, k)
}
