package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EmbeddingClient is the provider contract the Embedder wraps. It has the same
// shape as langchaingo's embeddings.EmbedderClient, so *ollama.LLM satisfies it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderOptions tunes an Embedder.
type EmbedderOptions struct {
	Model             string
	Dimension         int // declared output size; 0 means learn it from the first vector
	MaxInputChars     int
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64 // 0 disables pacing
}

// Embedder maps text to fixed-length vectors through one shared provider
// client. Vectors are returned exactly as the provider produced them.
type Embedder struct {
	client  EmbeddingClient
	opts    EmbedderOptions
	limiter *rate.Limiter
	dim     atomic.Int64
	log     logrus.FieldLogger
}

// NewEmbedder wraps client. Zero-valued batching options fall back to
// sequential, one-batch-at-a-time behaviour.
func NewEmbedder(client EmbeddingClient, opts EmbedderOptions, log logrus.FieldLogger) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	e := &Embedder{
		client: client,
		opts:   opts,
		log:    log.WithField("component", "embedder"),
	}
	if opts.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.Dimension > 0 {
		e.dim.Store(int64(opts.Dimension))
	}
	return e
}

// Dimension reports the output size, or 0 while it is still unknown.
func (e *Embedder) Dimension() int { return int(e.dim.Load()) }

// Model returns the configured embedding model name.
func (e *Embedder) Model() string { return e.opts.Model }

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.validate(-1, text); err != nil {
		return nil, err
	}
	if err := e.wait(ctx); err != nil {
		return nil, &EmbeddingError{Index: -1, Reason: "rate limiter", cause: err}
	}
	vectors, err := e.client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, &EmbeddingError{Index: -1, Reason: "provider call", cause: err}
	}
	if len(vectors) != 1 {
		return nil, &EmbeddingError{Index: -1, Reason: "provider call", cause: fmt.Errorf("expected 1 vector, got %d", len(vectors))}
	}
	if err := e.checkDimension(-1, vectors[0]); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds texts in order. Every text is validated before any
// provider call is made. Batches run concurrently up to the configured limit.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if err := e.validate(i, t); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(texts))
		g.Go(func() error {
			if err := e.wait(gctx); err != nil {
				return &EmbeddingError{Index: start, Reason: "rate limiter", cause: err}
			}
			vectors, err := e.client.CreateEmbedding(gctx, texts[start:end])
			if err != nil {
				return &EmbeddingError{Index: start, Reason: "provider call", cause: err}
			}
			if len(vectors) != end-start {
				return &EmbeddingError{Index: start, Reason: "provider call", cause: fmt.Errorf("expected %d vectors, got %d", end-start, len(vectors))}
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, v := range out {
		if err := e.checkDimension(i, v); err != nil {
			return nil, err
		}
	}
	e.log.WithFields(logrus.Fields{"texts": len(texts), "dimension": e.Dimension()}).Debug("embedded batch")
	return out, nil
}

func (e *Embedder) validate(index int, text string) error {
	if strings.TrimSpace(text) == "" {
		return &EmbeddingError{Index: index, Reason: "text is empty"}
	}
	if e.opts.MaxInputChars > 0 {
		if n := utf8.RuneCountInString(text); n > e.opts.MaxInputChars {
			return &EmbeddingError{Index: index, Reason: fmt.Sprintf("text has %d characters, limit is %d", n, e.opts.MaxInputChars)}
		}
	}
	return nil
}

func (e *Embedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

// checkDimension fixes the dimension on first sight and rejects any vector
// that disagrees with it afterwards.
func (e *Embedder) checkDimension(index int, v []float32) error {
	if len(v) == 0 {
		return &EmbeddingError{Index: index, Reason: "provider call", cause: fmt.Errorf("provider returned an empty vector")}
	}
	e.dim.CompareAndSwap(0, int64(len(v)))
	if want := e.Dimension(); len(v) != want {
		return &EmbeddingError{Index: index, Reason: "provider call", cause: &DimensionMismatchError{Expected: want, Actual: len(v)}}
	}
	return nil
}
