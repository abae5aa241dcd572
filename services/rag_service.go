package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itish2003/cyberrag/models"
)

// RAGService answers questions from the indexed corpus.
type RAGService interface {
	Ask(ctx context.Context, question string) (*models.Answer, error)
}

// RAGOptions are the fixed per-query pipeline parameters.
type RAGOptions struct {
	TopK    int
	Timeout time.Duration // bound on the language model call; 0 means none
}

// ragServiceImpl holds the long-lived handles shared by every query.
type ragServiceImpl struct {
	retriever *Retriever
	generator Generator
	opts      RAGOptions
	log       logrus.FieldLogger
}

// NewRAGService wires a retriever and a generator into the answer pipeline.
func NewRAGService(retriever *Retriever, generator Generator, opts RAGOptions, log logrus.FieldLogger) RAGService {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &ragServiceImpl{
		retriever: retriever,
		generator: generator,
		opts:      opts,
		log:       log.WithField("component", "rag"),
	}
}

// Ask retrieves the top chunks for question and asks the model to answer from
// them alone. An unbuilt index yields the initializing answer, not an error.
func (r *ragServiceImpl) Ask(ctx context.Context, question string) (*models.Answer, error) {
	log := r.log.WithField("question_chars", len(question))

	chunks, err := r.retriever.Retrieve(ctx, question, r.opts.TopK)
	if errors.Is(err, ErrIndexNotReady) {
		log.Info("question received before the index was ready")
		return &models.Answer{Text: models.InitializingAnswer, Sources: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	if len(chunks) == 0 {
		log.Info("no chunks retrieved")
		return &models.Answer{Text: models.NotFoundAnswer, Sources: []string{}}, nil
	}

	prompt, err := RenderPrompt(question, chunks)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	genCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := r.generator.Generate(genCtx, prompt)
	if err != nil {
		log.WithError(err).Warn("generation failed")
		return nil, &GenerationError{Model: r.generator.Model(), cause: err}
	}

	answer := &models.Answer{
		Text:    strings.TrimSpace(text),
		Sources: SourceNames(chunks),
	}
	log.WithFields(logrus.Fields{
		"chunks":    len(chunks),
		"sources":   answer.Sources,
		"not_found": answer.NotFound(),
		"latency":   time.Since(start),
	}).Info("answered question")
	return answer, nil
}

// SourceNames returns the distinct base names of the chunks' sources in
// first-seen order.
func SourceNames(chunks []models.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	names := make([]string, 0, len(chunks))
	for _, c := range chunks {
		name := baseName(c.Chunk.Source)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// baseName handles both filesystem paths and s3://bucket/key sources.
func baseName(source string) string {
	if source == "" {
		return "unknown"
	}
	return path.Base(filepath.ToSlash(source))
}
