package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/itish2003/cyberrag/models"
)

// Chunker splits a document into retrieval units.
type Chunker interface {
	Chunk(doc models.Document) ([]models.Chunk, error)
}

// WindowChunker cuts fixed-size, overlapping character windows. Sizes are
// counted in runes so multi-byte text is never split inside a character.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker requires size > 0 and 0 <= overlap < size.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Chunk slides a window of c.size runes with stride size-overlap. Once the
// text left from the current start fits in one window, that remainder
// becomes the final chunk. Windows holding only whitespace are dropped since
// there is nothing to embed.
func (c *WindowChunker) Chunk(doc models.Document) ([]models.Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, nil
	}
	runes := []rune(doc.Text)

	stride := c.size - c.overlap
	chunks := make([]models.Chunk, 0, len(runes)/stride+1)
	for start := 0; ; start += stride {
		end := min(start+c.size, len(runes))
		if text := string(runes[start:end]); strings.TrimSpace(text) != "" {
			chunks = append(chunks, models.Chunk{Text: text, Source: doc.Source, Offset: start})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// RecursiveChunker splits on paragraph, line and word boundaries using
// langchaingo's recursive character splitter. Pieces never exceed size runes
// but consecutive pieces overlap by at most overlap runes, not exactly.
type RecursiveChunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewRecursiveChunker requires size > 0 and 0 <= overlap < size.
func NewRecursiveChunker(size, overlap int) (*RecursiveChunker, error) {
	if _, err := NewWindowChunker(size, overlap); err != nil {
		return nil, err
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	return &RecursiveChunker{splitter: splitter}, nil
}

// Chunk splits doc and recovers each piece's offset by searching forward
// from the previous piece's start.
func (c *RecursiveChunker) Chunk(doc models.Document) ([]models.Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, nil
	}
	pieces, err := c.splitter.SplitText(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", doc.Source, err)
	}

	chunks := make([]models.Chunk, 0, len(pieces))
	searchFrom := 0 // byte position
	for _, piece := range pieces {
		offset := 0
		if i := strings.Index(doc.Text[searchFrom:], piece); i >= 0 {
			bytePos := searchFrom + i
			offset = utf8.RuneCountInString(doc.Text[:bytePos])
			searchFrom = bytePos
		} else {
			offset = utf8.RuneCountInString(doc.Text[:searchFrom])
		}
		chunks = append(chunks, models.Chunk{Text: piece, Source: doc.Source, Offset: offset})
	}
	return chunks, nil
}

// NewChunker builds the chunker for the configured strategy.
func NewChunker(strategy string, size, overlap int) (Chunker, error) {
	switch strategy {
	case "", "window":
		return NewWindowChunker(size, overlap)
	case "recursive":
		return NewRecursiveChunker(size, overlap)
	default:
		return nil, fmt.Errorf("unknown chunker strategy %q", strategy)
	}
}
