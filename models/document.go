package models

// Document is one corpus entry as read by the loader.
type Document struct {
	Text   string
	Source string
}

// Chunk is a bounded window of a Document. Offset is the index of the
// chunk's first character (rune) in the source document text.
type Chunk struct {
	Text   string
	Source string
	Offset int
}

// ScoredChunk pairs a retrieved chunk with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Answer is the result of a grounded question.
type Answer struct {
	Text    string
	Sources []string
}

// NotFound reports whether the model answered with the "not in context" phrase.
func (a *Answer) NotFound() bool {
	return a != nil && a.Text == NotFoundAnswer
}

const (
	// NotFoundAnswer is returned (and requested from the model) when the
	// documents do not contain the answer. It is a successful answer.
	NotFoundAnswer = "I don't know based on the provided documents."

	// InitializingAnswer is returned while the index is still being built.
	InitializingAnswer = "System is still initializing. Please wait."
)
