package services

import (
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/itish2003/cyberrag/models"
)

const groundingTemplate = `You are a cybersecurity assistant. Answer the question based ONLY on the following context.
If the answer is not in the context, say "{{.not_found}}"
Do not use any outside knowledge.

Context: {{.context}}

Question: {{.question}}

Answer:`

// GroundingPrompt returns the template that restricts the model to the
// retrieved context.
func GroundingPrompt() prompts.PromptTemplate {
	p := prompts.NewPromptTemplate(groundingTemplate, []string{"context", "question"})
	p.PartialVariables = map[string]any{"not_found": models.NotFoundAnswer}
	return p
}

// BuildContext joins chunk texts in retrieval order, separated by blank lines.
func BuildContext(chunks []models.ScoredChunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Chunk.Text
	}
	return strings.Join(texts, "\n\n")
}

// RenderPrompt fills the grounding template for one question.
func RenderPrompt(question string, chunks []models.ScoredChunk) (string, error) {
	return GroundingPrompt().Format(map[string]any{
		"context":  BuildContext(chunks),
		"question": question,
	})
}
