package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"google.golang.org/genai"

	"github.com/itish2003/cyberrag/config"
)

// Generator produces a completion for a fully rendered prompt. Every
// implementation samples at temperature 0.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// NewGenerator builds the language model client named in cfg.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama llm: %w", err)
		}
		return NewLangchainGenerator(llm, cfg.Model), nil
	case "openai":
		client, err := newOpenAIClient(cfg.APIKeyEnv, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return &OpenAIGenerator{client: client, model: cfg.Model}, nil
	case "gemini":
		client, err := newGeminiClient(ctx, cfg.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		return &GeminiGenerator{client: client, model: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// LangchainGenerator drives any langchaingo model; Ollama in practice.
type LangchainGenerator struct {
	llm   llms.Model
	model string
}

func NewLangchainGenerator(llm llms.Model, model string) *LangchainGenerator {
	return &LangchainGenerator{llm: llm, model: model}
}

func (g *LangchainGenerator) Model() string { return g.model }

func (g *LangchainGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, llms.WithTemperature(0))
}

// OpenAIGenerator talks to the OpenAI chat completions API or a compatible server.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func (g *OpenAIGenerator) Model() string { return g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		// A literal 0 is dropped by omitempty and the server default applies.
		Temperature: math.SmallestNonzeroFloat32,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiGenerator uses the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *GeminiGenerator) Model() string { return g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
