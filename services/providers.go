package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms/ollama"
	"google.golang.org/genai"

	"github.com/itish2003/cyberrag/config"
)

// NewEmbeddingClient builds the provider client named in cfg. It is called
// once at startup; the returned client is shared by every request.
func NewEmbeddingClient(ctx context.Context, cfg config.EmbedderConfig) (EmbeddingClient, error) {
	switch cfg.Provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedding client: %w", err)
		}
		return llm, nil
	case "openai":
		client, err := newOpenAIClient(cfg.APIKeyEnv, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return &openAIEmbeddingClient{client: client, model: cfg.Model, dimensions: cfg.Dimension}, nil
	case "gemini":
		client, err := newGeminiClient(ctx, cfg.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		return &geminiEmbeddingClient{client: client, model: cfg.Model, dimensions: cfg.Dimension}, nil
	case "hashing":
		return NewHashingEmbeddingClient(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func newOpenAIClient(apiKeyEnv, baseURL string) (*openai.Client, error) {
	key := os.Getenv(apiKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("openai: environment variable %s is not set", apiKeyEnv)
	}
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

func newGeminiClient(ctx context.Context, apiKeyEnv string) (*genai.Client, error) {
	key := os.Getenv(apiKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("gemini: environment variable %s is not set", apiKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

type openAIEmbeddingClient struct {
	client     *openai.Client
	model      string
	dimensions int
}

func (c *openAIEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

type geminiEmbeddingClient struct {
	client     *genai.Client
	model      string
	dimensions int
}

func (c *geminiEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{}
	if c.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(c.dimensions))
	}
	resp, err := c.client.Models.EmbedContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e != nil {
			out[i] = e.Values
		}
	}
	return out, nil
}

// HashingEmbeddingClient is a local, deterministic embedding provider. Each
// lower-cased word token is hashed into one of dim buckets with a signed
// weight, so texts that share vocabulary get a high cosine similarity.
type HashingEmbeddingClient struct {
	dim int
}

// NewHashingEmbeddingClient requires dim > 0.
func NewHashingEmbeddingClient(dim int) (*HashingEmbeddingClient, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hashing embedder: dimension must be > 0, got %d", dim)
	}
	return &HashingEmbeddingClient{dim: dim}, nil
}

// CreateEmbedding never fails except on a cancelled context.
func (h *HashingEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashingEmbeddingClient) vector(text string) []float32 {
	v := make([]float32, h.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		bucket := sum % uint64(h.dim)
		weight := float32(1)
		if sum>>63 == 1 {
			weight = -1
		}
		v[bucket] += weight
	}
	// Sub-linear term frequency keeps long chunks from dominating.
	for i, x := range v {
		if x != 0 {
			v[i] = float32(math.Copysign(1+math.Log(math.Abs(float64(x))), float64(x)))
		}
	}
	return v
}
