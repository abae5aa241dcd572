package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// MinioConfig holds connection details for a MinIO or other S3-compatible endpoint.
type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// S3Config holds AWS S3 settings. Credentials come from the default AWS chain.
type S3Config struct {
	Region string `yaml:"region"`
}

// CorpusConfig selects where documents are read from.
type CorpusConfig struct {
	Source     string      `yaml:"source"` // dir, minio or s3
	Dir        string      `yaml:"dir"`
	Bucket     string      `yaml:"bucket"`
	Prefix     string      `yaml:"prefix"`
	Extensions []string    `yaml:"extensions"`
	Watch      bool        `yaml:"watch"`
	Minio      MinioConfig `yaml:"minio"`
	S3         S3Config    `yaml:"s3"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Strategy  string `yaml:"strategy"` // window or recursive
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider          string  `yaml:"provider"` // ollama, openai, gemini or hashing
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Dimension         int     `yaml:"dimension"`
	MaxInputChars     int     `yaml:"max_input_chars"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ChromaConfig configures the Chroma index backend.
type ChromaConfig struct {
	// BaseURL of the Chroma server; empty uses the client default
	// (http://localhost:8000), so move server.addr off :8000 in that case.
	BaseURL    string `yaml:"base_url"`
	Collection string `yaml:"collection"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend string       `yaml:"backend"` // memory or chroma
	Chroma  ChromaConfig `yaml:"chroma"`
}

// LLMConfig selects and configures the language model.
type LLMConfig struct {
	Provider  string        `yaml:"provider"` // ollama, openai or gemini
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RetrievalConfig configures the retriever.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// envFile is read from the working directory.
var envFile = ".env"

// Load reads .env (if present), then the YAML file at path (if non-empty and
// present), fills defaults, applies environment overrides and validates.
func Load(path string) (*AppConfig, error) {
	// A missing .env is normal in production; a malformed one is not.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &AppConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Corpus.Source == "" {
		cfg.Corpus.Source = "dir"
	}
	if cfg.Corpus.Dir == "" {
		cfg.Corpus.Dir = "./docs"
	}
	if len(cfg.Corpus.Extensions) == 0 {
		cfg.Corpus.Extensions = []string{".txt"}
	}
	if cfg.Corpus.Minio.AccessKeyEnv == "" {
		cfg.Corpus.Minio.AccessKeyEnv = "MINIO_ACCESS_KEY"
	}
	if cfg.Corpus.Minio.SecretKeyEnv == "" {
		cfg.Corpus.Minio.SecretKeyEnv = "MINIO_SECRET_KEY"
	}
	if cfg.Chunker.Strategy == "" {
		cfg.Chunker.Strategy = "window"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 50
		}
	}
	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = "ollama"
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = defaultEmbeddingModel(cfg.Embedder.Provider)
	}
	if cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = defaultAPIKeyEnv(cfg.Embedder.Provider)
	}
	if cfg.Embedder.Provider == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.MaxInputChars == 0 {
		cfg.Embedder.MaxInputChars = 8000
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Concurrency == 0 {
		cfg.Embedder.Concurrency = 4
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Index.Chroma.Collection == "" {
		cfg.Index.Chroma.Collection = "cybersecurity-docs"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultChatModel(cfg.LLM.Provider)
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = defaultAPIKeyEnv(cfg.LLM.Provider)
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 2 * time.Minute
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
}

func defaultEmbeddingModel(provider string) string {
	switch provider {
	case "openai":
		return "text-embedding-3-small"
	case "gemini":
		return "text-embedding-004"
	case "hashing":
		return "hashing-v1"
	default:
		return "all-minilm"
	}
}

func defaultChatModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "gemini":
		return "gemini-2.5-flash"
	default:
		return "llama3"
	}
}

func defaultAPIKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// applyEnv overrides file values with the environment variables operators
// most often set per deployment.
func applyEnv(cfg *AppConfig) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Corpus.Dir, "CORPUS_DIR")
	setString(&cfg.Corpus.Source, "CORPUS_SOURCE")
	setString(&cfg.Corpus.Bucket, "CORPUS_BUCKET")
	setString(&cfg.Corpus.Prefix, "CORPUS_PREFIX")
	setString(&cfg.Embedder.Provider, "EMBEDDER_PROVIDER")
	setString(&cfg.Embedder.Model, "EMBEDDER_MODEL")
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.Index.Backend, "INDEX_BACKEND")
	setString(&cfg.Index.Chroma.BaseURL, "CHROMA_URL")
	if host := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); host != "" {
		if oneOf(cfg.Embedder.Provider, "", "ollama") && cfg.Embedder.BaseURL == "" {
			cfg.Embedder.BaseURL = host
		}
		if oneOf(cfg.LLM.Provider, "", "ollama") && cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = host
		}
	}
}

// Validate checks the invariants the pipeline relies on.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunker.chunk_size must be > 0, got %d", c.Chunker.ChunkSize))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		errs = append(errs, fmt.Errorf("chunker.overlap must be in [0, chunk_size), got %d", c.Chunker.Overlap))
	}
	if c.Chunker.ChunkSize > c.Embedder.MaxInputChars {
		errs = append(errs, fmt.Errorf("chunker.chunk_size %d exceeds embedder.max_input_chars %d", c.Chunker.ChunkSize, c.Embedder.MaxInputChars))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be > 0, got %d", c.Retrieval.TopK))
	}
	if c.Embedder.BatchSize <= 0 || c.Embedder.Concurrency <= 0 {
		errs = append(errs, errors.New("embedder.batch_size and embedder.concurrency must be > 0"))
	}
	if !oneOf(c.Chunker.Strategy, "window", "recursive") {
		errs = append(errs, fmt.Errorf("unknown chunker.strategy %q", c.Chunker.Strategy))
	}
	if !oneOf(c.Corpus.Source, "dir", "minio", "s3") {
		errs = append(errs, fmt.Errorf("unknown corpus.source %q", c.Corpus.Source))
	}
	if c.Corpus.Source != "dir" && c.Corpus.Bucket == "" {
		errs = append(errs, fmt.Errorf("corpus.bucket is required for source %q", c.Corpus.Source))
	}
	if c.Corpus.Source == "minio" && c.Corpus.Minio.Endpoint == "" {
		errs = append(errs, errors.New("corpus.minio.endpoint is required for source \"minio\""))
	}
	if !oneOf(c.Embedder.Provider, "ollama", "openai", "gemini", "hashing") {
		errs = append(errs, fmt.Errorf("unknown embedder.provider %q", c.Embedder.Provider))
	}
	if c.Embedder.Provider == "hashing" && c.Embedder.Dimension <= 0 {
		errs = append(errs, errors.New("embedder.dimension must be > 0 for the hashing provider"))
	}
	if !oneOf(c.LLM.Provider, "ollama", "openai", "gemini") {
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if !oneOf(c.Index.Backend, "memory", "chroma") {
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}
	if !oneOf(c.Log.Format, "text", "json") {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
