package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/itish2003/cyberrag/config"
	"github.com/itish2003/cyberrag/controller"
	"github.com/itish2003/cyberrag/logger"
	"github.com/itish2003/cyberrag/services"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.AppConfig, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services.ConfigurePDF(os.Getenv("UNIDOC_LICENSE_KEY"), log)

	// Model handles and the index are created once and shared by every request.
	embeddingClient, err := services.NewEmbeddingClient(ctx, cfg.Embedder)
	if err != nil {
		return err
	}
	embedder := services.NewEmbedder(embeddingClient, services.EmbedderOptions{
		Model:             cfg.Embedder.Model,
		Dimension:         cfg.Embedder.Dimension,
		MaxInputChars:     cfg.Embedder.MaxInputChars,
		BatchSize:         cfg.Embedder.BatchSize,
		Concurrency:       cfg.Embedder.Concurrency,
		RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
	}, log)

	generator, err := services.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	index, closeIndex, err := newVectorIndex(ctx, cfg.Index, log)
	if err != nil {
		return err
	}
	defer closeIndex()

	source, err := services.NewCorpusSource(ctx, cfg.Corpus)
	if err != nil {
		return err
	}
	chunker, err := services.NewChunker(cfg.Chunker.Strategy, cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		return err
	}
	loader := services.NewCorpusLoader(source, cfg.Corpus.Extensions, log)
	indexer := services.NewIndexingService(loader, chunker, embedder, index, log)

	ragService := services.NewRAGService(
		services.NewRetriever(embedder, index),
		generator,
		services.RAGOptions{TopK: cfg.Retrieval.TopK, Timeout: cfg.LLM.Timeout},
		log,
	)
	ragController := controller.NewRAGController(ragService, indexer, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: controller.NewRouter(ragController, log),
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// The listener is already up; /ask answers with the initializing message
	// until this build completes. A failed build ends the process.
	go func() {
		if err := indexer.BuildIndex(ctx); err != nil {
			errCh <- fmt.Errorf("build index: %w", err)
			return
		}
		if cfg.Corpus.Watch && cfg.Corpus.Source == "dir" {
			watcher := services.NewCorpusWatcher(cfg.Corpus.Dir, cfg.Corpus.Extensions, indexer.MarkStale, log)
			if err := watcher.Start(ctx); err != nil {
				log.WithError(err).Warn("corpus watcher disabled")
			}
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	return runErr
}

// newVectorIndex builds the configured backend. The returned func releases
// any client the backend holds.
func newVectorIndex(ctx context.Context, cfg config.IndexConfig, log logrus.FieldLogger) (services.VectorIndex, func(), error) {
	switch cfg.Backend {
	case "chroma":
		var opts []chromago.ClientOption
		if cfg.Chroma.BaseURL != "" {
			opts = append(opts, chromago.WithBaseURL(cfg.Chroma.BaseURL))
		}
		client, err := chromago.NewHTTPClient(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create chroma client: %w", err)
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				log.WithError(err).Warn("failed to close chroma client")
			}
		}
		index, err := services.NewChromaIndex(ctx, client, cfg.Chroma.Collection, log)
		if err != nil {
			closeClient()
			return nil, nil, err
		}
		return index, closeClient, nil
	default:
		return services.NewMemoryIndex(log), func() {}, nil
	}
}
