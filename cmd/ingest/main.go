package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/ingestion"
	"github.com/ragscope/backend/internal/llm"
	"github.com/ragscope/backend/internal/vector/milvus"
	"github.com/ragscope/backend/pkg/config"
	appLogger "github.com/ragscope/backend/pkg/logger"
)

// ingest indexes HTML files into the Milvus collection read by the milvus
// retrieval backend. Arguments are files or directories; directories are
// walked for *.html and *.htm files.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: ingest <file-or-dir>...")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	if err := cfg.ValidateIndexer(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := collectFiles(os.Args[1:])
	if err != nil {
		appLogger.Fatal("Failed to collect input files", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(ctx,
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Retrieval.TextColumn,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(ctx); err != nil {
		appLogger.Fatal("Failed to prepare collection", zap.Error(err))
	}

	embedder := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Guard: llm.GuardConfig{
			Name:            "embeddings",
			Timeout:         time.Duration(cfg.LLM.TimeoutSec) * time.Second,
			MaxAttempts:     3,
			BreakerFailures: cfg.LLM.BreakerFailures,
		},
	})

	processor := ingestion.NewProcessor(embedder, milvusClient, cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)

	var indexed, failed int
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}

		content, err := os.ReadFile(path)
		if err != nil {
			appLogger.Error("Failed to read file", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}

		if _, err := processor.ProcessDocument(ctx, path, string(content)); err != nil {
			if errors.Is(err, ingestion.ErrNoContent) {
				appLogger.Warn("Skipping empty document", zap.String("path", path))
				continue
			}
			appLogger.Error("Failed to index document", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}
		indexed++
	}

	appLogger.Info("Indexing finished",
		zap.Int("files", len(files)),
		zap.Int("indexed", indexed),
		zap.Int("failed", failed),
	)

	if failed > 0 {
		appLogger.Sync()
		os.Exit(1)
	}
}

func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".html", ".htm":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
	}
	return files, nil
}
