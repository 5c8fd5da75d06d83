package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/api"
	"github.com/ragscope/backend/internal/api/handlers"
	"github.com/ragscope/backend/internal/cache/redis"
	"github.com/ragscope/backend/internal/evaluation"
	"github.com/ragscope/backend/internal/events/kafka"
	"github.com/ragscope/backend/internal/guardrail"
	"github.com/ragscope/backend/internal/llm"
	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/internal/rag"
	"github.com/ragscope/backend/internal/recording"
	"github.com/ragscope/backend/internal/retrieval"
	"github.com/ragscope/backend/internal/storage/sqlite"
	"github.com/ragscope/backend/internal/vector/milvus"
	"github.com/ragscope/backend/internal/warehouse"
	"github.com/ragscope/backend/pkg/config"
	appLogger "github.com/ragscope/backend/pkg/logger"
)

func main() {
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

	appLogger.Info("Starting RAG tracing and evaluation server")

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	metrics.Init()

	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	session, err := warehouse.Open(ctx, cfg.Snowflake)
	if err != nil {
		appLogger.Fatal("Failed to open Snowflake session", zap.Error(err))
	}
	defer session.Close()

	llmGuard := completionGuard(cfg)
	completer := newCompleter(cfg.LLM.Provider, session, cfg.LLM, llmGuard)
	judge := newCompleter(cfg.Feedback.Provider, session, cfg.LLM, judgeGuard(cfg))
	// The guardrail scores chunks while the user waits, so it gets the
	// request-path policy instead of the judge's retries.
	guardrailJudge := newCompleter(cfg.Feedback.Provider, session, cfg.LLM, guardrailGuard(cfg))

	var search retrieval.SearchService
	switch cfg.Retrieval.Backend {
	case "milvus":
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
		search = retrieval.NewMilvusSearch(newOpenAIClient(cfg.LLM, llmGuard), milvusClient)
	default:
		search = retrieval.NewCortexSearch(session.DB(), session.SearchServiceName(), cfg.Retrieval.TextColumn)
	}
	retriever := retrieval.NewRetriever(search, cfg.Retrieval.Limit)

	checks := map[string]handlers.Check{
		"sqlite":    sqliteClient.Ping,
		"snowflake": session.Ping,
	}

	var providerOpts []evaluation.ProviderOption
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, judge scores will not be cached", zap.Error(err))
		} else {
			defer redisClient.Close()
			providerOpts = append(providerOpts, evaluation.WithScoreCache(redisClient, time.Duration(cfg.Feedback.CacheTTLSec)*time.Second))
			checks["redis"] = redisClient.Ping
		}
	}

	publisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	provider := evaluation.NewLLMProvider(judge, cfg.Feedback.Model, providerOpts...)
	guardrailScorer := evaluation.NewLLMProvider(guardrailJudge, cfg.Feedback.Model, providerOpts...)
	hub := evaluation.NewHub()

	var scheduler recording.Scheduler
	var runner *evaluation.Runner
	var feedbackNames []string
	if cfg.Feedback.Enabled {
		runner = evaluation.NewRunner(evaluation.RunnerConfig{
			Workers:   cfg.Feedback.Workers,
			QueueSize: cfg.Feedback.QueueSize,
			Timeout:   time.Duration(cfg.Feedback.TimeoutSec) * time.Second,
		}, evaluation.Defaults(provider), sqliteClient, hub, publisher)
		runner.Start()
		scheduler = runner
		feedbackNames = runner.Names()
	}

	opts := rag.Options{Model: cfg.LLM.Model, IncludeContext: cfg.RAG.IncludeContext}
	apps := handlers.Apps{
		Basic: &recording.App{
			ID:        cfg.RAG.AppID,
			Queryer:   rag.NewBasic(retriever, completer, opts),
			Store:     sqliteClient,
			Feedbacks: scheduler,
			Events:    publisher,
		},
		Filtered: &recording.App{
			ID:        cfg.RAG.FilteredAppID,
			Queryer:   rag.NewFiltered(retriever, guardrail.NewContextFilter(guardrailScorer), completer, opts),
			Store:     sqliteClient,
			Feedbacks: scheduler,
			Events:    publisher,
		},
	}

	server := api.NewServer(cfg.Server, api.Deps{
		Apps:          apps,
		Store:         sqliteClient,
		Hub:           hub,
		FeedbackNames: feedbackNames,
		Checks:        checks,
		StreamTimeout: time.Duration(cfg.Feedback.TimeoutSec) * time.Second * 3,
		AccessLog:     cfg.Server.Development,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting",
		zap.String("address", addr),
		zap.String("retrieval", cfg.Retrieval.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.Bool("include_context", cfg.RAG.IncludeContext),
	)

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.Shutdown(); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}

	if runner != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := runner.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Feedback runner did not drain", zap.Error(err))
		}
		cancel()
	}
	appLogger.Info("Server stopped")
}

// completionGuard is the request-path policy for answer generation.
func completionGuard(cfg *config.Config) llm.GuardConfig {
	return llm.GuardConfig{
		Timeout:         time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		MaxAttempts:     cfg.LLM.MaxAttempts,
		BreakerFailures: cfg.LLM.BreakerFailures,
	}
}

// judgeGuard is the policy for post-hoc feedback scoring.
func judgeGuard(cfg *config.Config) llm.GuardConfig {
	return llm.GuardConfig{
		Name:            "judge-" + cfg.Feedback.Provider,
		Timeout:         time.Duration(cfg.Feedback.TimeoutSec) * time.Second,
		MaxAttempts:     cfg.Feedback.MaxAttempts,
		BreakerFailures: cfg.LLM.BreakerFailures,
	}
}

// guardrailGuard scores with the judge model under the request-path policy.
func guardrailGuard(cfg *config.Config) llm.GuardConfig {
	g := completionGuard(cfg)
	g.Name = "guardrail-" + cfg.Feedback.Provider
	return g
}

func newCompleter(provider string, session *warehouse.Session, cfg config.LLMConfig, guard llm.GuardConfig) llm.Completer {
	if provider == "openai" {
		return newOpenAIClient(cfg, guard)
	}
	return llm.NewCortexClient(session.DB(), guard)
}

func newOpenAIClient(cfg config.LLMConfig, guard llm.GuardConfig) *llm.OpenAIClient {
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		Guard:          guard,
	})
}
