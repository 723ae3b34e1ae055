package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/api/handlers"
	"github.com/medical-control-plane/backend/internal/cache/redis"
	"github.com/medical-control-plane/backend/internal/confidence"
	"github.com/medical-control-plane/backend/internal/embedding"
	"github.com/medical-control-plane/backend/internal/fetch"
	"github.com/medical-control-plane/backend/internal/ingestion"
	"github.com/medical-control-plane/backend/internal/intent"
	"github.com/medical-control-plane/backend/internal/llm"
	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/internal/middleware/ratelimit"
	"github.com/medical-control-plane/backend/internal/middleware/security"
	"github.com/medical-control-plane/backend/internal/middleware/validation"
	"github.com/medical-control-plane/backend/internal/pipeline"
	"github.com/medical-control-plane/backend/internal/rerank"
	"github.com/medical-control-plane/backend/internal/retrieval"
	"github.com/medical-control-plane/backend/internal/storage/sqlite"
	"github.com/medical-control-plane/backend/internal/tokenizer"
	"github.com/medical-control-plane/backend/internal/tools"
	"github.com/medical-control-plane/backend/internal/vector/milvus"
	"github.com/medical-control-plane/backend/pkg/config"
	appLogger "github.com/medical-control-plane/backend/pkg/logger"
)

// vectorIndex is satisfied by both the Milvus client and milvus.Disabled.
type vectorIndex interface {
	ingestion.Index
	retrieval.Searcher
	Ping(ctx context.Context) error
}

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

	appLogger.Info("Starting Medical Control Plane API Server")
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

	checks := map[string]handlers.Check{
		"sqlite": sqliteClient.Ping,
	}

	var index vectorIndex = milvus.Disabled{}
	if cfg.Milvus.Enabled {
		milvusClient, err := milvus.NewClient(ctx,
			cfg.Milvus.Endpoint,
			cfg.Milvus.APIKey,
			cfg.Milvus.CollectionName,
			cfg.Milvus.VectorDim,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		if err := milvusClient.EnsureCollection(ctx); err != nil {
			appLogger.Fatal("Failed to prepare collection", zap.Error(err))
		}
		index = milvusClient
		checks["milvus"] = milvusClient.Ping
	} else {
		appLogger.Warn("Milvus disabled; ingestion and retrieval will report not configured")
	}

	provider := embedding.NewProvider(embedding.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		BatchSize:  cfg.Embedding.BatchSize,
		BatchDelay: time.Duration(cfg.Embedding.BatchDelayMs) * time.Millisecond,
	})

	var embedder embedding.Embedder = provider
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			embedder = embedding.NewCachedEmbedder(provider, redisClient, cfg.Embedding.Model,
				time.Duration(cfg.Embedding.CacheTTLSec)*time.Second)
			checks["redis"] = redisClient.Ping
		}
	}

	chunker := ingestion.NewChunker(tokenizer.New(cfg.Chunking.Encoding), ingestion.Options{
		ChunkSize:         cfg.Chunking.ChunkSize,
		Overlap:           cfg.Chunking.Overlap,
		RespectBoundaries: cfg.Chunking.RespectBoundaries,
	})
	ingester := ingestion.NewService(chunker, embedder, index, sqliteClient)

	reranker := rerank.New(rerank.Config{
		Enabled:          cfg.Rerank.Enabled,
		Endpoint:         cfg.Rerank.Endpoint,
		Model:            cfg.Rerank.Model,
		APIKey:           cfg.Rerank.APIKey,
		MaxDocumentChars: cfg.Rerank.MaxDocumentChars,
		Timeout:          time.Duration(cfg.Rerank.TimeoutSec) * time.Second,
	})

	retriever := retrieval.NewRetriever(retrieval.Config{
		TopK:     cfg.Retrieval.TopK,
		MinScore: cfg.Retrieval.MinScore,
	}, embedder, index, reranker, sqliteClient)

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	var completer intent.Completer
	if llmClient.Configured() {
		completer = llmClient
	}
	classifier := intent.NewClassifier(intent.Config{
		NLUConfidenceFloor: cfg.Intent.NLUConfidenceFloor,
		ToolConfidence:     cfg.Intent.ToolConfidence,
	}, completer)

	scorer := confidence.NewScorer(confidence.Config{
		RecentYears:                cfg.Confidence.RecentYears,
		AuthoritativeOrganizations: cfg.Confidence.AuthoritativeOrganizations,
	})

	orchestrator, err := tools.NewOrchestrator(tools.LogRecorder{}, tools.Builtin())
	if err != nil {
		appLogger.Fatal("Failed to register clinical tools", zap.Error(err))
	}

	policy := access.DefaultPolicy()
	queryPipeline := pipeline.New(classifier, retriever, scorer, orchestrator, policy)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + handlers.RoleHeader + ", X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.Host == "localhost" || cfg.Server.Host == "127.0.0.1",
	}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
	}))

	api := app.Group("/api/v1")
	handlers.Register(api, handlers.Handlers{
		Query:    handlers.NewQueryHandler(queryPipeline, classifier),
		Document: handlers.NewDocumentHandler(ingester, fetch.NewClient(30*time.Second), policy),
		Tools:    handlers.NewToolsHandler(orchestrator, policy),
		Sources:  handlers.NewSourcesHandler(sqliteClient, policy),
		Health:   handlers.NewHealthHandler(checks),
		Metrics:  metrics.MetricsHandler(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
