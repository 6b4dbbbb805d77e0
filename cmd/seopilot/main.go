package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/api"
	"github.com/seopilot/seopilot/internal/cache"
	"github.com/seopilot/seopilot/internal/config"
	"github.com/seopilot/seopilot/internal/embedding"
	"github.com/seopilot/seopilot/internal/llm"
	"github.com/seopilot/seopilot/internal/notify"
	"github.com/seopilot/seopilot/internal/orchestrator"
	"github.com/seopilot/seopilot/internal/registry"
	"github.com/seopilot/seopilot/internal/resource"
	"github.com/seopilot/seopilot/internal/retrieval"
	pgstore "github.com/seopilot/seopilot/internal/store"
	"github.com/seopilot/seopilot/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting SEOPilot...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/seopilot.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// LLM provider router
	llmRouter := llm.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := llm.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		switch pc.Type {
		case "openai":
			llmRouter.Register(llm.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			llmRouter.Register(llm.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Cache: Redis when configured, in-process memory otherwise.
	var cacheStore cache.Cache
	if cfg.Database.Redis.URL != "" {
		rc, rErr := cache.NewRedis(cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, using in-memory cache", zap.Error(rErr))
		} else {
			cacheStore = rc
		}
	}
	if cacheStore == nil {
		cacheStore = cache.NewMemory(time.Minute, logger)
	}
	defer cacheStore.Close()

	// Qdrant mirror for retrieval indexes.
	var vectors *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		vc, vErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if vErr != nil {
			logger.Warn("Qdrant unavailable, indexes stay in-process", zap.Error(vErr))
		} else {
			vectors = vc
			defer vectors.Close()
		}
	}

	// Task audit trail.
	var audit *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without audit trail", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background()); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			audit = ps
			defer audit.Close()
		}
	}

	// Embedding client backing retrieval.
	var embedder embedding.Client
	if cfg.Embedding.Endpoint != "" {
		embedder = embedding.NewAPIClient(embedding.Config{
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
		})
	} else {
		logger.Warn("no embedding endpoint configured, using local hash embedder")
		embedder = embedding.NewLocalClient(embedding.Config{Dimension: cfg.Embedding.Dimension})
	}

	var notifier *notify.Slack
	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.BotToken != "" {
		notifier = notify.NewSlack(cfg.Alerts.Slack.BotToken, cfg.Alerts.Slack.Channel, logger)
		logger.Info("Slack alerts enabled", zap.String("channel", cfg.Alerts.Slack.Channel))
	}

	reg := registry.New(logger)
	orch := orchestrator.New(orchestrator.Config{
		Router: orchestrator.RouterConfig{
			Weights: orchestrator.Weights{
				W1: cfg.Routing.W1, W2: cfg.Routing.W2, W3: cfg.Routing.W3,
			},
			QueueCeiling: cfg.Routing.QueueDepthCeiling,
		},
		Resource: resource.ProviderConfig{
			CacheTTL:       cfg.Resource.CacheTTL(),
			FallbackTTL:    cfg.Resource.FallbackTTL(),
			MaxRetries:     cfg.Resource.MaxRetries,
			RequestTimeout: cfg.Resource.RequestTimeout(),
		},
		TopK:               cfg.Retrieval.TopK,
		Threshold:          float32(cfg.Retrieval.SimilarityThreshold),
		ChunkSize:          cfg.Retrieval.ChunkSize,
		Overlap:            cfg.Retrieval.ChunkOverlap,
		EscalationAttempts: cfg.Routing.EscalationAttempts,
		EscalationDelay:    time.Duration(cfg.Routing.EscalationDelayMS) * time.Millisecond,
		ResourceEndpoint:   cfg.Resource.Endpoint,
		ResourceAPIKey:     cfg.Resource.APIKey,
	}, reg, llmRouter, embedder, cacheStore, vectors, audit, notifier, logger)

	// Register configured agents.
	for _, ac := range cfg.Agents {
		spec := orchestrator.AgentSpec{
			ID:              ac.ID,
			Tier:            registry.Tier(ac.Tier),
			Capabilities:    ac.Capabilities,
			MaxConcurrent:   ac.MaxConcurrent,
			Model:           ac.Model,
			EnableRetrieval: ac.EnableRetrieval,
			EnableProvider:  ac.EnableProvider,
			Knowledge:       loadKnowledge(ac.KnowledgeFiles, logger),
		}
		desc, aErr := orch.CreateAgent(context.Background(), spec)
		if aErr != nil {
			logger.Error("agent creation failed", zap.String("id", ac.ID), zap.Error(aErr))
			continue
		}
		if ac.Provider != "" {
			llmRouter.Bind(desc.ID, ac.Provider)
		}
	}

	handler := api.NewHandler(orch, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("SEOPilot listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down SEOPilot...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// loadKnowledge reads agent knowledge files; missing files are logged
// and skipped so one bad path never blocks startup.
func loadKnowledge(paths []string, logger *zap.Logger) []retrieval.Document {
	var docs []retrieval.Document
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			logger.Warn("knowledge file skipped", zap.String("path", p), zap.Error(err))
			continue
		}
		docs = append(docs, retrieval.Document{
			Text:     string(data),
			Metadata: map[string]string{"source": p},
		})
	}
	return docs
}
