package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/parley/internal/admission"
	"github.com/haasonsaas/parley/internal/audit"
	"github.com/haasonsaas/parley/internal/completion"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/counter"
	"github.com/haasonsaas/parley/internal/docstore"
	"github.com/haasonsaas/parley/internal/embedding"
	"github.com/haasonsaas/parley/internal/gateway"
	"github.com/haasonsaas/parley/internal/ingest"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/orchestrator"
	"github.com/haasonsaas/parley/internal/retrieval"
	"github.com/haasonsaas/parley/internal/router"
	"github.com/haasonsaas/parley/internal/runtime"
	"github.com/haasonsaas/parley/internal/threadstore"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/internal/usage"
	"github.com/haasonsaas/parley/internal/vectorindex"
	"github.com/haasonsaas/parley/pkg/models"
)

const (
	janitorSchedule = "@every 10m"
	rollupSchedule  = "5 0 * * *"
)

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	tracer, shutdownTracing, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	// Counters back rate limits and quotas; redis shares them across
	// replicas, memory is single-process.
	var counters counter.Store = counter.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		counters = counter.NewRedisStore(client, "parley")
	}

	var threads threadstore.Store = threadstore.NewMemoryStore()
	if cfg.Database.URL != "" {
		pg, err := threadstore.NewPostgresStore(cfg.Database.URL,
			cfg.Database.MaxConnections, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		threads = pg
	}
	docs := docstore.NewMemoryStore()

	var index vectorindex.Index = vectorindex.NewMemoryIndex()
	if cfg.Database.VectorPath != "" {
		sqlIndex, err := vectorindex.NewSQLiteIndex(cfg.Database.VectorPath)
		if err != nil {
			return fmt.Errorf("vector index: %w", err)
		}
		defer sqlIndex.Close()
		index = sqlIndex
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	rt, err := buildRouter(cfg, logger, metrics)
	if err != nil {
		return err
	}

	pools := runtime.New(runtime.Config{
		IngestWorkers:  cfg.Runtime.IngestWorkers,
		IngestQueue:    cfg.Runtime.IngestQueue,
		SubtaskWorkers: cfg.Runtime.SubtaskWorkers,
		ToolWorkers:    cfg.Runtime.ToolWorkers,
	})

	pipeline := ingest.NewPipeline(ingest.Config{
		MaxDocumentSizeBytes: cfg.Knowledge.MaxDocumentSizeBytes,
		EmbeddingBatchSize:   cfg.Knowledge.EmbeddingBatchSize,
		SyncChunkLimit:       cfg.Knowledge.SyncChunkLimit,
		SyncContentLimit:     cfg.Knowledge.SyncContentLimit,
	}, docs, index, embedder, pools.Ingest, logger, metrics)

	retriever := retrieval.NewService(retrieval.Config{
		TopKMax: cfg.Knowledge.VectorTopKMax,
	}, docs, index, embedder, logger, metrics)

	registry := tools.NewRegistry()
	executor := tools.NewExecutor(tools.Config{
		DefaultTimeout:     cfg.MCP.DefaultTimeout,
		MaxTimeout:         cfg.MCP.MaxTimeout,
		RateLimitMax:       cfg.MCP.RateLimitPerMin,
		RateLimitWindow:    time.Minute,
		Workers:            cfg.Runtime.ToolWorkers,
		TenantSharePercent: cfg.Runtime.ToolTenantShare,
	}, registry, counters, tools.NewMemoryCallLog(),
		map[models.ToolKind]tools.Runner{
			models.ToolKindHTTP: tools.NewHTTPRunner(nil),
			models.ToolKindFunc: tools.NewFuncRunner(),
		}, pools.Tools, logger, metrics)

	admitter := admission.NewController(admission.Config{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		MaxPromptTokens:  cfg.Chat.MaxPromptTokens,
		RateLimitMax:     cfg.Chat.RateLimitMax,
		RateLimitWindow:  cfg.Chat.RateLimitWindow,
	}, counters, logger, metrics)

	orch := orchestrator.New(orchestrator.Config{
		HistoryLimit:    cfg.Chat.HistoryTurns,
		RetrieveTimeout: cfg.Chat.RetrieveTimeout,
		ToolsTimeout:    cfg.Chat.ToolsTimeout,
		FlowTimeout:     cfg.Chat.FlowTimeout,
	}, threads, admitter, retriever, executor, nil, rt, pools.Subtask, logger, metrics)

	recorder := audit.NewSlogRecorder(os.Stdout, 0)
	defer recorder.Close()

	janitor, err := vectorindex.NewJanitor(index, docs, janitorSchedule, logger, metrics)
	if err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	rollup, err := usage.NewRollup(threads, recorder, rollupSchedule, logger)
	if err != nil {
		return fmt.Errorf("usage rollup: %w", err)
	}
	rollup.Start()
	defer rollup.Stop()

	server := gateway.NewServer(orch, pipeline, docs, retriever, executor, recorder, logger)
	server.SetTracer(tracer)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "api server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info(ctx, "metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "api server shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "metrics server shutdown", "error", err)
	}
	return pools.Shutdown(shutdownCtx)
}

// buildEmbedder selects the embedding backend: the openai provider when
// configured, otherwise a deterministic in-process embedder suitable for
// development.
func buildEmbedder(cfg *config.Config) (embedding.Provider, error) {
	for _, p := range cfg.LLM.Providers {
		if !p.Enabled || p.Name != "openai" {
			continue
		}
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:  p.APIKey,
			BaseURL: p.Endpoint,
			Model:   cfg.Knowledge.DefaultEmbeddingModel,
		})
	}
	return embedding.NewLocalProvider(256), nil
}

func buildRouter(cfg *config.Config, logger *observability.Logger,
	metrics *observability.Metrics) (*router.Router, error) {

	rt := router.New(router.Config{
		Balancing:       cfg.LLM.Balancing,
		FailoverEnabled: cfg.LLM.FailoverEnabled,
	}, logger, metrics)

	registered := 0
	for _, p := range cfg.LLM.Providers {
		if !p.Enabled {
			continue
		}
		weight := p.Weight
		if weight <= 0 {
			weight = 1
		}
		switch p.Name {
		case "anthropic":
			provider, err := completion.NewAnthropicProvider(completion.AnthropicConfig{
				APIKey:  p.APIKey,
				BaseURL: p.Endpoint,
				Models:  p.Models,
			})
			if err != nil {
				return nil, err
			}
			rt.Register(provider, p.Prefixes, weight)
		case "openai":
			provider, err := completion.NewOpenAIProvider(completion.OpenAIConfig{
				APIKey:  p.APIKey,
				BaseURL: p.Endpoint,
				Models:  p.Models,
			})
			if err != nil {
				return nil, err
			}
			rt.Register(provider, p.Prefixes, weight)
		default:
			return nil, fmt.Errorf("llm provider %q is not supported", p.Name)
		}
		registered++
	}
	if registered == 0 {
		// No providers configured; the scripted stub keeps development
		// setups functional end to end.
		rt.Register(completion.NewStubProvider("parley is running without a configured LLM provider"), nil, 1)
	}
	return rt, nil
}
