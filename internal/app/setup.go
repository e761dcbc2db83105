package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/parleyhq/parley/db"
	httpapi "github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/deployment"
	"github.com/parleyhq/parley/internal/index"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/rerank"
	"github.com/parleyhq/parley/internal/security"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/tools"
)

// Setup creates and initializes the application. The returned App owns its
// resources; call Close to release them. On error everything already
// initialized is cleaned up before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelShutdown = setupTracing(ctx, cfg.OTel, logger)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := setupGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	var indexStore *index.Store
	if g != nil {
		embedder := setupEmbedder(g, cfg)
		if embedder == nil {
			return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
		}
		a.Embedder = embedder
		indexStore = index.New(index.NewQueries(pool), embedder, logger.With("component", "index"))
	}

	registry, err := setupRegistry(cfg, indexStore, logger)
	if err != nil {
		return nil, err
	}

	dep, err := setupDeployment(g, cfg, registry, logger)
	if err != nil {
		return nil, err
	}

	reranker, err := setupReranker(cfg, logger)
	if err != nil {
		return nil, err
	}

	convStore := conversation.New(conversation.NewQueries(pool), pool, logger.With("component", "conversation"))
	reducer := stream.New(convStore, logger.With("component", "reducer"))

	svc, err := chat.New(dep, registry, reranker, convStore, reducer, logger.With("component", "chat"), chat.Config{
		MaxTurns:     cfg.MaxTurns,
		HistoryLimit: cfg.MaxHistoryMessages,
		Chunk: collate.ChunkConfig{
			CompactMode:   cfg.CompactChunks,
			SoftWordLimit: cfg.SoftWordLimit,
			HardWordLimit: cfg.HardWordLimit,
		},
	})
	if err != nil {
		return nil, err
	}
	a.Chat = svc

	server, err := httpapi.New(httpapi.Config{
		Logger:        logger.With("component", "api"),
		Chat:          svc,
		Conversations: convStore,
		Pinger:        pool,
		CORSOrigins:   cfg.CORSOrigins,
		TrustProxy:    cfg.TrustProxy,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return nil, err
	}
	a.Server = server

	return a, nil
}

// setupTracing wires an OTLP HTTP exporter into Genkit's tracer provider.
// An empty endpoint disables exporting and returns a no-op shutdown.
func setupTracing(ctx context.Context, cfg config.OTelConfig, logger log.Logger) func() {
	if cfg.Endpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace exporting enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// setupGenkit initializes Genkit with the configured provider plugin. The
// echo provider needs no model backend and returns a nil instance.
func setupGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderEcho:
		return nil, nil

	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)

	default: // googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	}

	return g, nil
}

// setupEmbedder looks up the embedder registered by the provider plugin.
func setupEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// setupRegistry builds the tool registry. Tools whose backing service is
// not configured are left out.
func setupRegistry(cfg *config.Config, indexStore *index.Store, logger log.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger.With("component", "tools"))

	if cfg.SearXNG.BaseURL != "" {
		ws, err := tools.NewWebSearch(tools.WebSearchConfig{
			BaseURL:    cfg.SearXNG.BaseURL,
			MaxResults: cfg.SearXNG.MaxResults,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating web search tool: %w", err)
		}
		if err := registry.Register(ws); err != nil {
			return nil, err
		}
	}

	wf, err := tools.NewWebFetch(tools.WebFetchConfig{}, security.NewURLPolicy(logger.With("component", "security")), logger)
	if err != nil {
		return nil, fmt.Errorf("creating web fetch tool: %w", err)
	}
	if err := registry.Register(wf); err != nil {
		return nil, err
	}

	if indexStore != nil {
		if err := registry.Register(index.NewSearchTool(indexStore, cfg.IndexTopK)); err != nil {
			return nil, err
		}
	}

	logger.Info("tools registered", "tools", registry.Names())
	return registry, nil
}

// setupDeployment builds the model deployment, registering the registry's
// tools with Genkit so their declarations reach the model. Tool execution
// stays with the chat service; Genkit only returns the requests.
func setupDeployment(g *genkit.Genkit, cfg *config.Config, registry *tools.Registry, logger log.Logger) (deployment.Deployment, error) {
	if cfg.Provider == config.ProviderEcho {
		return &deployment.Echo{}, nil
	}

	refs := make([]ai.ToolRef, 0, len(registry.Names()))
	for _, t := range registry.Tools() {
		refs = append(refs, genkit.DefineTool(g, t.Name(), t.Description(),
			func(toolCtx *ai.ToolContext, params map[string]any) (map[string]any, error) {
				outputs, err := t.Call(toolCtx.Context, params)
				if err != nil {
					return nil, err
				}
				return map[string]any{"outputs": outputs}, nil
			},
		))
	}

	return deployment.NewGenkit(g, cfg.FullModelName(), refs, logger.With("component", "deployment"))
}

// setupReranker builds the rerank client, disabled when unconfigured.
func setupReranker(cfg *config.Config, logger log.Logger) (*rerank.Client, error) {
	if cfg.Reranker.BaseURL == "" {
		return rerank.Disabled(), nil
	}
	client, err := rerank.New(rerank.Config{
		BaseURL:           cfg.Reranker.BaseURL,
		APIKey:            cfg.Reranker.APIKey,
		Model:             cfg.Reranker.Model,
		RequestsPerSecond: cfg.Reranker.RequestsPerSecond,
	}, logger.With("component", "rerank"))
	if err != nil {
		return nil, fmt.Errorf("creating rerank client: %w", err)
	}
	return client, nil
}
