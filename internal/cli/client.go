package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"multi-complete/internal/config"
	"multi-complete/internal/llm"
	"multi-complete/internal/memory"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultOpenAIURL    = "https://api.openai.com/v1"
	defaultAnthropicURL = "https://api.anthropic.com"
	defaultGeminiURL    = "https://generativelanguage.googleapis.com"

	defaultHTTPTimeout     = 2 * time.Minute
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Swapped in tests.
var (
	clientFactory   = newLLMClient
	embedderFactory = newEmbedder
	storeFactory    = newMemoryStore
)

func newLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	httpClient := newHTTPClient(cfg.Timeout)
	switch cfg.Type {
	case "", config.TypeOpenAI:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:        firstNonEmpty(cfg.URL, defaultOpenAIURL),
			Token:          cfg.Token,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			HTTPClient:     httpClient,
			Retry:          cfg.Retry,
		})
	case config.TypeAzure:
		return llm.NewAzureClient(llm.AzureConfig{
			Endpoint:            cfg.URL,
			Token:               cfg.Token,
			Deployment:          cfg.Model,
			EmbeddingDeployment: cfg.EmbeddingModel,
			APIVersion:          cfg.APIVersion,
			HTTPClient:          httpClient,
			Retry:               cfg.Retry,
		})
	case config.TypeHuggingFace:
		return llm.NewHuggingFaceClient(llm.HuggingFaceConfig{
			BaseURL:        cfg.URL,
			ChatURL:        cfg.ChatURL,
			Token:          cfg.Token,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			HTTPClient:     httpClient,
			Retry:          cfg.Retry,
		})
	case config.TypeAnthropic:
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			BaseURL:    firstNonEmpty(cfg.URL, defaultAnthropicURL),
			Token:      cfg.Token,
			Model:      cfg.Model,
			Version:    cfg.APIVersion,
			HTTPClient: httpClient,
			Retry:      cfg.Retry,
		})
	case config.TypeGemini:
		return llm.NewGeminiClient(llm.GeminiConfig{
			BaseURL:    firstNonEmpty(cfg.URL, defaultGeminiURL),
			Token:      cfg.Token,
			Model:      cfg.Model,
			HTTPClient: httpClient,
			Retry:      cfg.Retry,
		})
	default:
		return nil, fmt.Errorf("unsupported llm.type: %s", cfg.Type)
	}
}

func newEmbedder(cfg config.LLMConfig) (llm.Embedder, error) {
	client, err := newLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	embedder, ok := client.(llm.Embedder)
	if !ok {
		return nil, fmt.Errorf("llm.type %s does not support embeddings", cfg.Type)
	}
	return embedder, nil
}

// newMemoryStore returns the configured store and a func releasing it.
func newMemoryStore(ctx context.Context, cfg config.MemoryConfig) (memory.Store, func(), error) {
	switch cfg.Store {
	case "", config.StoreFile:
		store, err := memory.NewFileStore(cfg.File.Path)
		if err != nil {
			return nil, nil, err
		}
		zerolog.Ctx(ctx).Debug().Str("path", cfg.File.Path).Msg("using file memory store")
		return store, func() {}, nil
	case config.StoreVolatile:
		zerolog.Ctx(ctx).Warn().Msg("using volatile memory store, records last for this process only")
		return memory.NewVolatileStore(), func() {}, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		zerolog.Ctx(ctx).Debug().Str("addr", cfg.Redis.Addr).Msg("redis connected")
		return memory.NewRedisStore(client, cfg.Redis.Prefix), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported memory.store: %s", cfg.Store)
	}
}

// newHTTPClient bounds the wait for response headers only. Streamed bodies
// can run longer and are cut off by context cancellation instead.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
	}
}
