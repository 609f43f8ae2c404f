package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// Provider turns text into fixed-dimension vectors
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Builder constructs the backend client on first use
type Builder func() (embeddings.Embedder, error)

const (
	StateNotInitialized = "not_initialized"
	StateReady          = "ready"
	StateUnavailable    = "unavailable"
)

// LazyEmbedder defers building its backend until the first embedding call.
// Concurrent first calls build it once. Every returned vector has the configured
// dimension; anything else is reported as models.ErrEmbeddingUnavailable.
type LazyEmbedder struct {
	build       Builder
	dimension   int
	timeout     time.Duration
	batchSize   int
	concurrency int

	once    sync.Once
	mu      sync.RWMutex
	inner   embeddings.Embedder
	initErr error
}

func NewLazyEmbedder(cfg config.EmbeddingConfig, build Builder) *LazyEmbedder {
	e := &LazyEmbedder{
		build:       build,
		dimension:   cfg.Dimension,
		timeout:     cfg.Timeout,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}
	if e.batchSize <= 0 {
		e.batchSize = 32
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	return e
}

// New returns a lazy provider for the backend named in cfg.Provider
func New(cfg config.EmbeddingConfig) (*LazyEmbedder, error) {
	build, err := BuilderFor(cfg)
	if err != nil {
		return nil, err
	}
	log.Debug().Interface("config", map[string]any{
		"provider":  cfg.Provider,
		"base_url":  cfg.BaseURL,
		"model":     cfg.Model,
		"dimension": cfg.Dimension,
	}).Msg("embedding provider configured")
	return NewLazyEmbedder(cfg, build), nil
}

// BuilderFor selects the backend constructor: ollama, openai or hash
func BuilderFor(cfg config.EmbeddingConfig) (Builder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return func() (embeddings.Embedder, error) { return NewOllamaEmbedder(cfg) }, nil
	case "openai":
		return func() (embeddings.Embedder, error) { return NewOpenAIEmbedder(cfg) }, nil
	case "hash":
		return func() (embeddings.Embedder, error) { return NewHashEmbedder(cfg.Dimension), nil }, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewOpenAIEmbedder creates an embedder for any OpenAI-compatible endpoint
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*embeddings.EmbedderImpl, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embedderOptions(cfg)...)
}

// NewOllamaEmbedder creates an embedder backed by a local ollama server
func NewOllamaEmbedder(cfg config.EmbeddingConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm, embedderOptions(cfg)...)
}

func embedderOptions(cfg config.EmbeddingConfig) []embeddings.Option {
	if cfg.BatchSize > 0 {
		return []embeddings.Option{embeddings.WithBatchSize(cfg.BatchSize)}
	}
	return nil
}

func (e *LazyEmbedder) client() (embeddings.Embedder, error) {
	e.once.Do(func() {
		inner, err := e.build()
		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.initErr = fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, err)
			log.Error().Err(err).Msg("failed to initialize embedding provider")
			return
		}
		e.inner = inner
		log.Info().Int("dimension", e.dimension).Msg("embedding provider initialized")
	})
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inner, e.initErr
}

// State reports whether the backend has been built
func (e *LazyEmbedder) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch {
	case e.initErr != nil:
		return StateUnavailable
	case e.inner != nil:
		return StateReady
	default:
		return StateNotInitialized
	}
}

func (e *LazyEmbedder) Dimension() int { return e.dimension }

func (e *LazyEmbedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func (e *LazyEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	inner, err := e.client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	vec, err := inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, err)
	}
	if err := e.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedDocuments embeds texts in batches, running up to the configured
// concurrency at once. Output order matches input order.
func (e *LazyEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inner, err := e.client()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		start := start
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			bctx, cancel := e.withTimeout(gctx)
			defer cancel()

			vecs, err := inner.EmbedDocuments(bctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: batch %d-%d: %w", models.ErrEmbeddingUnavailable, start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbeddingUnavailable, len(vecs), end-start)
			}
			for i, v := range vecs {
				if err := e.checkDimension(v); err != nil {
					return err
				}
				out[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *LazyEmbedder) checkDimension(vec []float32) error {
	if len(vec) != e.dimension {
		return fmt.Errorf("%w: vector dimension %d, expected %d", models.ErrEmbeddingUnavailable, len(vec), e.dimension)
	}
	return nil
}
