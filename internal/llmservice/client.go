package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// ContentGenerator is the part of a langchaingo model the service calls
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Factory builds the client for one model
type Factory func(cfg config.LLMConfig, model string) (ContentGenerator, error)

var thinkTag = regexp.MustCompile(models.ThinkTag)

// Registry resolves model identifiers from the configured closed set and
// caches one client per model.
type Registry struct {
	cfg     config.LLMConfig
	factory Factory

	mu      sync.Mutex
	clients map[string]ContentGenerator
}

func NewRegistry(cfg config.LLMConfig) *Registry {
	return NewRegistryWithFactory(cfg, NewClient)
}

func NewRegistryWithFactory(cfg config.LLMConfig, factory Factory) *Registry {
	return &Registry{cfg: cfg, factory: factory, clients: map[string]ContentGenerator{}}
}

// NewClient creates a langchaingo client for model using the configured provider
func NewClient(cfg config.LLMConfig, model string) (ContentGenerator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		if !HasCredential(cfg.Key) {
			return nil, fmt.Errorf("%w: no api key configured", models.ErrGenerationUnavailable)
		}
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
		}
		return llm, nil
	case "ollama":
		llm, err := ollama.New(ollama.WithServerURL(cfg.BaseURL), ollama.WithModel(model))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", models.ErrGenerationUnavailable, cfg.Provider)
	}
}

// HasCredential reports whether key looks like a real credential rather than
// an empty value or a template placeholder.
func HasCredential(key string) bool {
	k := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(key, "Bearer ")))
	return k != "" && !strings.HasPrefix(k, "your") && !strings.Contains(k, "api-key-here")
}

// Configured reports whether generation can be attempted at all
func (r *Registry) Configured() bool {
	return strings.EqualFold(r.cfg.Provider, "ollama") || HasCredential(r.cfg.Key)
}

func (r *Registry) Default() string { return r.cfg.DefaultModel }

func (r *Registry) Models() []string { return slices.Clone(r.cfg.Models) }

// Resolve maps an empty identifier to the default model and rejects anything
// outside the configured set with models.ErrInvalidInput.
func (r *Registry) Resolve(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return r.cfg.DefaultModel, nil
	}
	if !slices.Contains(r.cfg.Models, model) {
		return "", fmt.Errorf("%w: unknown model %q, expected one of %v", models.ErrInvalidInput, model, r.cfg.Models)
	}
	return model, nil
}

// Client returns the cached client for model, building it on first use.
// Failed builds are not cached.
func (r *Registry) Client(model string) (ContentGenerator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	c, err := r.factory(r.cfg, model)
	if err != nil {
		return nil, err
	}
	r.clients[model] = c
	log.Debug().Str("model", model).Str("provider", r.cfg.Provider).Msg("llm client created")
	return c, nil
}

// CallOptions are the sampling options applied to every generation
func (r *Registry) CallOptions() []llms.CallOption {
	var opts []llms.CallOption
	if r.cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(r.cfg.Temperature))
	}
	if r.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(r.cfg.MaxTokens))
	}
	return opts
}

// Generate runs one completion for model and returns its text with any
// reasoning block removed.
func (r *Registry) Generate(ctx context.Context, model string, messages []llms.MessageContent) (string, error) {
	client, err := r.Client(model)
	if err != nil {
		return "", err
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := GenerateContent(ctx, client, messages, r.CallOptions()...)
	log.Debug().
		Str("model", model).
		Dur("duration", time.Since(start)).
		Bool("ok", err == nil).
		Msg("generation finished")
	return text, err
}

// GenerateContent calls the model and returns the first choice. Failures and
// empty responses are reported as models.ErrGenerationUnavailable.
func GenerateContent(ctx context.Context, llm ContentGenerator, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	res, err := llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationUnavailable)
	}
	return StripThinking(res.Choices[0].Content), nil
}

// StripThinking removes <think> blocks some models emit before the answer
func StripThinking(s string) string {
	return strings.TrimSpace(thinkTag.ReplaceAllString(s, ""))
}

// HumanMessage and SystemMessage build single text-part messages
func HumanMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeHuman, text)
}

func SystemMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeSystem, text)
}

func AIMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeAI, text)
}
