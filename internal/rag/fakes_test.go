package rag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/models"
	"document-qa/internal/retriever"
)

// fakeLLM answers from a script and records every call
type fakeLLM struct {
	mu      sync.Mutex
	models  []string
	respond func(messages []llms.MessageContent) (string, error)
	calls   [][]llms.MessageContent
}

func newFakeLLM(respond func(messages []llms.MessageContent) (string, error)) *fakeLLM {
	return &fakeLLM{models: []string{"gemini-1.5-flash", "gemini-2.0-flash-exp"}, respond: respond}
}

func (f *fakeLLM) Resolve(model string) (string, error) {
	if model == "" {
		return f.models[len(f.models)-1], nil
	}
	if !slices.Contains(f.models, model) {
		return "", fmt.Errorf("%w: unknown model %q", models.ErrInvalidInput, model)
	}
	return model, nil
}

func (f *fakeLLM) Generate(_ context.Context, _ string, messages []llms.MessageContent) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	return f.respond(messages)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) lastCall() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func messageText(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func isReformulation(messages []llms.MessageContent) bool {
	return len(messages) > 0 && messageText(messages[0]) == models.ContextualizePrompt
}

// memHistory is an in-memory history store with injectable failures
type memHistory struct {
	mu        sync.Mutex
	turns     []models.Turn
	loadErr   error
	appendErr error
}

func (h *memHistory) History(_ context.Context, sessionID string, limit int) ([]models.Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loadErr != nil {
		return nil, h.loadErr
	}
	var out []models.Turn
	for _, t := range h.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *memHistory) Append(ctx context.Context, turn models.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.appendErr != nil {
		return h.appendErr
	}
	h.turns = append(h.turns, turn)
	return nil
}

// fakeRetriever returns fixed chunks and records the queries it receives
type fakeRetriever struct {
	mu      sync.Mutex
	chunks  []models.Chunk
	err     error
	queries []string
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string, k int) retriever.Retrieval {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if r.err != nil {
		return retriever.Retrieval{Chunks: []models.Chunk{}, Err: r.err}
	}
	return retriever.Retrieval{Chunks: r.chunks[:min(k, len(r.chunks))]}
}

var errBoom = errors.New("boom")
