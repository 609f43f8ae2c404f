package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/llmservice"
	"document-qa/internal/models"
)

// Generator produces a completion from chat messages with the named model
type Generator interface {
	Generate(ctx context.Context, model string, messages []llms.MessageContent) (string, error)
}

// Reformulation is the standalone form of a question. Err is set when the
// question was kept as is because rewriting failed.
type Reformulation struct {
	Question  string
	Rewritten bool
	Err       error
}

// Reformulator rewrites follow-up questions into standalone ones
type Reformulator struct {
	gen Generator
}

func NewReformulator(gen Generator) *Reformulator {
	return &Reformulator{gen: gen}
}

// Reformulate returns a question that can be understood without history.
// Questions without history and social utterances are returned unchanged
// without calling the model. Every other question goes to the model, which
// returns standalone questions as they are.
func (r *Reformulator) Reformulate(ctx context.Context, model, question string, history []models.Turn) Reformulation {
	unchanged := Reformulation{Question: question}
	if len(history) == 0 || IsSocial(question) {
		return unchanged
	}
	if r.gen == nil {
		unchanged.Err = fmt.Errorf("%w: no generator", models.ErrGenerationUnavailable)
		return unchanged
	}

	messages := []llms.MessageContent{llmservice.SystemMessage(models.ContextualizePrompt)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llmservice.HumanMessage(question))

	out, err := r.gen.Generate(ctx, model, messages)
	if err != nil {
		log.Warn().Err(err).Str("stage", "reformulate").Msg("reformulation failed, using original question")
		unchanged.Err = err
		return unchanged
	}

	rewritten, ok := guardRewrite(question, out)
	if !ok {
		log.Debug().Str("stage", "reformulate").Str("output", out).Msg("rejected reformulation output")
		return unchanged
	}
	return Reformulation{Question: rewritten, Rewritten: rewritten != question}
}

// guardRewrite cleans the model output and rejects anything that looks like
// an answer instead of a question.
func guardRewrite(question, out string) (string, bool) {
	out = strings.TrimSpace(out)
	for _, prefix := range []string{"standalone question:", "question:"} {
		if strings.HasPrefix(strings.ToLower(out), prefix) {
			out = strings.TrimSpace(out[len(prefix):])
		}
	}
	out = strings.Trim(out, "\"'`")
	out = strings.TrimSpace(out)

	switch {
	case out == "":
		return "", false
	case strings.HasPrefix(out, "#") || strings.Contains(out, "\n#"):
		return "", false
	case strings.Contains(out, "\n\n"):
		return "", false
	case len(out) > max(3*len(question), len(question)+200):
		return "", false
	}
	return out, true
}

// historyMessages replays turns as alternating user and assistant messages
func historyMessages(history []models.Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, 2*len(history))
	for _, t := range history {
		out = append(out, llmservice.HumanMessage(t.Question), llmservice.AIMessage(t.Answer))
	}
	return out
}
