package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/llmservice"
	"document-qa/internal/models"
)

const (
	OutcomeAnswered    = "answered"
	OutcomeSocial      = "social"
	OutcomeNoDocuments = "no_documents"
	OutcomeFallback    = "fallback"
)

// Synthesis is the answer to a turn. Outcome tells how it was produced and
// Err carries the failure behind a fallback answer.
type Synthesis struct {
	Answer  string
	Outcome string
	Used    []models.Chunk
	Err     error
}

// Synthesizer writes answers grounded on retrieved chunks
type Synthesizer struct {
	gen             Generator
	maxContextChars int
	persona         string
}

func NewSynthesizer(gen Generator, maxContextChars int, persona string) *Synthesizer {
	if persona == "" {
		persona = models.PersonaStructured
	}
	return &Synthesizer{gen: gen, maxContextChars: maxContextChars, persona: persona}
}

// Synthesize answers question from chunks. It never fails: without relevant
// chunks it returns the fixed no-documents answer and when generation is not
// possible it returns the fallback notice.
func (s *Synthesizer) Synthesize(ctx context.Context, model, question string, chunks []models.Chunk, history []models.Turn) Synthesis {
	social := IsSocial(question)
	if !social && len(chunks) == 0 {
		return Synthesis{Answer: models.NoDocumentsAnswer, Outcome: OutcomeNoDocuments}
	}

	var (
		system  string
		used    []models.Chunk
		outcome = OutcomeAnswered
	)
	if social {
		system = models.SocialPrompt
		outcome = OutcomeSocial
	} else {
		var block string
		block, used = BuildContext(chunks, s.maxContextChars)
		system = strings.Replace(s.prompt(), "{context}", block, 1)
	}

	if s.gen == nil {
		return s.fallback(fmt.Errorf("%w: no generator", models.ErrGenerationUnavailable))
	}

	messages := []llms.MessageContent{llmservice.SystemMessage(system)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llmservice.HumanMessage(question))

	answer, err := s.gen.Generate(ctx, model, messages)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = fmt.Errorf("%w: empty answer", models.ErrGenerationUnavailable)
	}
	if err != nil {
		return s.fallback(err)
	}
	return Synthesis{Answer: answer, Outcome: outcome, Used: used}
}

func (s *Synthesizer) prompt() string {
	if s.persona == models.PersonaConversational {
		return models.ConversationalQAPrompt
	}
	return models.StructuredQAPrompt
}

func (s *Synthesizer) fallback(err error) Synthesis {
	log.Warn().Err(err).Str("stage", "synthesize").Msg("generation failed, returning fallback answer")
	return Synthesis{Answer: models.FallbackAnswer, Outcome: OutcomeFallback, Err: err}
}

// BuildContext joins chunk texts in the given order, each under a provenance
// header, within maxChars characters. Chunks that do not fit are dropped from
// the tail; a first chunk larger than the budget is truncated. It returns the
// block and the chunks it includes.
func BuildContext(chunks []models.Chunk, maxChars int) (string, []models.Chunk) {
	var b strings.Builder
	used := make([]models.Chunk, 0, len(chunks))
	size := 0
	for i, c := range chunks {
		entry := chunkHeader(c) + c.Text
		if i > 0 {
			entry = models.ContextSeparator + entry
		}
		n := utf8.RuneCountInString(entry)
		if maxChars > 0 && size+n > maxChars {
			if i == 0 {
				b.WriteString(truncateRunes(entry, maxChars))
				used = append(used, c)
			}
			break
		}
		b.WriteString(entry)
		size += n
		used = append(used, c)
	}
	return b.String(), used
}

func chunkHeader(c models.Chunk) string {
	name := c.Filename
	if name == "" {
		name = fmt.Sprintf("document %d", c.DocumentID)
	}
	return fmt.Sprintf("[%s, chunk %d/%d]\n", name, c.ChunkIndex+1, c.ChunkCount)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
