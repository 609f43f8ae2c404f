package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/metrics"
	"document-qa/internal/models"
	"document-qa/internal/retriever"
)

const (
	StageReceived     = "received"
	StageReformulated = "reformulated"
	StageRetrieved    = "retrieved"
	StageSynthesized  = "synthesized"
	StageLogged       = "logged"
)

const appendTimeout = 10 * time.Second

// HistoryStore keeps the turns of each session in order
type HistoryStore interface {
	History(ctx context.Context, sessionID string, limit int) ([]models.Turn, error)
	Append(ctx context.Context, turn models.Turn) error
}

// LLM resolves model identifiers and generates completions
type LLM interface {
	Generator
	Resolve(model string) (string, error)
}

// Request is one user turn
type Request struct {
	Question  string
	SessionID string
	Model     string
}

// StageTiming records how a pipeline stage went
type StageTiming struct {
	Stage    string
	Duration time.Duration
	Err      error
}

// TurnResult is the complete outcome of a turn
type TurnResult struct {
	Answer             string
	SessionID          string
	Model              string
	StandaloneQuestion string
	Outcome            string
	Sources            []models.Chunk
	Trace              []StageTiming
}

// Pipeline runs a turn through reformulation, retrieval, synthesis and logging
type Pipeline struct {
	cfg          config.RAGConfig
	llm          LLM
	reformulator *Reformulator
	retriever    retriever.Retriever
	synthesizer  *Synthesizer
	history      HistoryStore
	locks        *sessionLocks
}

func NewPipeline(cfg config.RAGConfig, llm LLM, retr retriever.Retriever, history HistoryStore) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		llm:          llm,
		reformulator: NewReformulator(llm),
		retriever:    retr,
		synthesizer:  NewSynthesizer(llm, cfg.MaxContextChars, cfg.Persona),
		history:      history,
		locks:        newSessionLocks(),
	}
}

// Ask answers one question. Invalid input is rejected with models.ErrInvalidInput
// before any model or index work. When the turn cannot be stored the complete
// result is returned together with models.ErrPersistenceFailure.
func (p *Pipeline) Ask(ctx context.Context, req Request) (TurnResult, error) {
	question, model, err := p.validate(req)
	if err != nil {
		metrics.Turns.WithLabelValues("invalid_input").Inc()
		return TurnResult{}, err
	}

	sessionID, err := resolveSession(req.SessionID)
	if err != nil {
		return TurnResult{}, err
	}
	unlock := p.locks.Lock(sessionID)
	defer unlock()

	logger := log.With().Str("session_id", sessionID).Str("model", model).Logger()
	res := TurnResult{SessionID: sessionID, Model: model}
	turnStart := time.Now()

	trace := func(stage string, start time.Time, err error) {
		res.Trace = append(res.Trace, StageTiming{Stage: stage, Duration: time.Since(start), Err: err})
		metrics.ObserveStage(stage, start)
		if err != nil {
			metrics.Degraded(stage, err)
		}
		logger.Debug().Str("stage", stage).Dur("duration", time.Since(start)).AnErr("degraded", err).Msg("stage done")
	}

	// RECEIVED
	start := time.Now()
	history, herr := p.history.History(ctx, sessionID, p.cfg.HistoryTurns)
	if herr != nil {
		logger.Warn().Err(herr).Msg("failed to load history, continuing without it")
		history = nil
	}
	trace(StageReceived, start, herr)

	// REFORMULATED
	start = time.Now()
	ref := p.reformulator.Reformulate(ctx, model, question, history)
	res.StandaloneQuestion = ref.Question
	trace(StageReformulated, start, ref.Err)

	// RETRIEVED
	start = time.Now()
	found := p.retriever.Retrieve(ctx, ref.Question, p.cfg.TopK)
	trace(StageRetrieved, start, found.Err)

	// SYNTHESIZED
	start = time.Now()
	// social inputs are never rewritten, so the standalone form keeps them social
	syn := p.synthesizer.Synthesize(ctx, model, ref.Question, found.Chunks, history)
	res.Answer = syn.Answer
	res.Outcome = syn.Outcome
	res.Sources = syn.Used
	trace(StageSynthesized, start, syn.Err)

	// LOGGED
	start = time.Now()
	turn := models.Turn{
		SessionID: sessionID,
		Question:  question,
		Answer:    res.Answer,
		ModelUsed: model,
		Timestamp: time.Now().UTC(),
	}
	if err := p.appendTurn(ctx, turn); err != nil {
		perr := fmt.Errorf("%w: %w", models.ErrPersistenceFailure, err)
		trace(StageLogged, start, perr)
		metrics.Turns.WithLabelValues("persistence_failure").Inc()
		logger.Error().Err(err).Msg("failed to store turn")
		return res, perr
	}
	trace(StageLogged, start, nil)

	metrics.Turns.WithLabelValues(res.Outcome).Inc()
	logger.Info().
		Str("outcome", res.Outcome).
		Bool("rewritten", ref.Rewritten).
		Int("chunks", len(found.Chunks)).
		Dur("duration", time.Since(turnStart)).
		Msg("turn answered")
	return res, nil
}

// appendTurn stores the turn even when the caller has gone away
func (p *Pipeline) appendTurn(ctx context.Context, turn models.Turn) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	return p.history.Append(ctx, turn)
}

func (p *Pipeline) validate(req Request) (string, string, error) {
	question := strings.TrimSpace(req.Question)
	n := utf8.RuneCountInString(question)
	if n == 0 {
		return "", "", fmt.Errorf("%w: question must not be empty", models.ErrInvalidInput)
	}
	if p.cfg.MaxQuestionLength > 0 && n > p.cfg.MaxQuestionLength {
		return "", "", fmt.Errorf("%w: question is %d characters, the limit is %d", models.ErrInvalidInput, n, p.cfg.MaxQuestionLength)
	}
	model, err := p.llm.Resolve(req.Model)
	if err != nil {
		return "", "", err
	}
	return question, model, nil
}

// resolveSession keeps a caller supplied id and mints a new one for an empty
// id or the client placeholder.
func resolveSession(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id != "" && id != models.PlaceholderSessionID {
		return id, nil
	}
	return helper.GenerateUUID()
}
