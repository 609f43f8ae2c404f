package rag

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

func testRAGConfig() config.RAGConfig {
	return config.Default().RAG
}

func TestAsk_Validation(t *testing.T) {
	llm := newFakeLLM(func([]llms.MessageContent) (string, error) { return "answer", nil })
	retr := &fakeRetriever{}
	hist := &memHistory{}
	p := NewPipeline(testRAGConfig(), llm, retr, hist)

	cases := []Request{
		{Question: ""},
		{Question: "   \n\t"},
		{Question: strings.Repeat("x", 1001)},
		{Question: "What is the total?", Model: "gpt-9"},
	}
	for _, req := range cases {
		_, err := p.Ask(context.Background(), req)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
	assert.Zero(t, llm.callCount())
	assert.Empty(t, retr.queries)
	assert.Empty(t, hist.turns)

	// exactly at the limit, counted in characters
	_, err := p.Ask(context.Background(), Request{Question: strings.Repeat("é", 1000)})
	assert.NoError(t, err)
}

func TestAsk_SessionIDs(t *testing.T) {
	llm := newFakeLLM(func([]llms.MessageContent) (string, error) { return "answer", nil })
	p := NewPipeline(testRAGConfig(), llm, &fakeRetriever{}, &memHistory{})
	ctx := context.Background()

	for _, id := range []string{"", models.PlaceholderSessionID} {
		res, err := p.Ask(ctx, Request{Question: "What is the total?", SessionID: id})
		require.NoError(t, err)
		_, perr := uuid.Parse(res.SessionID)
		assert.NoError(t, perr, "minted id %q", res.SessionID)
		assert.Equal(t, "gemini-2.0-flash-exp", res.Model)
	}

	res, err := p.Ask(ctx, Request{Question: "What is the total?", SessionID: "my-session", Model: "gemini-1.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "my-session", res.SessionID)
	assert.Equal(t, "gemini-1.5-flash", res.Model)
}

func TestAsk_SessionContinuity(t *testing.T) {
	llm := newFakeLLM(func(messages []llms.MessageContent) (string, error) {
		if isReformulation(messages) {
			return "What is the total of the ACME invoice?", nil
		}
		return "The ACME invoice totals 420 euros.", nil
	})
	retr := &fakeRetriever{chunks: []models.Chunk{chunk(1, 0, 1, "ACME invoice total: 420 EUR")}}
	hist := &memHistory{}
	p := NewPipeline(testRAGConfig(), llm, retr, hist)
	ctx := context.Background()

	first, err := p.Ask(ctx, Request{Question: "Tell me about the ACME invoice"})
	require.NoError(t, err)
	assert.Equal(t, "Tell me about the ACME invoice", first.StandaloneQuestion)

	second, err := p.Ask(ctx, Request{Question: "What is its total?", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "What is the total of the ACME invoice?", second.StandaloneQuestion)
	assert.Equal(t, "The ACME invoice totals 420 euros.", second.Answer)
	assert.Equal(t, OutcomeAnswered, second.Outcome)

	// the standalone question is what reaches retrieval
	assert.Equal(t, []string{"Tell me about the ACME invoice", "What is the total of the ACME invoice?"}, retr.queries)

	// history is replayed into the answer prompt, the standalone question is
	// answered and the original question is stored
	answerMsgs := llm.lastCall()
	assert.Equal(t, "Tell me about the ACME invoice", messageText(answerMsgs[1]))
	assert.Equal(t, "What is the total of the ACME invoice?", messageText(answerMsgs[len(answerMsgs)-1]))

	require.Len(t, hist.turns, 2)
	assert.Equal(t, "What is its total?", hist.turns[1].Question)
	assert.Equal(t, second.Answer, hist.turns[1].Answer)
	assert.Equal(t, "gemini-2.0-flash-exp", hist.turns[1].ModelUsed)

	stages := make([]string, 0, len(second.Trace))
	for _, s := range second.Trace {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{StageReceived, StageReformulated, StageRetrieved, StageSynthesized, StageLogged}, stages)
}

func TestAsk_AnswersStandaloneQuestion(t *testing.T) {
	llm := newFakeLLM(func(messages []llms.MessageContent) (string, error) {
		if isReformulation(messages) {
			return "What is the timeline of Project Apollo?", nil
		}
		return "Project Apollo ends in June.", nil
	})
	retr := &fakeRetriever{chunks: []models.Chunk{chunk(1, 0, 1, "Apollo milestones: kickoff in January, delivery in June")}}
	hist := &memHistory{turns: []models.Turn{{
		SessionID: "apollo",
		Question:  "What is Project Apollo's budget?",
		Answer:    "2 million euros.",
	}}}
	p := NewPipeline(testRAGConfig(), llm, retr, hist)

	res, err := p.Ask(context.Background(), Request{Question: "What about its timeline?", SessionID: "apollo"})
	require.NoError(t, err)
	assert.Equal(t, "What is the timeline of Project Apollo?", res.StandaloneQuestion)
	assert.Equal(t, []string{"What is the timeline of Project Apollo?"}, retr.queries)

	answerMsgs := llm.lastCall()
	require.False(t, isReformulation(answerMsgs))
	last := answerMsgs[len(answerMsgs)-1]
	assert.Equal(t, llms.ChatMessageTypeHuman, last.Role)
	assert.Equal(t, "What is the timeline of Project Apollo?", messageText(last))

	require.Len(t, hist.turns, 2)
	assert.Equal(t, "What about its timeline?", hist.turns[1].Question)
}

func TestAsk_LogsTurnAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := newFakeLLM(func([]llms.MessageContent) (string, error) {
		// the caller goes away while the answer is being generated
		cancel()
		return "The total is 420 euros.", nil
	})
	retr := &fakeRetriever{chunks: []models.Chunk{chunk(1, 0, 1, "420 EUR")}}
	hist := &memHistory{}
	p := NewPipeline(testRAGConfig(), llm, retr, hist)

	res, err := p.Ask(ctx, Request{Question: "What is the invoice total?", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "The total is 420 euros.", res.Answer)
	require.Len(t, hist.turns, 1)
	assert.Equal(t, res.Answer, hist.turns[0].Answer)
}

func TestAsk_EmptyIndex(t *testing.T) {
	llm := newFakeLLM(func([]llms.MessageContent) (string, error) { return "invented", nil })
	p := NewPipeline(testRAGConfig(), llm, &fakeRetriever{}, &memHistory{})

	res, err := p.Ask(context.Background(), Request{Question: "What does the contract say about penalties?"})
	require.NoError(t, err)
	assert.Equal(t, models.NoDocumentsAnswer, res.Answer)
	assert.Equal(t, OutcomeNoDocuments, res.Outcome)
	assert.Zero(t, llm.callCount())
}

func TestAsk_DegradedStages(t *testing.T) {
	llm := newFakeLLM(func([]llms.MessageContent) (string, error) { return "", models.ErrGenerationUnavailable })
	retr := &fakeRetriever{err: models.ErrIndexUnavailable}
	hist := &memHistory{loadErr: errBoom}
	p := NewPipeline(testRAGConfig(), llm, retr, hist)

	res, err := p.Ask(context.Background(), Request{Question: "What is its total?", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, models.NoDocumentsAnswer, res.Answer)

	var degraded []string
	for _, s := range res.Trace {
		if s.Err != nil {
			degraded = append(degraded, s.Stage)
		}
	}
	assert.Equal(t, []string{StageReceived, StageRetrieved}, degraded)

	retr.err = nil
	retr.chunks = []models.Chunk{chunk(1, 0, 1, "420 EUR")}
	hist.loadErr = nil
	res, err = p.Ask(context.Background(), Request{Question: "What is the invoice total?", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, models.FallbackAnswer, res.Answer)
	assert.Equal(t, OutcomeFallback, res.Outcome)
}

func TestAsk_PersistenceFailure(t *testing.T) {
	llm := newFakeLLM(func([]llms.MessageContent) (string, error) { return "The total is 420 euros.", nil })
	retr := &fakeRetriever{chunks: []models.Chunk{chunk(1, 0, 1, "420 EUR")}}
	p := NewPipeline(testRAGConfig(), llm, retr, &memHistory{appendErr: errBoom})

	res, err := p.Ask(context.Background(), Request{Question: "What is the invoice total?", SessionID: "s1"})
	assert.ErrorIs(t, err, models.ErrPersistenceFailure)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "The total is 420 euros.", res.Answer)
	assert.Equal(t, "s1", res.SessionID)
}

func TestAsk_SerializesSameSession(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	llm := newFakeLLM(func([]llms.MessageContent) (string, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "answer", nil
	})
	retr := &fakeRetriever{chunks: []models.Chunk{chunk(1, 0, 1, "text")}}
	hist := &memHistory{}
	p := NewPipeline(testRAGConfig(), llm, retr, hist)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Ask(context.Background(), Request{Question: "Summarize the quarterly report", SessionID: "shared"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Len(t, hist.turns, 8)
	assert.Zero(t, p.locks.size())
}

func TestSessionLocks_IndependentSessions(t *testing.T) {
	locks := newSessionLocks()
	unlockA := locks.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session b waited on session a")
	}
	unlockA()
	assert.Zero(t, locks.size())
}
