package retriever

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// Retrieval holds the chunks found for a query. Err is set when retrieval
// degraded to an empty result because the index or embeddings failed.
type Retrieval struct {
	Chunks []models.Chunk
	Err    error
}

// Retriever finds the chunks most similar to a query, best first
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) Retrieval
}

// Index is the vector store the retriever searches
type Index interface {
	Query(ctx context.Context, query string, k int, where map[string]string) ([]models.Chunk, error)
	Count() int
}

// VectorRetriever searches the vector index
type VectorRetriever struct {
	index    Index
	timeout  time.Duration
	minScore float32
	where    map[string]string
}

func NewVectorRetriever(index Index, cfg config.RAGConfig) *VectorRetriever {
	return &VectorRetriever{
		index:    index,
		timeout:  cfg.RetrievalTimeout,
		minScore: cfg.MinScore,
	}
}

// ForDocument returns a retriever limited to the chunks of one document
func (r *VectorRetriever) ForDocument(documentID int64) *VectorRetriever {
	scoped := *r
	scoped.where = map[string]string{models.MetaDocumentID: strconv.FormatInt(documentID, 10)}
	return &scoped
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, k int) Retrieval {
	if k <= 0 || r.index.Count() == 0 {
		return Retrieval{Chunks: []models.Chunk{}}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	chunks, err := r.index.Query(ctx, query, k, r.where)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("stage", "retrieve").Msg("retrieval failed, continuing without context")
		return Retrieval{Chunks: []models.Chunk{}, Err: err}
	}

	out := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score < r.minScore {
			continue
		}
		out = append(out, c)
	}
	return Retrieval{Chunks: out}
}

// EmptyRetriever stands in when the vector index could not be opened
type EmptyRetriever struct {
	Reason error
}

func (r EmptyRetriever) Retrieve(_ context.Context, _ string, _ int) Retrieval {
	err := models.ErrIndexUnavailable
	if r.Reason != nil {
		err = fmt.Errorf("%w: %w", models.ErrIndexUnavailable, r.Reason)
	}
	return Retrieval{Chunks: []models.Chunk{}, Err: err}
}
