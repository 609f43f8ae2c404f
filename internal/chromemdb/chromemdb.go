package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/models"
)

// VectorDBManager owns the chromem collection that stores chunk embeddings
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embedder      embedding.Provider
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
	concurrency   int
}

// NewVectorDBManager opens (or creates) the database at cfg.Path, or an
// in-memory one when cfg.InMemory is set, and loads the chunk collection.
func NewVectorDBManager(cfg config.VectorStoreConfig, embedder embedding.Provider) (*VectorDBManager, error) {
	var db *chromem.DB
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open database %s: %w", models.ErrIndexUnavailable, cfg.Path, err)
		}
	}

	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = "documents"
	}
	m := &VectorDBManager{
		db:            db,
		embedder:      embedder,
		dbPath:        cfg.Path,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filepath.Join(cfg.Path, collectionName+".chromem"),
		concurrency:   runtime.NumCPU(),
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Str("collection", collectionName).
		Int("count", m.collection.Count()).
		Msg("vector store ready")
	return m, nil
}

// EmbeddingFunc adapts a provider to chromem for text queries and documents added without a vector
func EmbeddingFunc(p embedding.Provider) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return p.EmbedQuery(ctx, text)
	}
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, EmbeddingFunc(m.embedder))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create/get collection: %w", models.ErrIndexUnavailable, err)
	}
	m.collection = c
	return c, nil
}

// Count returns the number of stored chunks
func (m *VectorDBManager) Count() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// AddChunks embeds the chunk texts and stores them with their provenance metadata
func (m *VectorDBManager) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID(),
			Content:   c.Text,
			Metadata:  chunkMetadata(c),
			Embedding: vecs[i],
		}
	}
	if err := m.collection.AddDocuments(ctx, docs, m.concurrency); err != nil {
		return fmt.Errorf("%w: failed to add documents: %w", models.ErrIndexUnavailable, err)
	}
	return nil
}

// Query returns up to k chunks ordered by descending similarity to query.
// k is clamped to the collection size; an empty collection yields no chunks.
func (m *VectorDBManager) Query(ctx context.Context, query string, k int, where map[string]string) ([]models.Chunk, error) {
	n := min(k, m.Count())
	if n <= 0 {
		return nil, nil
	}

	vec, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       n,
		Where:          where,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrIndexUnavailable, err)
	}

	chunks := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, resultChunk(r))
	}
	return chunks, nil
}

// DeleteDocument removes every chunk of the document. A document without
// chunks is not an error.
func (m *VectorDBManager) DeleteDocument(ctx context.Context, documentID int64) error {
	where := map[string]string{models.MetaDocumentID: strconv.FormatInt(documentID, 10)}
	if err := m.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("%w: failed to delete document %d: %w", models.ErrIndexUnavailable, documentID, err)
	}
	return nil
}

// DeleteCollection drops the chunk collection and every chunk in it
func (m *VectorDBManager) DeleteCollection() error {
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Export writes the collection to path, or next to the database when path is empty.
// The file is encrypted when an encryption key is configured.
func (m *VectorDBManager) Export(path string) (string, error) {
	if path == "" {
		path = m.filePath
	}
	if m.encryptionKey == "" {
		log.Warn().Str("file", path).Msg("exporting vector store without encryption")
	}
	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", path).
		Bool("compress", m.compress).
		Msg("exporting collection")

	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return "", fmt.Errorf("failed to export database: %w", err)
	}
	return path, nil
}

// Import loads a collection previously written by Export. With replace set the
// current collection is dropped first, so chunks missing from the snapshot are gone.
func (m *VectorDBManager) Import(path string, replace bool) error {
	if path == "" {
		path = m.filePath
	}
	name := m.collection.Name
	if replace {
		if err := m.DeleteCollection(); err != nil {
			return err
		}
	}

	importErr := m.db.ImportFromFile(path, m.encryptionKey, name)
	if c := m.db.GetCollection(name, EmbeddingFunc(m.embedder)); c != nil {
		m.collection = c
	} else if _, err := m.GetOrCreateCollection(name); err != nil {
		return err
	}
	if importErr != nil {
		return fmt.Errorf("failed to import database: %w", importErr)
	}
	return nil
}

func chunkMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaDocumentID:  strconv.FormatInt(c.DocumentID, 10),
		models.MetaChunkIndex:  strconv.Itoa(c.ChunkIndex),
		models.MetaChunkCount:  strconv.Itoa(c.ChunkCount),
		models.MetaSourcePath:  c.SourcePath,
		models.MetaFilename:    c.Filename,
		models.MetaStartOffset: strconv.Itoa(c.StartOffset),
	}
}

func resultChunk(r chromem.Result) models.Chunk {
	docID, _ := strconv.ParseInt(r.Metadata[models.MetaDocumentID], 10, 64)
	index, _ := strconv.Atoi(r.Metadata[models.MetaChunkIndex])
	count, _ := strconv.Atoi(r.Metadata[models.MetaChunkCount])
	offset, _ := strconv.Atoi(r.Metadata[models.MetaStartOffset])
	return models.Chunk{
		Text:        r.Content,
		DocumentID:  docID,
		ChunkIndex:  index,
		ChunkCount:  count,
		SourcePath:  r.Metadata[models.MetaSourcePath],
		Filename:    r.Metadata[models.MetaFilename],
		StartOffset: offset,
		Score:       r.Similarity,
	}
}
