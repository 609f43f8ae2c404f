// Package ingest turns uploaded files into document records and indexed chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/metrics"
	"document-qa/internal/models"
	"document-qa/internal/parser"
)

// Catalog stores document metadata records
type Catalog interface {
	Insert(ctx context.Context, info models.DocumentInfo) (int64, error)
	List(ctx context.Context) ([]models.DocumentInfo, error)
	Get(ctx context.Context, id int64) (models.DocumentInfo, error)
	Delete(ctx context.Context, id int64) error
}

// Index stores the chunks of each document
type Index interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteDocument(ctx context.Context, documentID int64) error
	Count() int
}

// Upload is one file handed to the service
type Upload struct {
	Filename    string
	Size        int64 // negative when unknown
	ContentType string
	Body        io.Reader
}

type Service struct {
	parser      *parser.Parser
	catalog     Catalog
	index       Index
	uploadDir   string
	maxFileSize int64
}

func NewService(cfg config.UploadConfig, p *parser.Parser, catalog Catalog, index Index) *Service {
	return &Service{
		parser:      p,
		catalog:     catalog,
		index:       index,
		uploadDir:   cfg.Dir,
		maxFileSize: cfg.MaxFileSize,
	}
}

func (s *Service) MaxFileSize() int64 { return s.maxFileSize }

// Validate checks the filename and declared size before anything is stored
func (s *Service) Validate(filename string, size int64) error {
	name := filepath.Base(filename)
	if strings.TrimSpace(filename) == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("%w: missing filename", models.ErrInvalidInput)
	}
	if !s.parser.Supported(name) {
		return fmt.Errorf("%w: %q, allowed types are %s",
			models.ErrUnsupportedFormat, filepath.Ext(name), strings.Join(s.parser.Extensions(), ", "))
	}
	if size > s.maxFileSize {
		return fmt.Errorf("%w: file size %d exceeds the limit of %d bytes", models.ErrInvalidInput, size, s.maxFileSize)
	}
	return nil
}

// Upload stores the file, records it and indexes its chunks. Either all of
// record, stored file and chunks remain or none of them do.
func (s *Service) Upload(ctx context.Context, up Upload) (models.DocumentInfo, error) {
	start := time.Now()
	if err := s.Validate(up.Filename, up.Size); err != nil {
		metrics.DocumentsIngested.WithLabelValues("rejected").Inc()
		return models.DocumentInfo{}, err
	}
	filename := filepath.Base(up.Filename)
	if err := helper.CreateFolder(s.uploadDir); err != nil {
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return models.DocumentInfo{}, err
	}

	info := models.DocumentInfo{
		Filename:        filename,
		UploadTimestamp: time.Now().UTC(),
		FileSize:        up.Size,
		ContentType:     up.ContentType,
	}
	if info.ContentType == "" {
		info.ContentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	}
	id, err := s.catalog.Insert(ctx, info)
	if err != nil {
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return models.DocumentInfo{}, fmt.Errorf("%w: %w", models.ErrPersistenceFailure, err)
	}
	info.ID = id
	logger := log.With().Int64("document_id", id).Str("filename", filename).Logger()

	path := s.storedPath(id, filename)
	written, err := s.save(path, up.Body)
	if err == nil && written > s.maxFileSize {
		err = fmt.Errorf("%w: file size exceeds the limit of %d bytes", models.ErrInvalidInput, s.maxFileSize)
	}
	if err != nil {
		s.rollback(ctx, id, path, false)
		metrics.DocumentsIngested.WithLabelValues(resultLabel(err)).Inc()
		return models.DocumentInfo{}, err
	}
	info.FileSize = written

	chunks, err := s.parser.Parse(path, filename, id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to parse document")
		s.rollback(ctx, id, path, false)
		metrics.DocumentsIngested.WithLabelValues(resultLabel(err)).Inc()
		return models.DocumentInfo{}, err
	}

	if err := s.index.AddChunks(ctx, chunks); err != nil {
		logger.Error().Err(err).Msg("Failed to index document")
		s.rollback(ctx, id, path, true)
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return models.DocumentInfo{}, err
	}

	metrics.DocumentsIngested.WithLabelValues("indexed").Inc()
	metrics.IndexedChunks.Set(float64(s.index.Count()))
	logger.Info().
		Int("chunks", len(chunks)).
		Int64("file_size", written).
		Dur("duration", time.Since(start)).
		Msg("Document indexed")
	return info, nil
}

// IngestFile uploads a file from the local filesystem
func (s *Service) IngestFile(ctx context.Context, path string) (models.DocumentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.DocumentInfo{}, fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return models.DocumentInfo{}, err
	}
	return s.Upload(ctx, Upload{Filename: filepath.Base(path), Size: st.Size(), Body: f})
}

// Delete removes the chunks of the document, then its record, then the stored file
func (s *Service) Delete(ctx context.Context, id int64) error {
	info, err := s.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document %d from the index: %w", id, err)
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", models.ErrPersistenceFailure, err)
	}
	if err := os.Remove(s.storedPath(id, info.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Int64("document_id", id).Msg("Failed to remove stored file")
	}
	metrics.IndexedChunks.Set(float64(s.index.Count()))
	log.Info().Int64("document_id", id).Str("filename", info.Filename).Msg("Document deleted")
	return nil
}

func (s *Service) List(ctx context.Context) ([]models.DocumentInfo, error) {
	docs, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrPersistenceFailure, err)
	}
	return docs, nil
}

func (s *Service) storedPath(id int64, filename string) string {
	return filepath.Join(s.uploadDir, fmt.Sprintf("%d_%s", id, filename))
}

// save copies at most one byte past the size limit so oversized bodies are detected
func (s *Service) save(path string, body io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to store upload: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(body, s.maxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to store upload: %w", err)
	}
	return n, nil
}

// rollback undoes a partially completed upload
func (s *Service) rollback(ctx context.Context, id int64, path string, indexed bool) {
	logger := log.With().Int64("document_id", id).Logger()
	if indexed {
		if err := s.index.DeleteDocument(ctx, id); err != nil {
			logger.Error().Err(err).Msg("Rollback: failed to remove partial chunks")
		}
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		logger.Error().Err(err).Msg("Rollback: failed to delete document record")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error().Err(err).Msg("Rollback: failed to remove stored file")
	}
}

func resultLabel(err error) string {
	if errors.Is(err, models.ErrInvalidInput) || errors.Is(err, models.ErrUnsupportedFormat) || errors.Is(err, models.ErrNoContent) {
		return "rejected"
	}
	return "failed"
}
