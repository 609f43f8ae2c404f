package parser

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

const (
	defaultChunkSize    = 1000 // bytes
	defaultChunkOverlap = 200  // bytes
)

var defaultExtensions = []string{".pdf", ".docx", ".html"}

// Parser turns an uploaded file into ordered, overlapping chunks
type Parser struct {
	allowed      map[string]bool
	chunkSize    int
	chunkOverlap int
}

// NewParser builds a parser from the rag and upload sections of cfg.
// A nil config or zero chunk size falls back to the defaults.
func NewParser(cfg *config.Config) *Parser {
	p := &Parser{
		allowed:      map[string]bool{},
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
	exts := defaultExtensions
	if cfg != nil {
		if cfg.RAG.ChunkSize > 0 {
			p.chunkSize = cfg.RAG.ChunkSize
			p.chunkOverlap = cfg.RAG.ChunkOverlap
		}
		if len(cfg.Upload.AllowedExtensions) > 0 {
			exts = cfg.Upload.AllowedExtensions
		}
	}
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if _, ok := loaders[ext]; !ok {
			log.Warn().Str("extension", ext).Msg("no loader for allowed extension, ignoring")
			continue
		}
		p.allowed[ext] = true
	}
	return p
}

// Supported reports whether filename has an allowed extension with a loader
func (p *Parser) Supported(filename string) bool {
	return p.allowed[strings.ToLower(filepath.Ext(filename))]
}

// Extensions lists the accepted extensions in sorted order
func (p *Parser) Extensions() []string {
	out := make([]string, 0, len(p.allowed))
	for ext := range p.allowed {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ExtractText returns the plain text of the file. The format is taken from
// filename so stored uploads can carry any name on disk.
func (p *Parser) ExtractText(filePath, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !p.allowed[ext] {
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	txt, err := loaders[ext](filePath)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", filename, err)
	}
	return txt, nil
}

// Parse extracts the text of filePath and splits it into chunks tagged with
// documentID. A file without any text yields models.ErrNoContent.
func (p *Parser) Parse(filePath, filename string, documentID int64) ([]models.Chunk, error) {
	if filename == "" {
		filename = filepath.Base(filePath)
	}
	txt, err := p.ExtractText(filePath, filename)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(txt) == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrNoContent, filename)
	}

	spans := Split(txt, p.chunkSize, p.chunkOverlap)
	chunks := make([]models.Chunk, 0, len(spans))
	for i, s := range spans {
		chunks = append(chunks, models.Chunk{
			Text:        s.Text,
			DocumentID:  documentID,
			ChunkIndex:  i,
			ChunkCount:  len(spans),
			SourcePath:  filePath,
			Filename:    filename,
			StartOffset: s.Start,
		})
	}

	log.Debug().
		Int64("document_id", documentID).
		Str("filename", filename).
		Int("chars", len(txt)).
		Int("chunks", len(chunks)).
		Msg("parsed document")
	return chunks, nil
}
