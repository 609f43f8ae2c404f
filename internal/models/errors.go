package models

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnsupportedFormat     = errors.New("unsupported file format")
	ErrNoContent             = errors.New("document produced no chunks")
	ErrNotFound              = errors.New("not found")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrIndexUnavailable      = errors.New("vector index unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrPersistenceFailure    = errors.New("persistence failure")
)
