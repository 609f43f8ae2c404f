package models

import (
	"fmt"
	"time"
)

// Chunk represents a contiguous span of a document's extracted text with its provenance
type Chunk struct {
	Text        string  `json:"text"`
	DocumentID  int64   `json:"document_id"`
	ChunkIndex  int     `json:"chunk_index"`
	ChunkCount  int     `json:"chunk_count"`
	SourcePath  string  `json:"source_path"`
	Filename    string  `json:"filename"`
	StartOffset int     `json:"start_offset"`
	Score       float32 `json:"score,omitempty"`
}

// ID is the vector store identifier of the chunk
func (c Chunk) ID() string {
	return fmt.Sprintf("%d-%d", c.DocumentID, c.ChunkIndex)
}

// DocumentInfo describes an uploaded file
type DocumentInfo struct {
	ID              int64     `json:"id"`
	Filename        string    `json:"filename"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
	FileSize        int64     `json:"file_size"`
	ContentType     string    `json:"content_type"`
}

// Turn is one question/answer exchange of a session
type Turn struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	ModelUsed string    `json:"model_used"`
	Timestamp time.Time `json:"timestamp"`
}
