package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/uptrace/bun"

	"document-qa/internal/models"
)

// Document is the metadata record of an uploaded file
type Document struct {
	bun.BaseModel   `bun:"table:document_store,alias:d"`
	ID              int64     `bun:"id,pk,autoincrement"`
	Filename        string    `bun:"filename,notnull"`
	UploadTimestamp time.Time `bun:"upload_timestamp,notnull"`
	FileSize        int64     `bun:"file_size,notnull"`
	ContentType     string    `bun:"content_type"`
}

// ApplicationLog is one stored conversation turn
type ApplicationLog struct {
	bun.BaseModel `bun:"table:application_logs,alias:l"`
	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     string    `bun:"session_id,notnull"`
	UserQuery     string    `bun:"user_query,notnull"`
	GPTResponse   string    `bun:"gpt_response,notnull"`
	Model         string    `bun:"model,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func (d Document) info() models.DocumentInfo {
	return models.DocumentInfo{
		ID:              d.ID,
		Filename:        d.Filename,
		UploadTimestamp: d.UploadTimestamp,
		FileSize:        d.FileSize,
		ContentType:     d.ContentType,
	}
}

// DocumentRepo stores document records
type DocumentRepo struct {
	db bun.IDB
}

func NewDocumentRepo(db bun.IDB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Insert stores a new record and returns its id
func (r *DocumentRepo) Insert(ctx context.Context, info models.DocumentInfo) (int64, error) {
	doc := &Document{
		Filename:        info.Filename,
		UploadTimestamp: info.UploadTimestamp,
		FileSize:        info.FileSize,
		ContentType:     info.ContentType,
	}
	if doc.UploadTimestamp.IsZero() {
		doc.UploadTimestamp = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(doc).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to insert document %s: %w", info.Filename, err)
	}
	return doc.ID, nil
}

// List returns every record, newest first
func (r *DocumentRepo) List(ctx context.Context) ([]models.DocumentInfo, error) {
	var docs []Document
	if err := r.db.NewSelect().Model(&docs).Order("upload_timestamp DESC", "id DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	out := make([]models.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.info())
	}
	return out, nil
}

func (r *DocumentRepo) Get(ctx context.Context, id int64) (models.DocumentInfo, error) {
	var doc Document
	err := r.db.NewSelect().Model(&doc).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DocumentInfo{}, fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.DocumentInfo{}, fmt.Errorf("failed to get document %d: %w", id, err)
	}
	return doc.info(), nil
}

// Delete removes the record; a missing record yields models.ErrNotFound
func (r *DocumentRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.NewDelete().Model((*Document)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete document %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// HistoryRepo stores conversation turns in application_logs
type HistoryRepo struct {
	db bun.IDB
}

func NewHistoryRepo(db bun.IDB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) Append(ctx context.Context, turn models.Turn) error {
	entry := &ApplicationLog{
		SessionID:   turn.SessionID,
		UserQuery:   turn.Question,
		GPTResponse: turn.Answer,
		Model:       turn.ModelUsed,
		CreatedAt:   turn.Timestamp,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(entry).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert turn for session %s: %w", turn.SessionID, err)
	}
	return nil
}

// History returns the last limit turns of the session ordered by time then id.
// A limit of zero or less returns every turn.
func (r *HistoryRepo) History(ctx context.Context, sessionID string, limit int) ([]models.Turn, error) {
	var logs []ApplicationLog
	q := r.db.NewSelect().
		Model(&logs).
		Where("session_id = ?", sessionID).
		Order("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load history of session %s: %w", sessionID, err)
	}

	slices.Reverse(logs)
	turns := make([]models.Turn, 0, len(logs))
	for _, l := range logs {
		turns = append(turns, models.Turn{
			SessionID: l.SessionID,
			Question:  l.UserQuery,
			Answer:    l.GPTResponse,
			ModelUsed: l.Model,
			Timestamp: l.CreatedAt,
		})
	}
	return turns, nil
}
