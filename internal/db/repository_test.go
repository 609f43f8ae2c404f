package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
)

func newMockDB(t *testing.T) (*DocumentRepo, *HistoryRepo, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	bdb := NewDB(sqldb, false)
	t.Cleanup(func() { _ = bdb.Close() })
	return NewDocumentRepo(bdb), NewHistoryRepo(bdb), mock
}

func TestDocumentRepo_Insert(t *testing.T) {
	docs, _, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "document_store"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := docs.Insert(context.Background(), models.DocumentInfo{Filename: "report.pdf", FileSize: 1024})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepo_List(t *testing.T) {
	docs, _, mock := newMockDB(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "document_store"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "filename", "upload_timestamp", "file_size", "content_type"}).
			AddRow(int64(2), "b.docx", ts.Add(time.Hour), int64(20), "application/vnd.openxmlformats-officedocument.wordprocessingml.document").
			AddRow(int64(1), "a.pdf", ts, int64(10), "application/pdf"))

	list, err := docs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.docx", list[0].Filename)
	assert.Equal(t, int64(1), list[1].ID)
	assert.Equal(t, ts, list[1].UploadTimestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepo_GetMissing(t *testing.T) {
	docs, _, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "document_store"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "filename"}))

	_, err := docs.Get(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDocumentRepo_Delete(t *testing.T) {
	docs, _, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "document_store"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "document_store"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, docs.Delete(context.Background(), 3))
	assert.ErrorIs(t, docs.Delete(context.Background(), 3), models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo(t *testing.T) {
	_, hist, mock := newMockDB(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "application_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	require.NoError(t, hist.Append(context.Background(), models.Turn{
		SessionID: "s1", Question: "q", Answer: "a", ModelUsed: "gemini-1.5-flash",
	}))

	// newest first from the database, oldest first to the caller
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "application_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "user_query", "gpt_response", "model", "created_at"}).
			AddRow(int64(5), "s1", "second", "two", "gemini-1.5-flash", ts.Add(time.Minute)).
			AddRow(int64(4), "s1", "first", "one", "gemini-1.5-flash", ts))

	turns, err := hist.History(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Question)
	assert.Equal(t, "two", turns[1].Answer)
	assert.Equal(t, "gemini-1.5-flash", turns[1].ModelUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}
