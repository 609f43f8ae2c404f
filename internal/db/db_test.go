package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

func TestConnectDB_UnknownDriver(t *testing.T) {
	_, err := ConnectDB(config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "docqa",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)
	url := fmt.Sprintf("postgres://postgres:postgres@%s:%s/docqa?sslmode=disable", host, port.Port())

	for _, driver := range []string{"pgdriver", "pq"} {
		t.Run(driver, func(t *testing.T) {
			sqldb, err := ConnectDB(config.DatabaseConfig{Driver: driver, URL: url})
			require.NoError(t, err)
			bdb := NewDB(sqldb, false)
			defer bdb.Close()

			require.NoError(t, DropTables(ctx, bdb))
			require.NoError(t, InitDB(ctx, bdb))
			require.NoError(t, InitDB(ctx, bdb))

			docs := NewDocumentRepo(bdb)
			first, err := docs.Insert(ctx, models.DocumentInfo{Filename: "a.pdf", FileSize: 10, ContentType: "application/pdf"})
			require.NoError(t, err)
			second, err := docs.Insert(ctx, models.DocumentInfo{Filename: "b.docx", FileSize: 20})
			require.NoError(t, err)
			assert.Greater(t, second, first)

			list, err := docs.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "b.docx", list[0].Filename)

			got, err := docs.Get(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, "a.pdf", got.Filename)

			require.NoError(t, docs.Delete(ctx, first))
			assert.ErrorIs(t, docs.Delete(ctx, first), models.ErrNotFound)
			_, err = docs.Get(ctx, first)
			assert.ErrorIs(t, err, models.ErrNotFound)

			hist := NewHistoryRepo(bdb)
			base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 4; i++ {
				require.NoError(t, hist.Append(ctx, models.Turn{
					SessionID: "s1",
					Question:  fmt.Sprintf("q%d", i),
					Answer:    fmt.Sprintf("a%d", i),
					ModelUsed: "gemini-1.5-flash",
					Timestamp: base.Add(time.Duration(i) * time.Second),
				}))
			}
			turns, err := hist.History(ctx, "s1", 2)
			require.NoError(t, err)
			require.Len(t, turns, 2)
			assert.Equal(t, "q2", turns[0].Question)
			assert.Equal(t, "a3", turns[1].Answer)

			all, err := hist.History(ctx, "s1", 0)
			require.NoError(t, err)
			assert.Len(t, all, 4)
		})
	}
}
