package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-qa/internal/config"
)

// ConnectDB opens the database with the driver named in cfg: pgdriver (default) or pq
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "", "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case "pq", "postgres":
		return sql.Open("postgres", cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB wraps sqldb with the postgres dialect. Queries are logged when debug
// is set or BUNDEBUG is present in the environment.
func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(debug),
		bundebug.WithVerbose(debug),
		bundebug.FromEnv("BUNDEBUG"),
	))
	return db
}

// InitDB creates the tables when they do not exist
func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*Document)(nil), (*ApplicationLog)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	_, err := db.NewCreateIndex().
		Model((*ApplicationLog)(nil)).
		Index("application_logs_session_idx").
		Column("session_id", "created_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// drop tables documents and logs
func DropTables(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*ApplicationLog)(nil), (*Document)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
