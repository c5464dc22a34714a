package infra

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolflow/migrations"
)

// isolate creates a run-scoped schema on a shared database and routes every
// connection of cfg into it. The returned func drops the schema.
func isolate(ctx context.Context, cfg *pgxpool.Config) (func(context.Context) error, error) {
	schema := pgx.Identifier{fmt.Sprintf("poolflow_run_%d", time.Now().UnixNano())}.Sanitize()

	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("connect for schema: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		return nil, fmt.Errorf("create schema %s: %w", schema, err)
	}

	// public stays reachable for extensions installed there
	searchPath := "SET search_path TO " + schema + ", public"
	cfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		_, err := c.Exec(ctx, searchPath)
		return err
	}

	admin := cfg.ConnConfig.Copy()
	return func(ctx context.Context) error {
		c, err := pgx.ConnectConfig(ctx, admin)
		if err != nil {
			return fmt.Errorf("connect to drop schema: %w", err)
		}
		defer c.Close(ctx)
		_, err = c.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		return err
	}, nil
}

// migrate applies the embedded migrations in order.
func migrate(ctx context.Context, db *pgxpool.Pool) error {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, name := range names {
		stmts, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(stmts)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
