// Package migrations holds the SQL schema, applied with goose.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed *.sql
var files embed.FS

// zerologAdapter routes goose output through the service logger.
type zerologAdapter struct{}

func (zerologAdapter) Printf(format string, v ...interface{}) {
	log.Info().Str("component", "migrations").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (zerologAdapter) Fatalf(format string, v ...interface{}) {
	log.Fatal().Str("component", "migrations").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Apply runs every pending migration.
func Apply(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(files)
	goose.SetLogger(zerologAdapter{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Version reports the latest applied migration.
func Version(ctx context.Context, db *sqlx.DB) (int64, error) {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db.DB)
}
