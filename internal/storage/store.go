// Package storage persists the event ledger and the template catalogue in
// SQLite or Postgres.
package storage

import (
	"context"
	"fmt"

	"github.com/mattjoyce/notifyd/internal/config"
	"github.com/mattjoyce/notifyd/internal/ledger"
	"github.com/mattjoyce/notifyd/internal/templates"
)

// Store is a database-backed ledger and template source.
type Store interface {
	ledger.Ledger
	templates.Source

	UpsertTemplate(ctx context.Context, name, content string) error
	UpsertPartial(ctx context.Context, name, content string) error

	Migrate(ctx context.Context) (int, error)
	MigrationStatus(ctx context.Context) ([]MigrationState, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)

// Open connects to the database named by cfg and, when cfg.Migrate is set,
// applies pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		s, err = NewSQLite(ctx, cfg.Path)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.URL, cfg.MaxConns, cfg.AcquireTimeout)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if _, err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}
