package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mattjoyce/notifyd/internal/ledger"
	"github.com/mattjoyce/notifyd/internal/templates"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path.
// Schema is managed separately by goose; see SQLite.Migrate.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the first one.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// SQLite implements Store on a local database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens the database at path. Call Migrate before first use.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Migrate(ctx context.Context) (int, error) {
	p, err := newProvider(goose.DialectSQLite3, s.db, "sqlite")
	if err != nil {
		return 0, err
	}
	return migrateUp(ctx, p)
}

func (s *SQLite) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	p, err := newProvider(goose.DialectSQLite3, s.db, "sqlite")
	if err != nil {
		return nil, err
	}
	return migrationStatus(ctx, p)
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, eventID string) (*ledger.Event, error) {
	var (
		ev        = ledger.Event{ID: eventID}
		status    string
		claimedAt int64
		completed sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT status, claim_id, claimed_at, completed_at FROM events WHERE event_id = ?;", eventID,
	).Scan(&status, &ev.ClaimID, &claimedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read event: %w", ledger.ErrPersistence, err)
	}

	ev.Status = ledger.Status(status)
	ev.ClaimedAt = time.UnixMilli(claimedAt)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		ev.CompletedAt = &t
	}
	return &ev, nil
}

func (s *SQLite) Create(ctx context.Context, eventID string) error {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, status, claim_id, claimed_at, completed_at)
VALUES (?, ?, ?, ?, ?) ON CONFLICT (event_id) DO NOTHING;`,
		eventID, string(ledger.StatusDone), uuid.NewString(), now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: insert event: %w", ledger.ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("%w: insert event: %w", ledger.ErrPersistence, err)
	} else if n == 0 {
		return fmt.Errorf("%w: %w: %s", ledger.ErrPersistence, ledger.ErrDuplicate, eventID)
	}
	return nil
}

func (s *SQLite) Claim(ctx context.Context, eventID string, lease time.Duration) (ledger.Claim, bool, error) {
	c := ledger.Claim{EventID: eventID, ID: uuid.NewString()}
	now := s.now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, status, claim_id, claimed_at)
VALUES (?, ?, ?, ?) ON CONFLICT (event_id) DO NOTHING;`,
		eventID, string(ledger.StatusPending), c.ID, now.UnixMilli(),
	)
	if ok, err := affectedOne(res, err); err != nil {
		return ledger.Claim{}, false, err
	} else if ok {
		return c, true, nil
	}

	// Take over a pending row whose lease has run out.
	res, err = s.db.ExecContext(ctx,
		`UPDATE events SET claim_id = ?, claimed_at = ?
WHERE event_id = ? AND status = ? AND claimed_at <= ?;`,
		c.ID, now.UnixMilli(), eventID, string(ledger.StatusPending), now.Add(-lease).UnixMilli(),
	)
	if ok, err := affectedOne(res, err); err != nil {
		return ledger.Claim{}, false, err
	} else if ok {
		return c, true, nil
	}
	return ledger.Claim{}, false, nil
}

func (s *SQLite) Complete(ctx context.Context, c ledger.Claim) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE events SET status = ?, completed_at = ? WHERE event_id = ? AND claim_id = ? AND status = ?;",
		string(ledger.StatusDone), s.now().UnixMilli(), c.EventID, c.ID, string(ledger.StatusPending),
	)
	return claimResult(res, err, c)
}

func (s *SQLite) Release(ctx context.Context, c ledger.Claim) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE event_id = ? AND claim_id = ? AND status = ?;",
		c.EventID, c.ID, string(ledger.StatusPending),
	)
	return claimResult(res, err, c)
}

func (s *SQLite) ListTemplates(ctx context.Context) ([]templates.Entry, error) {
	return s.list(ctx, "SELECT name, content FROM templates ORDER BY name;")
}

func (s *SQLite) ListPartials(ctx context.Context) ([]templates.Entry, error) {
	return s.list(ctx, "SELECT name, content FROM template_partials ORDER BY name;")
}

func (s *SQLite) list(ctx context.Context, query string) ([]templates.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []templates.Entry
	for rows.Next() {
		var e templates.Entry
		if err := rows.Scan(&e.Name, &e.Content); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func (s *SQLite) UpsertTemplate(ctx context.Context, name, content string) error {
	return s.upsert(ctx, "templates", name, content)
}

func (s *SQLite) UpsertPartial(ctx context.Context, name, content string) error {
	return s.upsert(ctx, "template_partials", name, content)
}

func (s *SQLite) upsert(ctx context.Context, table, name, content string) error {
	if name == "" {
		return fmt.Errorf("template name is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (name, content, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at;`,
		name, content, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s %q: %w", table, name, err)
	}
	return nil
}

// affectedOne reports whether an Exec changed exactly one row.
func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	return n == 1, nil
}

func claimResult(res sql.Result, err error, c ledger.Claim) error {
	ok, err := affectedOne(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrClaimLost, c.EventID)
	}
	return nil
}
