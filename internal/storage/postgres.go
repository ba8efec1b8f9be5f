package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mattjoyce/notifyd/internal/ledger"
	"github.com/mattjoyce/notifyd/internal/templates"
)

// Postgres implements Store on a bounded pgx connection pool. Waiting for a
// free connection is capped by the acquire timeout and surfaces as an error.
type Postgres struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	now            func() time.Time
}

// NewPostgres connects a pool of at most maxConns connections.
func NewPostgres(ctx context.Context, url string, maxConns int32, acquireTimeout time.Duration) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	p := &Postgres{pool: pool, acquireTimeout: acquireTimeout, now: time.Now}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(pctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	conn, err := p.pool.Acquire(actx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}
	return conn, nil
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer conn.Release()
	return conn.Exec(ctx, query, args...)
}

// sqlDB exposes the pool through database/sql for goose.
func (p *Postgres) sqlDB() *sql.DB {
	return stdlib.OpenDBFromPool(p.pool)
}

func (p *Postgres) Migrate(ctx context.Context) (int, error) {
	prov, err := newProvider(goose.DialectPostgres, p.sqlDB(), "postgres")
	if err != nil {
		return 0, err
	}
	return migrateUp(ctx, prov)
}

func (p *Postgres) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	prov, err := newProvider(goose.DialectPostgres, p.sqlDB(), "postgres")
	if err != nil {
		return nil, err
	}
	return migrationStatus(ctx, prov)
}

func (p *Postgres) Ping(ctx context.Context) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Get(ctx context.Context, eventID string) (*ledger.Event, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	defer conn.Release()

	ev := ledger.Event{ID: eventID}
	var status string
	err = conn.QueryRow(ctx,
		"SELECT status, claim_id, claimed_at, completed_at FROM events WHERE event_id = $1",
		eventID,
	).Scan(&status, &ev.ClaimID, &ev.ClaimedAt, &ev.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read event: %w", ledger.ErrPersistence, err)
	}
	ev.Status = ledger.Status(status)
	return &ev, nil
}

func (p *Postgres) Create(ctx context.Context, eventID string) error {
	now := p.now()
	tag, err := p.exec(ctx,
		`INSERT INTO events (event_id, status, claim_id, claimed_at, completed_at)
VALUES ($1, $2, $3, $4, $4) ON CONFLICT (event_id) DO NOTHING`,
		eventID, string(ledger.StatusDone), uuid.NewString(), now,
	)
	if err != nil {
		return fmt.Errorf("%w: insert event: %w", ledger.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w: %s", ledger.ErrPersistence, ledger.ErrDuplicate, eventID)
	}
	return nil
}

func (p *Postgres) Claim(ctx context.Context, eventID string, lease time.Duration) (ledger.Claim, bool, error) {
	c := ledger.Claim{EventID: eventID, ID: uuid.NewString()}
	now := p.now()

	tag, err := p.exec(ctx,
		`INSERT INTO events (event_id, status, claim_id, claimed_at)
VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`,
		eventID, string(ledger.StatusPending), c.ID, now,
	)
	if err != nil {
		return ledger.Claim{}, false, fmt.Errorf("%w: claim event: %w", ledger.ErrPersistence, err)
	}
	if tag.RowsAffected() == 1 {
		return c, true, nil
	}

	tag, err = p.exec(ctx,
		`UPDATE events SET claim_id = $1, claimed_at = $2
WHERE event_id = $3 AND status = $4 AND claimed_at <= $5`,
		c.ID, now, eventID, string(ledger.StatusPending), now.Add(-lease),
	)
	if err != nil {
		return ledger.Claim{}, false, fmt.Errorf("%w: reclaim event: %w", ledger.ErrPersistence, err)
	}
	if tag.RowsAffected() == 1 {
		return c, true, nil
	}
	return ledger.Claim{}, false, nil
}

func (p *Postgres) Complete(ctx context.Context, c ledger.Claim) error {
	tag, err := p.exec(ctx,
		"UPDATE events SET status = $1, completed_at = $2 WHERE event_id = $3 AND claim_id = $4 AND status = $5",
		string(ledger.StatusDone), p.now(), c.EventID, c.ID, string(ledger.StatusPending),
	)
	return pgClaimResult(tag, err, c)
}

func (p *Postgres) Release(ctx context.Context, c ledger.Claim) error {
	tag, err := p.exec(ctx,
		"DELETE FROM events WHERE event_id = $1 AND claim_id = $2 AND status = $3",
		c.EventID, c.ID, string(ledger.StatusPending),
	)
	return pgClaimResult(tag, err, c)
}

func pgClaimResult(tag pgconn.CommandTag, err error, c ledger.Claim) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrPersistence, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ledger.ErrClaimLost, c.EventID)
	}
	return nil
}

func (p *Postgres) ListTemplates(ctx context.Context) ([]templates.Entry, error) {
	return p.list(ctx, "SELECT name, content FROM templates ORDER BY name")
}

func (p *Postgres) ListPartials(ctx context.Context) ([]templates.Entry, error) {
	return p.list(ctx, "SELECT name, content FROM template_partials ORDER BY name")
}

func (p *Postgres) list(ctx context.Context, query string) ([]templates.Entry, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[templates.Entry])
	if err != nil {
		return nil, fmt.Errorf("scan templates: %w", err)
	}
	return entries, nil
}

func (p *Postgres) UpsertTemplate(ctx context.Context, name, content string) error {
	return p.upsert(ctx, "templates", name, content)
}

func (p *Postgres) UpsertPartial(ctx context.Context, name, content string) error {
	return p.upsert(ctx, "template_partials", name, content)
}

func (p *Postgres) upsert(ctx context.Context, table, name, content string) error {
	if name == "" {
		return fmt.Errorf("template name is empty")
	}
	_, err := p.exec(ctx,
		`INSERT INTO `+table+` (name, content, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		name, content, p.now(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s %q: %w", table, name, err)
	}
	return nil
}
