package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/notifyd/internal/config"
	"github.com/mattjoyce/notifyd/internal/ledger"
	"github.com/mattjoyce/notifyd/internal/ledger/ledgertest"
	"github.com/mattjoyce/notifyd/internal/templates"
)

// testClock is a settable clock shared by a store and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "notifyd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Migrate(context.Background())
	require.NoError(t, err)
	return s
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "notifyd.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	for _, table := range []string{"events", "templates", "template_partials"} {
		var name string
		if err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}

	states, err := s.MigrationStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	for _, st := range states {
		assert.True(t, st.Applied, "migration %d", st.Version)
	}

	n, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "second run applies nothing")
}

func TestSQLiteLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) (ledger.Ledger, func(time.Duration)) {
		s := newTestSQLite(t)
		clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
		s.now = clock.Now
		return s, clock.Advance
	})
}

func TestSQLiteGetReportsTimestamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSQLite(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	require.NoError(t, s.Create(ctx, "E1"))
	ev, err := s.Get(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, ledger.StatusDone, ev.Status)
	assert.True(t, ev.ClaimedAt.Equal(at))
	require.NotNil(t, ev.CompletedAt)
	assert.True(t, ev.CompletedAt.Equal(at))
}

func TestDefaultTemplatesAreSeeded(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	engine := templates.NewEngine(nil)
	require.NoError(t, engine.LoadFrom(context.Background(), s))

	assert.ElementsMatch(t,
		[]string{"invoice", "order_cancelled", "order_created", "order_fulfilled"},
		engine.Names())

	out, err := engine.Render("order_created", map[string]any{
		"order_number": "1",
		"customer":     map[string]any{"first_name": "John"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Thank you, John")
	assert.Contains(t, out, "order #1")
	assert.Contains(t, out, "Thank you for shopping with us.")
}

func TestUpsertTemplates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.UpsertTemplate(ctx, "greet", "Hello {{name}}!"))
	require.NoError(t, s.UpsertTemplate(ctx, "greet", "Hi {{name}}!"))
	require.NoError(t, s.UpsertPartial(ctx, "sig", "-- shop"))
	assert.Error(t, s.UpsertTemplate(ctx, "", "x"))

	list, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	var greet string
	for _, e := range list {
		if e.Name == "greet" {
			greet = e.Content
		}
	}
	assert.Equal(t, "Hi {{name}}!", greet)

	partials, err := s.ListPartials(ctx)
	require.NoError(t, err)
	assert.Contains(t, partials, templates.Entry{Name: "sig", Content: "-- shop"})
}

func TestOpenSQLiteDriver(t *testing.T) {
	t.Parallel()

	st, err := Open(context.Background(), config.DatabaseConfig{
		Driver:  "sqlite",
		Path:    filepath.Join(t.TempDir(), "notifyd.db"),
		Migrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.Ping(context.Background()))
	list, err := st.ListTemplates(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, "unknown database driver")
}
