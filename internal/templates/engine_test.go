package templates

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// mockSource is a mock implementation of Source for testing.
type mockSource struct {
	templates   []Entry
	partials    []Entry
	listFn      func(ctx context.Context) ([]Entry, error)
	partialsErr error
}

func (m *mockSource) ListTemplates(ctx context.Context) ([]Entry, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return m.templates, nil
}

func (m *mockSource) ListPartials(ctx context.Context) ([]Entry, error) {
	return m.partials, m.partialsErr
}

func TestRenderGreet(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register("greet", "Hello {{name}}!"))

	out, err := e.Render("greet", map[string]string{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", out)
}

func TestRenderUnknownName(t *testing.T) {
	e := newTestEngine()
	_, err := e.Render("nope", nil)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestRenderUsesJSONFieldNames(t *testing.T) {
	type customer struct {
		FirstName string `json:"first_name"`
	}
	type order struct {
		OrderNumber string   `json:"order_number"`
		Customer    customer `json:"customer"`
	}

	e := newTestEngine()
	require.NoError(t, e.Register("order", "#{{order_number}} for {{customer.first_name}}"))

	out, err := e.Render("order", order{OrderNumber: "42", Customer: customer{FirstName: "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "#42 for Ada", out)
}

func TestRenderEscapesHTML(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register("x", "<p>{{v}}</p>{{{v}}}"))

	out, err := e.Render("x", map[string]string{"v": "<b>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt;</p><b>", out)
}

func TestPartials(t *testing.T) {
	e := newTestEngine()

	// The template is registered before its partial exists.
	require.NoError(t, e.Register("page", "<div>{{> header}}</div>"))
	require.NoError(t, e.RegisterPartial("header", "<h1>{{title}}</h1>"))

	out, err := e.Render("page", map[string]string{"title": "Invoice"})
	require.NoError(t, err)
	assert.Equal(t, "<div><h1>Invoice</h1></div>", out)

	require.NoError(t, e.RegisterPartial("header", "<h2>{{title}}</h2>"))
	out, err = e.Render("page", map[string]string{"title": "Invoice"})
	require.NoError(t, err)
	assert.Equal(t, "<div><h2>Invoice</h2></div>", out)
}

func TestMissingPartialFailsAtRender(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register("page", "{{> footer}}"))

	_, err := e.Render("page", nil)
	assert.ErrorIs(t, err, ErrRender)
}

func TestRegisterRejectsInvalidSyntax(t *testing.T) {
	e := newTestEngine()

	for _, src := range []string{"{{#if x}}open", "{{name", "{{/each}}"} {
		err := e.Register("bad", src)
		assert.ErrorIs(t, err, ErrRegistration, "source %q", src)
	}
	assert.Empty(t, e.Names())

	assert.ErrorIs(t, e.RegisterPartial("bad", "{{#each}}"), ErrRegistration)
}

func TestRegisterReplacesAndFingerprints(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register("greet", "Hi"))
	first, ok := e.Fingerprint("greet")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(first, "blake3:"))
	assert.Equal(t, Fingerprint("Hi"), first)

	require.NoError(t, e.Register("greet", "Hey"))
	second, _ := e.Fingerprint("greet")
	assert.NotEqual(t, first, second)

	out, err := e.Render("greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hey", out)

	_, ok = e.Fingerprint("other")
	assert.False(t, ok)
}

func TestLoadFromSkipsBadRows(t *testing.T) {
	e := newTestEngine()
	src := &mockSource{
		partials: []Entry{{Name: "sig", Content: "-- {{shop}}"}},
		templates: []Entry{
			{Name: "order_created", Content: "Thanks {{name}} {{> sig}}"},
			{Name: "broken", Content: "{{#if}}"},
		},
	}

	require.NoError(t, e.LoadFrom(context.Background(), src))
	assert.Equal(t, []string{"order_created"}, e.Names())

	out, err := e.Render("order_created", map[string]string{"name": "Jo", "shop": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Thanks Jo -- Acme", out)
}

func TestLoadFromSourceFailure(t *testing.T) {
	e := newTestEngine()
	boom := errors.New("db down")

	err := e.LoadFrom(context.Background(), &mockSource{partialsErr: boom})
	assert.ErrorIs(t, err, boom)

	err = e.LoadFrom(context.Background(), &mockSource{listFn: func(ctx context.Context) ([]Entry, error) {
		return nil, boom
	}})
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentRenderAndRegister(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register("greet", "Hello {{name}}!"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				out, err := e.Render("greet", map[string]string{"name": "World"})
				if err != nil || out != "Hello World!" {
					t.Errorf("Render() = %q, %v", out, err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			_ = e.RegisterPartial("p", "x")
			_ = e.Register("other", "{{> p}}")
		}()
	}
	wg.Wait()
}
