// Package templates keeps the named handlebars templates used to build
// notification bodies.
package templates

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aymerick/raymond"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/notifyd/internal/log"
)

var (
	ErrNotFound     = errors.New("template not found")
	ErrRegistration = errors.New("template registration failed")
	ErrRender       = errors.New("template render failed")
)

// Entry is a named template or partial as kept by a Source.
type Entry struct {
	Name    string
	Content string
}

// Source lists persisted templates and partials.
type Source interface {
	ListTemplates(ctx context.Context) ([]Entry, error)
	ListPartials(ctx context.Context) ([]Entry, error)
}

type compiled struct {
	content     string
	fingerprint string
	tpl         *raymond.Template
}

// registry is never mutated after it is published.
type registry struct {
	templates map[string]*compiled
	partials  map[string]*compiled
}

// Engine renders registered templates. Renders only take a read lock, so
// they never wait on each other.
type Engine struct {
	mu     sync.RWMutex
	reg    *registry
	logger *slog.Logger
}

// NewEngine returns an empty Engine. A nil logger uses the global one.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = log.WithComponent("templates")
	}
	return &Engine{
		reg:    &registry{templates: map[string]*compiled{}, partials: map[string]*compiled{}},
		logger: logger,
	}
}

// Render executes the named template against data. data is round-tripped
// through encoding/json so its JSON field names are what templates see.
func (e *Engine) Render(name string, data any) (string, error) {
	e.mu.RLock()
	c, ok := e.reg.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ctx, err := normalize(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRender, name, err)
	}

	out, err := c.tpl.Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRender, name, err)
	}
	return out, nil
}

// Register adds or replaces a template.
func (e *Engine) Register(name, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.reg.templates[name]; ok && cur.content == content {
		return nil
	}

	c, err := compile(content, e.reg.partials)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRegistration, name, err)
	}

	next := e.reg.clone()
	next.templates[name] = c
	e.reg = next
	return nil
}

// RegisterPartial adds or replaces a partial and recompiles the templates so
// they pick it up.
func (e *Engine) RegisterPartial(name, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.reg.partials[name]; ok && cur.content == content {
		return nil
	}

	p, err := compile(content, nil)
	if err != nil {
		return fmt.Errorf("%w: partial %s: %v", ErrRegistration, name, err)
	}

	next := e.reg.clone()
	next.partials[name] = p
	for tname, t := range next.templates {
		rebuilt, err := compile(t.content, next.partials)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRegistration, tname, err)
		}
		next.templates[tname] = rebuilt
	}
	e.reg = next
	return nil
}

// Names returns the registered template names in sorted order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.reg.templates))
	for name := range e.reg.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint returns "blake3:<hex>" of the registered content.
func (e *Engine) Fingerprint(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.reg.templates[name]
	if !ok {
		return "", false
	}
	return c.fingerprint, true
}

// LoadFrom registers every partial and template held by src. Entries that
// fail to compile are logged and skipped; a failing Source aborts the load.
func (e *Engine) LoadFrom(ctx context.Context, src Source) error {
	partials, err := src.ListPartials(ctx)
	if err != nil {
		return fmt.Errorf("list partials: %w", err)
	}
	tpls, err := src.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}

	for _, p := range partials {
		if err := e.RegisterPartial(p.Name, p.Content); err != nil {
			e.logger.Warn("skipping partial", "name", p.Name, "error", err)
		}
	}
	for _, t := range tpls {
		if err := e.Register(t.Name, t.Content); err != nil {
			e.logger.Warn("skipping template", "name", t.Name, "error", err)
		}
	}

	e.logger.Info("templates loaded", "templates", len(e.Names()), "partials", len(partials))
	return nil
}

func (r *registry) clone() *registry {
	next := &registry{
		templates: make(map[string]*compiled, len(r.templates)),
		partials:  make(map[string]*compiled, len(r.partials)),
	}
	for k, v := range r.templates {
		next.templates[k] = v
	}
	for k, v := range r.partials {
		next.partials[k] = v
	}
	return next
}

func compile(content string, partials map[string]*compiled) (c *compiled, err error) {
	// raymond panics on some malformed partial registrations
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	tpl, err := raymond.Parse(content)
	if err != nil {
		return nil, err
	}
	for name, p := range partials {
		tpl.RegisterPartialTemplate(name, p.tpl)
	}

	return &compiled{
		content:     content,
		fingerprint: Fingerprint(content),
		tpl:         tpl,
	}, nil
}

// Fingerprint hashes template content.
func Fingerprint(content string) string {
	sum := blake3.Sum256([]byte(content))
	return "blake3:" + hex.EncodeToString(sum[:])
}

func normalize(data any) (any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
