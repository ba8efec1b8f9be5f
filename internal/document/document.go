// Package document turns rendered HTML into PDF bytes.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/notifyd/internal/metrics"
)

// ErrDocument wraps every conversion failure.
var ErrDocument = errors.New("document render failed")

// Renderer converts an HTML document into a PDF titled title.
type Renderer interface {
	CreateDocument(ctx context.Context, html, title string) ([]byte, error)
}

// Limit bounds the number of concurrent CreateDocument calls on r to n.
// Waiting callers give up when their context ends.
func Limit(r Renderer, n int) Renderer {
	if n < 1 {
		n = 1
	}
	return &limited{next: r, sem: make(chan struct{}, n)}
}

type limited struct {
	next Renderer
	sem  chan struct{}
}

func (l *limited) CreateDocument(ctx context.Context, html, title string) ([]byte, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for render slot: %w", ErrDocument, ctx.Err())
	}
	defer func() { <-l.sem }()

	start := time.Now()
	pdf, err := l.next.CreateDocument(ctx, html, title)
	metrics.ObserveDocumentRender(time.Since(start))
	return pdf, err
}
