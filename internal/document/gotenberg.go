package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	gotenbergHTMLRoute = "/forms/chromium/convert/html"
	maxPDFSize         = 32 << 20
)

// Gotenberg converts HTML through a Gotenberg server's Chromium route.
type Gotenberg struct {
	baseURL string
	http    *http.Client
}

// NewGotenberg returns a renderer posting to baseURL.
func NewGotenberg(baseURL string, timeout time.Duration) *Gotenberg {
	return &Gotenberg{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (g *Gotenberg) CreateDocument(ctx context.Context, html, title string) ([]byte, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, fmt.Errorf("%w: build form: %w", ErrDocument, err)
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, fmt.Errorf("%w: build form: %w", ErrDocument, err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("%w: build form: %w", ErrDocument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+gotenbergHTMLRoute, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Gotenberg-Output-Filename", title)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: gotenberg request: %w", ErrDocument, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: gotenberg returned %s", ErrDocument, resp.Status)
	}

	pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read gotenberg response: %w", ErrDocument, err)
	}
	if len(pdf) > maxPDFSize {
		return nil, fmt.Errorf("%w: gotenberg response exceeds %d bytes", ErrDocument, maxPDFSize)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return nil, fmt.Errorf("%w: gotenberg response is not a PDF", ErrDocument)
	}
	return pdf, nil
}
