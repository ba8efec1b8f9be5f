package server

import (
	"context"
	"net/http"
	"time"

	"github.com/mattjoyce/notifyd/internal/notify"
)

// Verifier authenticates a webhook delivery from its headers and raw body.
type Verifier interface {
	Verify(headers http.Header, body []byte) error
}

// Notifier processes an authenticated delivery.
type Notifier interface {
	Handle(ctx context.Context, req notify.Request) (notify.Outcome, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server settings.
type Config struct {
	Listen       string
	MaxBodySize  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath serves prometheus metrics when non-empty.
	MetricsPath string
}

// NotifyResponse is the JSON response for a processed webhook.
type NotifyResponse struct {
	Status  notify.Outcome `json:"status"`
	EventID string         `json:"event_id"`
}

// HealthResponse is the JSON response for liveness and readiness probes.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON response for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
	DefaultListen      = "127.0.0.1:8080"
)
