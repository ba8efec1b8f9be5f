package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/notifyd/internal/metrics"
	"github.com/mattjoyce/notifyd/internal/notify"
	"github.com/mattjoyce/notifyd/internal/shopify"
)

type contextKey string

const bodyKey contextKey = "body"

// Server is the order webhook HTTP server.
type Server struct {
	config   Config
	verifier Verifier
	notifier Notifier
	pinger   Pinger
	logger   *slog.Logger
	server   *http.Server
}

// New creates a server. pinger may be nil when there is no store to probe.
func New(config Config, verifier Verifier, notifier Notifier, pinger Pinger, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	return &Server{
		config:   config,
		verifier: verifier,
		notifier: notifier,
		pinger:   pinger,
		logger:   logger,
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("http server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.config.MetricsPath != "" {
		r.Method(http.MethodGet, s.config.MetricsPath, metrics.Handler())
	}

	r.Route("/api/order", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/create", s.handleOrder(notify.FlowOrderCreated))
		r.Post("/cancel", s.handleOrder(notify.FlowOrderCancelled))
		r.Post("/fulfilled", s.handleOrder(notify.FlowOrderFulfilled))
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncHTTPRequest(route, ww.Status())
	})
}

// authenticate enforces the body limit and verifies the Shopify headers
// against the raw body before any handler runs.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if int64(len(body)) > s.config.MaxBodySize {
			s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}

		if err := s.verifier.Verify(r.Header, body); err != nil {
			var authErr *shopify.AuthError
			if errors.As(err, &authErr) {
				metrics.IncAuthFailure(string(authErr.Code))
				s.logger.Warn("webhook rejected",
					"path", r.URL.Path,
					"code", authErr.Code,
					"request_id", middleware.GetReqID(r.Context()),
				)
				s.respondError(w, http.StatusBadRequest, authErr.Error())
				return
			}
			s.logger.Warn("webhook rejected", "path", r.URL.Path, "error", err)
			s.respondError(w, http.StatusBadRequest, "bad request")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey, body)))
	})
}

func (s *Server) handleOrder(flow notify.Flow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := r.Context().Value(bodyKey).([]byte)
		event := shopify.EventFromHeaders(r.Header)

		outcome, err := s.notifier.Handle(r.Context(), notify.Request{
			Flow:  flow,
			Event: event,
			Body:  body,
		})
		if err != nil {
			if errors.Is(err, shopify.ErrInvalidPayload) {
				s.respondError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			s.logger.Error("order notification failed",
				"flow", string(flow),
				"event_id", event.EventID,
				"outcome", string(outcome),
				"request_id", middleware.GetReqID(r.Context()),
				"error", err,
			)
			s.respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		s.respondJSON(w, http.StatusOK, NotifyResponse{Status: outcome, EventID: event.EventID})
	}
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /ready by probing the store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness probe failed", "error", err)
			s.respondError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
