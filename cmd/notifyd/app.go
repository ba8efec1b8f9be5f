package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/notifyd/internal/config"
	"github.com/mattjoyce/notifyd/internal/document"
	"github.com/mattjoyce/notifyd/internal/ledger"
	"github.com/mattjoyce/notifyd/internal/log"
	"github.com/mattjoyce/notifyd/internal/mailer"
	"github.com/mattjoyce/notifyd/internal/notify"
	"github.com/mattjoyce/notifyd/internal/server"
	"github.com/mattjoyce/notifyd/internal/shopify"
	"github.com/mattjoyce/notifyd/internal/storage"
	"github.com/mattjoyce/notifyd/internal/templates"
)

// app holds every long-lived component built from one Config.
type app struct {
	cfg       *config.Config
	store     storage.Store
	ledger    ledger.Ledger
	templates *templates.Engine
	server    *server.Server
	closers   []func() error
	logger    *slog.Logger
}

// buildApp wires the service. On error everything opened so far is closed.
func buildApp(ctx context.Context, cfg *config.Config, m mailer.Mailer) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log.WithComponent("main")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.ledger, err = a.buildLedger()
	if err != nil {
		return nil, err
	}

	a.templates = templates.NewEngine(log.WithComponent("templates"))
	if err := a.templates.LoadFrom(ctx, a.store); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	if m == nil {
		m, err = mailer.NewSMTP(mailer.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			Mode:     mailer.Mode(cfg.Mail.Mode),
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure mailer: %w", err)
		}
	}

	encoding, err := shopify.ParseSignatureEncoding(cfg.Shopify.SignatureEncoding)
	if err != nil {
		return nil, err
	}
	auth := shopify.NewAuthenticator(shopify.AuthConfig{
		ShopDomain:        cfg.Shopify.ShopDomain,
		WebhookSecret:     cfg.Shopify.WebhookSecret,
		APIVersion:        cfg.Shopify.APIVersion,
		SignatureEncoding: encoding,
	})

	pipeline := notify.New(a.ledger, a.templates, buildDocuments(cfg.Document), m, cfg.Ledger.ClaimLease)

	maxBody, err := config.ParseByteSize(cfg.HTTP.MaxBodySize)
	if err != nil {
		return nil, err
	}
	srvCfg := server.Config{
		Listen:       cfg.HTTP.Listen,
		MaxBodySize:  maxBody,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Path
	}
	a.server = server.New(srvCfg, auth, pipeline, a.store, log.WithComponent("http"))
	return a, nil
}

func (a *app) buildLedger() (ledger.Ledger, error) {
	switch a.cfg.Ledger.Driver {
	case "", "sql":
		return a.store, nil
	case "memory":
		a.logger.Warn("using in-memory ledger; processed events are forgotten on restart")
		return ledger.NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: a.cfg.Ledger.RedisAddr,
			DB:   a.cfg.Ledger.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		return ledger.NewRedis(client, a.cfg.Ledger.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", a.cfg.Ledger.Driver)
	}
}

func buildDocuments(cfg config.DocumentConfig) document.Renderer {
	var r document.Renderer
	switch cfg.Driver {
	case "gotenberg":
		r = document.NewGotenberg(cfg.GotenbergURL, cfg.Timeout)
	default:
		r = document.NewBuiltin()
	}
	return document.Limit(r, cfg.MaxConcurrent)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
