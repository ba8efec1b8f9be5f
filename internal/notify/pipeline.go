package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/notifyd/internal/document"
	"github.com/mattjoyce/notifyd/internal/ledger"
	"github.com/mattjoyce/notifyd/internal/log"
	"github.com/mattjoyce/notifyd/internal/mailer"
	"github.com/mattjoyce/notifyd/internal/metrics"
	"github.com/mattjoyce/notifyd/internal/shopify"
)

var (
	// ErrDuplicateEvent marks an event another delivery already owns.
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrUnknownFlow is returned for a Flow with no registered handling.
	ErrUnknownFlow = errors.New("unknown notification flow")
	// ErrMissingEventID is returned when a request carries no event id.
	ErrMissingEventID = errors.New("event id is empty")
)

// DefaultClaimLease bounds how long an in-flight claim blocks redeliveries.
const DefaultClaimLease = 2 * time.Minute

// Renderer renders a registered template.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// Request is one authenticated webhook delivery.
type Request struct {
	Flow  Flow
	Event shopify.WebhookEvent
	Body  []byte
}

// Outcome reports what Handle did with a request.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDuplicate Outcome = "duplicate"
)

// Pipeline turns an order webhook into exactly one customer email per event.
type Pipeline struct {
	ledger    ledger.Ledger
	templates Renderer
	documents document.Renderer
	mailer    mailer.Mailer
	lease     time.Duration
}

// New creates a Pipeline. A zero lease uses DefaultClaimLease.
func New(l ledger.Ledger, t Renderer, d document.Renderer, m mailer.Mailer, lease time.Duration) *Pipeline {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &Pipeline{
		ledger:    l,
		templates: t,
		documents: d,
		mailer:    m,
		lease:     lease,
	}
}

// Handle processes one delivery. A duplicate is a success with
// OutcomeDuplicate and no side effects. On any failure before the email is
// handed to the relay the claim is released so a redelivery is processed
// again. If the email went out but the event could not be recorded, Handle
// returns OutcomeSent together with the error.
func (p *Pipeline) Handle(ctx context.Context, req Request) (Outcome, error) {
	f, ok := flows[req.Flow]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFlow, req.Flow)
	}
	if req.Event.EventID == "" {
		return "", ErrMissingEventID
	}

	order, err := shopify.DecodeOrder(req.Body)
	if err != nil {
		metrics.IncWebhook(string(req.Flow), "invalid")
		return "", err
	}

	logger := log.WithEvent(req.Event.EventID).With(
		"component", "notify",
		"topic", req.Event.Topic,
		"flow", string(req.Flow),
	)

	claim, err := p.claim(ctx, req.Event.EventID)
	if errors.Is(err, ErrDuplicateEvent) {
		logger.Info("duplicate event skipped", "duplicate", true)
		metrics.IncWebhook(string(req.Flow), "duplicate")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		metrics.IncWebhook(string(req.Flow), "error")
		return "", err
	}

	if err := p.deliver(ctx, f, order); err != nil {
		p.release(ctx, claim, logger)
		logger.Error("notification failed", "duplicate", false, "error", err)
		metrics.IncWebhook(string(req.Flow), "error")
		return "", err
	}

	if err := p.ledger.Complete(ctx, claim); err != nil {
		logger.Error("notification sent but event not recorded", "duplicate", false, "error", err)
		metrics.IncWebhook(string(req.Flow), "unrecorded")
		return OutcomeSent, fmt.Errorf("record event: %w", err)
	}

	logger.Info("notification sent", "duplicate", false, "order_number", order.OrderNumber)
	metrics.IncWebhook(string(req.Flow), "sent")
	return OutcomeSent, nil
}

func (p *Pipeline) claim(ctx context.Context, eventID string) (ledger.Claim, error) {
	c, first, err := p.ledger.Claim(ctx, eventID, p.lease)
	if err != nil {
		return ledger.Claim{}, fmt.Errorf("claim event: %w", err)
	}
	if !first {
		return ledger.Claim{}, ErrDuplicateEvent
	}
	return c, nil
}

// release runs even when the request context is already cancelled.
func (p *Pipeline) release(ctx context.Context, c ledger.Claim, logger *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.ledger.Release(rctx, c); err != nil {
		logger.Warn("release claim failed", "error", err)
	}
}

func (p *Pipeline) deliver(ctx context.Context, f flow, order *shopify.Order) error {
	email := mailer.Email{
		To:      order.Recipient(),
		Subject: fmt.Sprintf(f.subject, order.OrderNumber),
	}

	if f.invoice {
		invoice, err := p.templates.Render(invoiceTemplate, order.Raw)
		if err != nil {
			return fmt.Errorf("render invoice: %w", err)
		}
		pdf, err := p.documents.CreateDocument(ctx, invoice, invoiceTitle)
		if err != nil {
			return fmt.Errorf("create invoice document: %w", err)
		}
		email.Attachment = pdf
	}

	body, err := p.templates.Render(f.template, order.Raw)
	if err != nil {
		return fmt.Errorf("render %s: %w", f.template, err)
	}
	email.HTMLBody = body

	msg, err := p.mailer.CreateMail(email)
	if err != nil {
		return fmt.Errorf("compose email: %w", err)
	}
	if err := p.mailer.SendMail(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
