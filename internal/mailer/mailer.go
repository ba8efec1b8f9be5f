// Package mailer composes notification emails and delivers them over SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/mattjoyce/notifyd/internal/metrics"
)

//go:generate mockgen -destination=mocks/mock_mailer.go -package=mocks github.com/mattjoyce/notifyd/internal/mailer Mailer,Transport

// Compose errors.
var (
	ErrInvalidOriginEmail    = errors.New("invalid origin email address")
	ErrInvalidRecipientEmail = errors.New("invalid recipient email address")
	ErrInvalidAttachment     = errors.New("invalid attachment")
	ErrBuildEmail            = errors.New("failed to build email")
)

// ErrSMTPSend wraps every delivery failure.
var ErrSMTPSend = errors.New("smtp send failed")

// AttachmentName is the file name given to every attachment.
const AttachmentName = "invoice.pdf"

const contentTypePDF mail.ContentType = "application/pdf"

// Email is the logical notification to compose.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
	// Attachment holds PDF bytes; nil means no attachment.
	Attachment []byte
}

// Message is a composed email ready for delivery.
type Message struct {
	msg           *mail.Msg
	To            string
	Subject       string
	HasAttachment bool
}

// WriteTo writes the RFC 5322 encoding of the message to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	return m.msg.WriteTo(w)
}

// Mailer composes and delivers messages.
type Mailer interface {
	CreateMail(email Email) (*Message, error)
	SendMail(ctx context.Context, msg *Message) error
}

// Transport delivers one go-mail message.
type Transport interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTP is the network-backed Mailer.
type SMTP struct {
	from      string
	transport Transport
	timeout   time.Duration
}

var _ Mailer = (*SMTP)(nil)

// New returns a Mailer sending from origin through t. Each SendMail is bounded
// by timeout.
func New(origin string, t Transport, timeout time.Duration) *SMTP {
	return &SMTP{from: origin, transport: t, timeout: timeout}
}

// NewSMTP returns a Mailer delivering through the relay described by cfg.
func NewSMTP(cfg Config) (*SMTP, error) {
	t, err := NewClientTransport(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg.From, t, cfg.Timeout), nil
}

func (s *SMTP) CreateMail(email Email) (*Message, error) {
	return compose(s.from, email)
}

func (s *SMTP) SendMail(ctx context.Context, msg *Message) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.transport.Send(ctx, msg.msg)
	metrics.ObserveMailSend(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSMTPSend, err)
	}
	return nil
}

func compose(from string, email Email) (*Message, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOriginEmail, err)
	}
	if err := m.To(email.To); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipientEmail, err)
	}
	m.Subject(email.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, email.HTMLBody)

	if email.Attachment != nil {
		if !bytes.HasPrefix(email.Attachment, []byte("%PDF")) {
			return nil, fmt.Errorf("%w: content is not a PDF", ErrInvalidAttachment)
		}
		if err := m.AttachReader(AttachmentName, bytes.NewReader(email.Attachment), mail.WithFileContentType(contentTypePDF)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
		}
	}

	if _, err := m.WriteTo(io.Discard); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildEmail, err)
	}

	return &Message{
		msg:           m,
		To:            email.To,
		Subject:       email.Subject,
		HasAttachment: email.Attachment != nil,
	}, nil
}
