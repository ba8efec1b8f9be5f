package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// Mode selects how the connection to the relay is secured.
type Mode string

const (
	// ModeTLS uses implicit TLS (usually port 465) with credentials.
	ModeTLS Mode = "tls"
	// ModeStartTLS requires STARTTLS (usually port 587) with credentials.
	ModeStartTLS Mode = "starttls"
	// ModePlain speaks plaintext SMTP, for local catchers such as mailpit.
	ModePlain Mode = "plain"
)

// Config describes the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Mode     Mode
	From     string
	Timeout  time.Duration
}

// ClientTransport dials the relay for every send. It keeps only immutable
// options, so one value is shared by all request goroutines.
type ClientTransport struct {
	host string
	opts []mail.Option
}

// NewClientTransport validates cfg and prepares the go-mail client options.
func NewClientTransport(cfg Config) (*ClientTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}

	switch cfg.Mode {
	case ModeTLS:
		opts = append(opts, mail.WithSSL(), mail.WithPort(cfg.Port),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username), mail.WithPassword(cfg.Password))
	case ModeStartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username), mail.WithPassword(cfg.Password))
	case ModePlain:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
		if cfg.Username != "" {
			opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlainNoEnc),
				mail.WithUsername(cfg.Username), mail.WithPassword(cfg.Password))
		}
	default:
		return nil, fmt.Errorf("unknown smtp mode %q", cfg.Mode)
	}

	if _, err := mail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fmt.Errorf("smtp client options: %w", err)
	}
	return &ClientTransport{host: cfg.Host, opts: opts}, nil
}

func (t *ClientTransport) Send(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(t.host, t.opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
