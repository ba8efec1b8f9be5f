package mailer

import (
	"context"
	"fmt"
	"sync"
)

// Recorder is an in-memory Mailer that keeps every message it is asked to
// send. SendErr, when set, is returned (wrapped in ErrSMTPSend) instead.
type Recorder struct {
	From    string
	SendErr error

	mu   sync.Mutex
	sent []*Message
}

var _ Mailer = (*Recorder)(nil)

// NewRecorder returns a Recorder composing messages from origin.
func NewRecorder(origin string) *Recorder {
	return &Recorder{From: origin}
}

func (r *Recorder) CreateMail(email Email) (*Message, error) {
	return compose(r.From, email)
}

func (r *Recorder) SendMail(ctx context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SendErr != nil {
		return fmt.Errorf("%w: %w", ErrSMTPSend, r.SendErr)
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (r *Recorder) Sent() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Message(nil), r.sent...)
}

// Count returns the number of delivered messages.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}
