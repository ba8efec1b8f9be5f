package mailer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"github.com/mattjoyce/notifyd/internal/mailer"
	"github.com/mattjoyce/notifyd/internal/mailer/mocks"
)

const origin = "Orders <orders@example.com>"

var fakePDF = []byte("%PDF-1.3\n%fake\n")

type partSummary struct {
	html        int
	attachments []string
	pdfs        int
}

func summarize(t *testing.T, msg *mailer.Message) partSummary {
	t.Helper()

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(&buf)
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)

	var s partSummary
	if !strings.HasPrefix(mediaType, "multipart/") {
		if mediaType == "text/html" {
			s.html++
		}
		return s
	}

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		pt, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		require.NoError(t, err)
		switch {
		case pt == "text/html":
			s.html++
		case pt == "application/pdf":
			s.pdfs++
		}
		if name := part.FileName(); name != "" {
			s.attachments = append(s.attachments, name)
		}
	}
	return s
}

func TestCreateMailWithAttachment(t *testing.T) {
	m := mailer.NewRecorder(origin)
	msg, err := m.CreateMail(mailer.Email{
		To:         "John Doe <a@b.com>",
		Subject:    "#1: Your order has been fulfilled",
		HTMLBody:   "<p>shipped</p>",
		Attachment: fakePDF,
	})
	require.NoError(t, err)
	assert.True(t, msg.HasAttachment)

	s := summarize(t, msg)
	assert.Equal(t, 1, s.html)
	assert.Equal(t, 1, s.pdfs)
	assert.Equal(t, []string{"invoice.pdf"}, s.attachments)
}

func TestCreateMailWithoutAttachment(t *testing.T) {
	m := mailer.NewRecorder(origin)
	msg, err := m.CreateMail(mailer.Email{
		To:       "a@b.com",
		Subject:  "#1: We have received your order",
		HTMLBody: "<p>thanks</p>",
	})
	require.NoError(t, err)
	assert.False(t, msg.HasAttachment)

	s := summarize(t, msg)
	assert.Equal(t, 1, s.html)
	assert.Zero(t, s.pdfs)
	assert.Empty(t, s.attachments)
}

func TestCreateMailHeaders(t *testing.T) {
	msg, err := mailer.NewRecorder(origin).CreateMail(mailer.Email{
		To:       "John Doe <a@b.com>",
		Subject:  "#7: Your order has been cancelled",
		HTMLBody: "<p>bye</p>",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	parsed, err := mail.ReadMessage(&buf)
	require.NoError(t, err)

	from, err := mail.ParseAddress(parsed.Header.Get("From"))
	require.NoError(t, err)
	assert.Equal(t, "orders@example.com", from.Address)

	to, err := mail.ParseAddress(parsed.Header.Get("To"))
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", to.Address)
	assert.Equal(t, "John Doe", to.Name)

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "#7: Your order has been cancelled", subject)
}

func TestCreateMailInvalidOriginSkipsTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No EXPECT: any Send call fails the test.
	transport := mocks.NewMockTransport(ctrl)
	m := mailer.New("not an address", transport, time.Second)

	_, err := m.CreateMail(mailer.Email{To: "a@b.com", Subject: "s", HTMLBody: "<p/>"})
	assert.ErrorIs(t, err, mailer.ErrInvalidOriginEmail)
}

func TestCreateMailRejects(t *testing.T) {
	m := mailer.NewRecorder(origin)

	_, err := m.CreateMail(mailer.Email{To: "nobody", Subject: "s", HTMLBody: "<p/>"})
	assert.ErrorIs(t, err, mailer.ErrInvalidRecipientEmail)

	_, err = m.CreateMail(mailer.Email{To: "a@b.com", Subject: "s", HTMLBody: "<p/>", Attachment: []byte("PK zip")})
	assert.ErrorIs(t, err, mailer.ErrInvalidAttachment)

	_, err = m.CreateMail(mailer.Email{To: "a@b.com", Subject: "s", HTMLBody: "<p/>", Attachment: []byte{}})
	assert.ErrorIs(t, err, mailer.ErrInvalidAttachment)
}

func TestSendMailDelegatesToTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	m := mailer.New(origin, transport, 10*time.Second)

	msg, err := m.CreateMail(mailer.Email{To: "a@b.com", Subject: "s", HTMLBody: "<p/>"})
	require.NoError(t, err)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, gm *gomail.Msg) error {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok, "send must be bounded by a deadline")
		assert.WithinDuration(t, time.Now().Add(10*time.Second), deadline, time.Second)
		return nil
	}).Times(1)

	require.NoError(t, m.SendMail(context.Background(), msg))
}

func TestSendMailWrapsTransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	m := mailer.New(origin, transport, time.Second)
	msg, err := m.CreateMail(mailer.Email{To: "a@b.com", Subject: "s", HTMLBody: "<p/>"})
	require.NoError(t, err)

	refused := errors.New("connection refused")
	transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(refused).Times(1)

	err = m.SendMail(context.Background(), msg)
	assert.ErrorIs(t, err, mailer.ErrSMTPSend)
	assert.ErrorIs(t, err, refused)
}

func TestRecorderCountsSends(t *testing.T) {
	r := mailer.NewRecorder(origin)
	msg, err := r.CreateMail(mailer.Email{To: "a@b.com", Subject: "hello", HTMLBody: "<p/>"})
	require.NoError(t, err)

	require.NoError(t, r.SendMail(context.Background(), msg))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, "hello", r.Sent()[0].Subject)

	r.SendErr = errors.New("down")
	assert.ErrorIs(t, r.SendMail(context.Background(), msg), mailer.ErrSMTPSend)
	assert.Equal(t, 1, r.Count())
}

func TestNewClientTransportModes(t *testing.T) {
	for _, mode := range []mailer.Mode{mailer.ModeTLS, mailer.ModeStartTLS, mailer.ModePlain} {
		_, err := mailer.NewClientTransport(mailer.Config{Host: "localhost", Port: 1025, Mode: mode, Username: "u", Password: "p"})
		assert.NoError(t, err, "mode %s", mode)
	}

	_, err := mailer.NewClientTransport(mailer.Config{Host: "localhost", Port: 25, Mode: "ssl"})
	assert.Error(t, err)

	_, err = mailer.NewClientTransport(mailer.Config{Port: 25, Mode: mailer.ModePlain})
	assert.Error(t, err)
}
