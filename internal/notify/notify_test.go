package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVerification() Verification {
	return Verification{
		From:      "admin@apicore",
		To:        "lemmy@liveui.io",
		Firstname: "Lemmy",
		Lastname:  "Kilmister",
		Token:     "abc-123_x",
		VerifyURL: "http://localhost:8080/users/verify",
		Signature: "Boost team",
	}
}

// =============================================================================
// Verification rendering
// =============================================================================

func TestVerification_Render(t *testing.T) {
	msg, err := testVerification().Render()
	require.NoError(t, err)

	link := "http://localhost:8080/users/verify?token=abc-123_x"
	wantText := "Hi Lemmy Kilmister\n" +
		"Please confirm your email lemmy@liveui.io by clicking on this link " + link + "\n" +
		"Verification code is: |abc-123_x|\n" +
		"Boost team"
	wantHTML := "<h1>Hi Lemmy Kilmister</h1>\n" +
		`<p>Please confirm your email lemmy@liveui.io by clicking on this <a href="` + link + `">link</a></p>` + "\n" +
		"<p>Verification code is: <strong>abc-123_x</strong></p>\n" +
		"<p>Boost team</p>"

	assert.Equal(t, "Registration", msg.Subject)
	assert.Equal(t, "admin@apicore", msg.From)
	assert.Equal(t, "lemmy@liveui.io", msg.To)
	assert.Equal(t, wantText, msg.Text)
	assert.Equal(t, wantHTML, msg.HTML)
}

func TestVerification_RenderEscapesHTML(t *testing.T) {
	v := testVerification()
	v.Firstname = "<script>"

	msg, err := v.Render()
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.Text, "<script>")
}

func TestVerification_BadURL(t *testing.T) {
	v := testVerification()
	v.VerifyURL = "http://[::1"

	_, err := v.Render()
	assert.Error(t, err)
}

func TestTokenFromText(t *testing.T) {
	msg, err := testVerification().Render()
	require.NoError(t, err)

	token, ok := TokenFromText(msg.Text)
	assert.True(t, ok)
	assert.Equal(t, "abc-123_x", token)

	_, ok = TokenFromText("no code here")
	assert.False(t, ok)
	_, ok = TokenFromText("empty ||")
	assert.False(t, ok)
}

// =============================================================================
// Notifiers
// =============================================================================

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_, ok := r.Last()
	assert.False(t, ok)

	require.NoError(t, r.Send(context.Background(), Message{To: "a"}))
	require.NoError(t, r.Send(context.Background(), Message{To: "b"}))

	last, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, "b", last.To)
	assert.Len(t, r.Messages(), 2)

	r.Err = errors.New("relay down")
	assert.Error(t, r.Send(context.Background(), Message{To: "c"}))
	assert.Len(t, r.Messages(), 2)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, n.Send(context.Background(), Message{To: "a"}))
}

func TestSMTPNotifier_Send(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 2525, Username: "u", Password: "p"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}

	msg, err := testVerification().Render()
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), msg))

	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "admin@apicore", gotFrom)
	assert.Equal(t, []string{"lemmy@liveui.io"}, gotTo)

	body := string(gotBody)
	assert.Contains(t, body, "Subject: Registration\r\n")
	assert.Contains(t, body, "Content-Type: multipart/alternative")
	assert.Contains(t, body, "text/plain; charset=utf-8")
	assert.Contains(t, body, "text/html; charset=utf-8")
	assert.Contains(t, body, "Verification code is: |abc-123_x|")
}

func TestSMTPNotifier_SendError(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 25})
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := n.Send(context.Background(), Message{From: "a@b", To: "c@d"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection refused"))
}

func TestSMTPNotifier_CancelledContext(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 25})
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be attempted")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Send(ctx, Message{}), context.Canceled)
}

func TestBuildMIME_Headers(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := buildMIME(Message{From: "a@b", To: "c@d", Subject: "Registration", Text: "t", HTML: "<p>h</p>"}, now)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "From: a@b\r\nTo: c@d\r\n"))
	assert.Contains(t, s, "Date: "+now.Format(time.RFC1123Z))
	assert.Contains(t, s, "MIME-Version: 1.0")
}
