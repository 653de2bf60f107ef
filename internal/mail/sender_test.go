// ABOUTME: Tests for the delivery transports: stdout rendering and SMTP error paths.
// ABOUTME: TestSMTPSender_BasicDelivery requires Mailpit on localhost:1025 (skips if unavailable).
package mail_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rrbarrero/seeker/internal/mail"
)

func TestStdoutSender_WritesEmail(t *testing.T) {
	var buf bytes.Buffer
	s := &mail.StdoutSender{Out: &buf}

	if err := s.Send(context.Background(), "a@b.com", "Subject line", "Body text"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"To: a@b.com", "Subject: Subject line", "Body: Body text"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSMTPSender_BasicDelivery(t *testing.T) {
	s := mail.NewSMTPSender(mail.SMTPConfig{
		Host: "localhost",
		Port: 1025,
		From: "test@seeker.local",
	})
	err := s.Send(context.Background(), "recipient@example.com", "Test Subject", "Body")
	// If Mailpit is not running, skip rather than fail.
	if err != nil {
		t.Skipf("SMTP not available (Mailpit required): %v", err)
	}
}

func TestSMTPSender_InvalidHost(t *testing.T) {
	s := mail.NewSMTPSender(mail.SMTPConfig{
		Host: "localhost",
		Port: 19999, // unlikely to be listening
		From: "test@seeker.local",
	})
	if err := s.Send(context.Background(), "recipient@example.com", "Subject", "Body"); err == nil {
		t.Error("expected error for unreachable SMTP host")
	}
}

func TestSMTPSender_InvalidRecipient(t *testing.T) {
	s := mail.NewSMTPSender(mail.SMTPConfig{
		Host: "localhost",
		Port: 1025,
		From: "test@seeker.local",
	})
	if err := s.Send(context.Background(), "not an address", "Subject", "Body"); err == nil {
		t.Error("expected error for invalid recipient address")
	}
}
