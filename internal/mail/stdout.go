package mail

import (
	"context"
	"fmt"
	"io"
	"os"
)

// StdoutSender writes emails to an io.Writer instead of delivering them.
// It is the default sender in development, where no SMTP host is configured.
type StdoutSender struct {
	Out io.Writer
}

// NewStdoutSender creates a StdoutSender writing to os.Stdout.
func NewStdoutSender() *StdoutSender {
	return &StdoutSender{Out: os.Stdout}
}

// Send implements Sender by printing the email.
func (s *StdoutSender) Send(_ context.Context, to, subject, body string) error {
	_, err := fmt.Fprintf(s.Out,
		"--------------------------------------------------\n"+
			"SENDING EMAIL\nTo: %s\nSubject: %s\nBody: %s\n"+
			"--------------------------------------------------\n",
		to, subject, body)
	return err
}
