// Package mail defines the email delivery capability consumed by the
// worker, with an SMTP implementation for production and a stdout
// implementation for local development.
package mail

import "context"

// Sender delivers a single email. Implementations report success or a
// descriptive failure; they perform no retries — redelivery is the queue's
// job, not the transport's.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
